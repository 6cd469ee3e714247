package flow

import "github.com/BTreeMap/AlterEgo/internal/models"

// Static copy used when no generated text is available or needed.
const (
	TextSessionClosed  = "Сеанс завершен."
	TextBrainOffline   = "🧠 Мозг не подключен."
	TextPersistFailed  = "⚠️ Не удалось сохранить. Отправь ответ еще раз."
	TextArchiveFailed  = "⚠️ Архив недоступен. Попробуй позже."
	TextNeedText       = "✍️ Нужен текстовый ответ."
	TextNeedChoice     = "👇 Выбери вариант из списка."
	TextCancelled      = "❌ Отменено."
	TextStaleChoice    = "⌛ Эта кнопка устарела. Открой меню: /menu"
	TextMenuHint       = "Не понял команду. Открой меню: /menu"
	TextNoDayContent   = "❌ Нет контента для этого дня."
	TextSetEnergyUsage = "Использование: /set_energy <число 1-10>"
	TextDayDone        = "✅ ВЫПОЛНЕНО"
	TextContractsEmpty = "📂 Архив пуст.\nТы пока никому ничего не должен."
	TextContractsCut   = "\n...(список обрезан, слишком много сделок)..."
	TextPlanFallback   = "📝 Генерация Плана\n(В разработке)."
	TextKickFallback   = "Вставай и делай. Хватит ждать."
	TextUnlockPending  = "💳 Оплата подтверждается платежным сервисом.\nПодписка откроется автоматически после подтверждения."
	TextChatOnlyText   = "Пиши текстом. Для выхода напиши «стоп»."
	TextAccessGranted  = "🔓 ДОСТУП РАЗРЕШЕН.\n⏳ Извлечение архива..."
)

// contractListLimit caps the contract archive message.
const contractListLimit = 4000

// QuickWins are the one-shot tasks of the quick win control.
var QuickWins = []string{
	"Выпей стакан воды. Прямо сейчас.",
	"Сделай 10 отжиманий. Кровь должна двигаться.",
	"Удали 3 ненужных фото из галереи.",
	"Напиши одному важному человеку 'Спасибо'.",
	"Прочитай 2 страницы любой книги.",
	"Выпрями спину.",
}

func mainMenu() []models.Choice {
	return []models.Choice{
		{ID: string(models.CommandHubBrain), Label: "🧠 ЦЕНТР УПРАВЛЕНИЯ"},
		{ID: string(models.CommandHubAction), Label: "⚡ ПОЛИГОН"},
		{ID: string(models.CommandHubArchive), Label: "🏛 АРХИВ"},
	}
}

func brainMenu() []models.Choice {
	return []models.Choice{
		{ID: string(models.CommandPerspective), Label: "👁 Сдвиг Перспективы"},
		{ID: string(models.CommandPlan), Label: "📝 План Действий"},
		{ID: string(models.CommandMindprint), Label: "🧬 Mindprint (Скан)"},
		{ID: string(models.CommandPersonalAI), Label: "🤖 Личный ИИ"},
	}
}

func actionMenu() []models.Choice {
	return []models.Choice{
		{ID: string(models.CommandQuickWin), Label: "⚔️ Быстрая Победа"},
		{ID: string(models.CommandWinLog), Label: "🏆 Журнал Побед"},
		{ID: string(models.CommandKick), Label: "⚡ Волшебный Пинок"},
	}
}

func archiveMenu() []models.Choice {
	return []models.Choice{
		{ID: string(models.CommandContracts), Label: "📜 Контракты"},
		{ID: string(models.CommandLegacy), Label: "🕯️ Наследие"},
		{ID: string(models.CommandStats), Label: "📊 Статистика"},
	}
}

func contractsMenu() []models.Choice {
	return []models.Choice{
		{ID: string(models.CommandContractNew), Label: "✍️ Заключить Новый"},
		{ID: string(models.CommandContractLs), Label: "🗂 Мои Сделки"},
	}
}
