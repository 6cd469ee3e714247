package program

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

// User-facing copy of the broadcasts.
const (
	MorningFallback  = "☀️ ВСТАВАЙ, САМУРАЙ.\nЦель сама себя не достигнет."
	LockedNotice     = "(🔒 Доступ к Курсу закрыт. Оплати, чтобы получить задание.)"
	MorningTail      = "👇 Напиши 3 главные задачи на сегодня:"
	EveningFallback  = "🌙 22:00. ОТЧЕТ.\nТы сделал то, что должен был?"
	CompletionNotice = "🎉 ПРОТОКОЛ 7 ЗАВЕРШЕН.\nТы выжил. Теперь начинается настоящая игра.\nЖди обновлений..."
	DoneLabel        = "✅ ВЫПОЛНИЛ"
)

// ScoreOption is one button of the evening self assessment.
type ScoreOption struct {
	Score int
	Label string
}

// ScoreOptions are offered by the evening broadcast, best first.
var ScoreOptions = []ScoreOption{
	{100, "🔥 Да, я красавчик (100%)"},
	{50, "😐 Ну так... (50%)"},
	{0, "💀 День в унитаз (0%)"},
}

const morningSystem = "ТЫ — ВОЕННЫЙ БУДИЛЬНИК. Напиши утреннее сообщение (короткое, 2-3 строки). " +
	"Задача: Заставить человека встать и уничтожить этот день. Стиль: Агрессивная мотивация."

const eveningSystem = "ТЫ — СТРОГИЙ АУДИТОР. Спроси человека, как прошел день. " +
	"Ты не веришь оправданиям. Стиль: Холодный, требующий правды. Коротко."

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func morningContext(p *models.Profile) string {
	return fmt.Sprintf("Подопечный: %s.\nЕго цель: %s.\nЕго страх: %s.",
		orDefault(p.Name(), "Агент"), orDefault(p.Goal, "Не выбрана"), orDefault(p.Fear, "Быть никем"))
}

func eveningContext(p *models.Profile) string {
	return fmt.Sprintf("Пользователь: %s.\nЦена провала: %s.",
		orDefault(p.Name(), "Агент"), orDefault(p.Price, "Жизнь в нищете"))
}

// PremiumText formats fixed day content for an active subscriber.
func PremiumText(d DayContent, goal string) string {
	return fmt.Sprintf("☀️ ДЕНЬ %d: %s\n\n%s\n\nЦель: %s", d.Day, d.Title, d.Task, orDefault(goal, "не выбрана"))
}

// DayChoice is the acknowledgement button attached to day content.
func DayChoice(day int) models.Choice {
	return models.Choice{ID: models.PrefixCompleteDay + strconv.Itoa(day), Label: DoneLabel}
}

// ScoreChoices builds the evening buttons for date (YYYY-MM-DD).
func ScoreChoices(date string) []models.Choice {
	out := make([]models.Choice, len(ScoreOptions))
	for i, o := range ScoreOptions {
		out[i] = models.Choice{ID: ScoreChoiceID(o.Score, date), Label: o.Label}
	}
	return out
}

// ScoreChoiceID encodes a score and the date it belongs to: report_100_2025-01-02.
func ScoreChoiceID(score int, date string) string {
	return fmt.Sprintf("%s%d_%s", models.PrefixScore, score, date)
}

// ParseScoreChoice decodes a score choice id. Only scores in ScoreOptions are
// accepted. A missing date returns "".
func ParseScoreChoice(id string) (score int, date string, ok bool) {
	rest, found := strings.CutPrefix(id, models.PrefixScore)
	if !found {
		return 0, "", false
	}
	num, date, _ := strings.Cut(rest, "_")
	score, err := strconv.Atoi(num)
	if err != nil {
		return 0, "", false
	}
	for _, o := range ScoreOptions {
		if o.Score == score {
			return score, date, true
		}
	}
	return 0, "", false
}
