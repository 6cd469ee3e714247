package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/AlterEgo/internal/genai"
	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/program"
	"github.com/BTreeMap/AlterEgo/internal/render"
)

// control is a one-shot companion handler. Controls never read or write the session.
type control func(ctx context.Context, e *Engine, req *request) []models.Effect

func defaultControls() map[models.Command]control {
	return map[models.Command]control{
		models.CommandStart:      handleStart,
		models.CommandMenu:       handleMenu,
		models.CommandHubBrain:   staticMenu("🧠 Центр Управления\nМышление и Стратегия.", brainMenu),
		models.CommandHubAction:  staticMenu("⚡ Полигон\nДействие и Энергия.", actionMenu),
		models.CommandHubArchive: staticMenu("🏛 Архив\nИстория и Обязательства.", archiveMenu),
		models.CommandContracts:  staticMenu("⚖️ Бюро Контрактов", contractsMenu),
		models.CommandContractLs: handleContractList,
		models.CommandQuickWin:   handleQuickWin,
		models.CommandKick:       handleKick,
		models.CommandPlan:       handlePlan,
		models.CommandStats:      handleStats,
		models.CommandBlackbox:   handleBlackbox,
		models.CommandUnlock:     handleUnlock,
		models.CommandTestDay:    handleTestDay,
		models.CommandSetEnergy:  handleSetEnergy,
		cmdCompleteDay:           handleCompleteDay,
		cmdScore:                 handleScore,
	}
}

func handleStart(_ context.Context, _ *Engine, req *request) []models.Effect {
	name := orDefault(req.profile.Name(), orDefault(req.ev.DisplayName, "друг"))
	text := "🧬 СИСТЕМА ALTER-EGO АКТИВИРОВАНА\n\n" +
		fmt.Sprintf("Привет, %s. Я — твой цифровой двойник.\n", name) +
		"Та версия тебя, которая не знает лени.\n\n" +
		"Что мы делаем сегодня?"
	return []models.Effect{models.SendText(text, mainMenu()...)}
}

func handleMenu(context.Context, *Engine, *request) []models.Effect {
	return []models.Effect{models.SendText("🧬 ALTER-EGO\nВыбери раздел:", mainMenu()...)}
}

func staticMenu(text string, choices func() []models.Choice) control {
	return func(context.Context, *Engine, *request) []models.Effect {
		return []models.Effect{models.SendText(text, choices()...)}
	}
}

func handleContractList(ctx context.Context, e *Engine, req *request) []models.Effect {
	contracts, err := e.store.ListContracts(ctx, req.ev.UserID)
	if err != nil {
		slog.Error("Engine.handleContractList: store failed", "userID", req.ev.UserID, "error", err)
		return []models.Effect{models.SendText(TextArchiveFailed)}
	}
	return []models.Effect{models.SendText(contractList(contracts))}
}

func handleQuickWin(_ context.Context, e *Engine, _ *request) []models.Effect {
	task := QuickWins[e.intn(len(QuickWins))]
	return []models.Effect{models.SendText(fmt.Sprintf("⚔️ ТВОЯ ЦЕЛЬ:\n\n%s\n\nСделай это. Потом возвращайся.", task))}
}

func handleKick(ctx context.Context, e *Engine, req *request) []models.Effect {
	pain, fear := "Лень", "Быть никем"
	if p := req.profile; p != nil {
		pain, fear = orDefault(p.Pain, pain), orDefault(p.Fear, fear)
	}
	system := "ТЫ — ГНЕВНЫЙ ТРЕНЕР. Твой ученик ноет.\n" +
		"Наори на него. Скажи ему правду. 2-3 жестких предложения.\n" +
		"Используй 'Ты'. Заставь его двигаться."
	user := fmt.Sprintf("Его проблема: %s. Его страх: %s.", pain, fear)
	return []models.Effect{models.SendText("🔊 НЕЙРО-ПИНОК\n\n" + e.generate(ctx, system, user, TextKickFallback))}
}

func handlePlan(ctx context.Context, e *Engine, req *request) []models.Effect {
	goal := ""
	if req.profile != nil {
		goal = req.profile.Goal
	}
	if strings.TrimSpace(goal) == "" {
		return []models.Effect{models.SendText(TextPlanFallback)}
	}
	system := "Ты — жесткий, но справедливый коуч. Твоя цель — заставить пользователя действовать. Не жалей его.\n" +
		"Составь план действий на неделю, исходя из целей пользователя. 3 главных шага."
	plan := e.generate(ctx, system, "Цель: "+goal, "")
	if plan == "" {
		return []models.Effect{models.SendText(TextPlanFallback)}
	}
	return []models.Effect{models.SendText("📝 План Действий\n\n" + plan)}
}

// statsWindow is how many recent scores the stats view shows.
const statsWindow = 7

func handleStats(ctx context.Context, e *Engine, req *request) []models.Effect {
	scores, err := e.store.RecentScores(ctx, req.ev.UserID, statsWindow)
	if err != nil {
		slog.Error("Engine.handleStats: store failed", "userID", req.ev.UserID, "error", err)
		return []models.Effect{models.SendText(TextArchiveFailed)}
	}
	return []models.Effect{models.SendText(statsText(scores))}
}

// statsText lists scores oldest first with their average.
func statsText(scores []models.DayScore) string {
	if len(scores) == 0 {
		return "📊 Статистика\n\nДанных пока нет. Оцени свой день вечером."
	}
	var b strings.Builder
	b.WriteString("📊 Статистика\n\n")
	total := 0
	for _, s := range scores {
		fmt.Fprintf(&b, "%s  %s %d%%\n", s.Date, bar(s.Score), s.Score)
		total += s.Score
	}
	fmt.Fprintf(&b, "\nСреднее: %.1f%%", float64(total)/float64(len(scores)))
	return b.String()
}

func bar(score int) string {
	filled := min(max(score, 0), 100) / 10
	return strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
}

func handleBlackbox(_ context.Context, e *Engine, req *request) []models.Effect {
	goal, barrier := "НЕ ОПРЕДЕЛЕНА", "НЕ ОПРЕДЕЛЕН"
	if p := req.profile; p != nil {
		goal, barrier = orDefault(p.Goal, goal), orDefault(p.Fear, barrier)
	}
	risk := "ВЫСОКИЙ"
	if goal == "НЕ ОПРЕДЕЛЕНА" {
		risk = "КРИТИЧЕСКИЙ"
	}
	teaser := "⚠️ ОБНАРУЖЕНА КРИТИЧЕСКАЯ УЯЗВИМОСТЬ\n\n" +
		"Система проанализировала твои паттерны.\n" +
		"Результат скрыт в защищенном контейнере.\n\n" +
		"Фрагменты отчета:\n" +
		fmt.Sprintf("🔴 Уровень риска: %s\n", risk) +
		fmt.Sprintf("🎯 Цель под угрозой: %s\n", goal) +
		fmt.Sprintf("🚫 Главный ментальный барьер: %s\n\n", barrier) +
		"Внутри ящика:\n" +
		"1. Твоя главная ошибка мышления.\n" +
		"2. Точная сумма денег, которую ты теряешь ежедневно.\n" +
		"3. Алгоритм взлома твоей реальности."
	unlock := models.Choice{ID: string(models.CommandUnlock), Label: "🔓 ОТКРЫТЬ ЯЩИК (PREMIUM)"}
	f := render.Fields{Title: "ENCRYPTED FILE", Footer: "UNLOCK TO VIEW PROTOCOL"}
	return e.card(render.CardBlackbox, "", f, teaser, "", unlock)
}

func handleUnlock(ctx context.Context, e *Engine, req *request) []models.Effect {
	if !e.devUnlock {
		return []models.Effect{models.SendText(TextUnlockPending)}
	}
	_, effects, err := e.activate(ctx, req.ev.UserID)
	if err != nil {
		slog.Error("Engine.handleUnlock: activation failed", "userID", req.ev.UserID, "error", err)
		return []models.Effect{models.SendText(TextPersistFailed)}
	}
	return effects
}

// Activate starts or extends the user's subscription, typically after a
// confirmed payment, and returns the decrypted report to deliver.
func (e *Engine) Activate(ctx context.Context, userID string) (*models.Profile, []models.Effect, error) {
	unlock := e.locks.lock(userID)
	defer unlock()
	return e.activate(ctx, userID)
}

func (e *Engine) activate(ctx context.Context, userID string) (*models.Profile, []models.Effect, error) {
	p, err := e.store.ActivateSubscription(ctx, userID, e.now(), e.period)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to activate subscription: %w", err)
	}
	slog.Info("Engine.activate: subscription activated", "userID", userID, "expiry", p.SubscriptionExpiry)
	return p, append([]models.Effect{models.SendText(TextAccessGranted)}, e.Report(ctx, p)...), nil
}

// Report generates the decrypted blackbox report for p.
func (e *Engine) Report(ctx context.Context, p *models.Profile) []models.Effect {
	unknown := "Неизвестно"
	user := fmt.Sprintf("Данные: %s, %s, %s, %s",
		orDefault(p.Pain, unknown), orDefault(p.Fear, unknown), orDefault(p.Goal, unknown), orDefault(p.Price, unknown))
	system := "Ты - Alter Ego. Пользователь купил доступ.\n" +
		"Сгенерируй отчет: 1. Ошибка, 2. Потери, 3. Алгоритм.\n" +
		"Стиль: Жесткий, по фактам."
	content := e.generate(ctx, system, user, "Симуляция отчета (ИИ выключен).")
	return []models.Effect{models.SendText(fmt.Sprintf("🔓 DECRYPTED DATA // USER: %s\n\n%s", p.UserID, content))}
}

func handleCompleteDay(ctx context.Context, e *Engine, req *request) []models.Effect {
	day, err := strconv.Atoi(req.arg)
	if err != nil || day < 1 {
		return []models.Effect{models.SendText(TextStaleChoice)}
	}
	if err := e.store.SetLastCompletedDay(ctx, req.ev.UserID, day); err != nil {
		slog.Error("Engine.handleCompleteDay: store failed", "userID", req.ev.UserID, "day", day, "error", err)
		return []models.Effect{models.SendText(TextPersistFailed)}
	}

	var effects []models.Effect
	if content, ok := e.catalog.Day(day); ok {
		goal := ""
		if req.profile != nil {
			goal = req.profile.Goal
		}
		effects = append(effects, models.EditLast(program.PremiumText(content, goal)+"\n\n"+TextDayDone))
	}
	effects = append(effects, models.SendText(fmt.Sprintf("День %d засчитан. Красава.", day)))

	if day == e.catalog.Last() {
		first, err := e.store.MarkProgramCompleted(ctx, req.ev.UserID, e.now())
		if err != nil {
			slog.Error("Engine.handleCompleteDay: completion mark failed", "userID", req.ev.UserID, "error", err)
		} else if first {
			effects = append(effects, models.SendText(program.CompletionNotice))
		}
	}
	return effects
}

func handleScore(ctx context.Context, e *Engine, req *request) []models.Effect {
	score, date, ok := program.ParseScoreChoice(req.arg)
	if !ok {
		return []models.Effect{models.SendText(TextStaleChoice)}
	}
	if date == "" {
		date = e.today()
	}
	recorded, err := e.store.RecordDayScore(ctx, req.ev.UserID, date, score)
	if err != nil {
		slog.Error("Engine.handleScore: store failed", "userID", req.ev.UserID, "date", date, "error", err)
		return []models.Effect{models.SendText(TextPersistFailed)}
	}
	if !recorded {
		return []models.Effect{models.SendText(fmt.Sprintf("⚠️ Оценка за %s уже записана.", date))}
	}
	return []models.Effect{models.EditLast(fmt.Sprintf("📉 ДАННЫЕ ЗАПИСАНЫ: %d%%\nАрхив помнит всё.", score))}
}

func handleTestDay(_ context.Context, e *Engine, req *request) []models.Effect {
	day, err := strconv.Atoi(strings.TrimSpace(req.arg))
	if err != nil {
		return []models.Effect{models.SendText(fmt.Sprintf("Использование: /test_day <номер дня 1-%d>", e.catalog.Last()))}
	}
	content, ok := e.catalog.Day(day)
	if !ok {
		return []models.Effect{models.SendText(TextNoDayContent)}
	}
	goal := ""
	if req.profile != nil {
		goal = req.profile.Goal
	}
	text := fmt.Sprintf("🧪 ТЕСТ ПРОТОКОЛА (ДЕНЬ %d)\n\n%s", day, program.PremiumText(content, goal))
	return []models.Effect{models.SendText(text, program.DayChoice(day))}
}

func handleSetEnergy(ctx context.Context, e *Engine, req *request) []models.Effect {
	val, err := strconv.Atoi(strings.TrimSpace(req.arg))
	if err != nil || val < 1 || val > 10 {
		return []models.Effect{models.SendText(TextSetEnergyUsage)}
	}
	date := e.today()
	recorded, err := e.store.RecordDayScore(ctx, req.ev.UserID, date, val*10)
	if err != nil {
		slog.Error("Engine.handleSetEnergy: store failed", "userID", req.ev.UserID, "error", err)
		return []models.Effect{models.SendText(TextPersistFailed)}
	}
	if !recorded {
		return []models.Effect{models.SendText(fmt.Sprintf("⚠️ Энергия за %s уже записана.", date))}
	}
	return []models.Effect{models.SendText(fmt.Sprintf("✅ Команда выполнена.\nЭнергия: %d/10 (%d%%) за %s", val, val*10, date))}
}

// Dossier answers a profile questionnaire submission with a codename card.
func (e *Engine) Dossier(ctx context.Context, userID string) ([]models.Effect, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	p, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if p == nil {
		return nil, models.ErrProfileNotFound
	}
	na := "Н/Д"
	system := "Ты — Куратор Спецслужб. Придумай КРУТОЙ ПОЗЫВНОЙ (Codename) для агента.\n" +
		"Позывной должен быть пафосным, кратким (1-2 слова), жестким. На английском.\n" +
		"Ответ: ТОЛЬКО ПОЗЫВНОЙ.\n" +
		"ПРИМЕР ОТВЕТА: **IRON_WOLF** или SHADOW_HUNTER"
	user := fmt.Sprintf("Его проблема: %s\nЕго страх: %s\nЕго цель: %s\nЦену, которую готов платить: %s",
		orDefault(p.Pain, na), orDefault(p.Fear, na), orDefault(p.Goal, na), orDefault(p.Price, na))
	codename := ParseCodename(genai.GenerateOrFallback(ctx, e.gen, system, user, ""))

	f := render.Fields{
		Title: "TOP SECRET // PERSONAL FILE",
		Rows: []render.Row{
			{Label: "CODENAME:", Value: codename},
			{Label: "REAL NAME:", Value: orDefault(p.Name(), "Unknown")},
			{Label: "THREAT (Fear):", Value: orDefault(p.Fear, "N/A")},
			{Label: "MISSION (Dream):", Value: orDefault(p.Goal, "N/A")},
			{Label: "VALUES:", Value: orDefault(p.Price, "N/A")},
			{Label: "STATUS:", Value: "ACTIVE // MONITORING"},
		},
		Footer: fmt.Sprintf("ID: %d", e.now().Unix()),
	}
	caption := fmt.Sprintf("📂 ЛИЧНОЕ ДЕЛО ОБНОВЛЕНО.\n\n👤 Позывной: %s\n\nТвои данные в реестре. Мы следим.", codename)
	return e.card(render.CardDossier, "", f, caption, ""), nil
}

// DefaultCodename is used when no codename could be generated.
const DefaultCodename = "AGENT_X"

var boldCodename = regexp.MustCompile(`\*\*(.*?)\*\*`)

// ParseCodename extracts a codename from a raw reply: a **bold** token wins,
// otherwise the first two words are upper-cased.
func ParseCodename(raw string) string {
	raw = strings.TrimSpace(raw)
	codename := ""
	if m := boldCodename.FindStringSubmatch(raw); m != nil {
		codename = strings.TrimSpace(m[1])
	} else {
		clean := strings.NewReplacer(`"`, "", "'", "").Replace(raw)
		parts := strings.Fields(clean)
		if len(parts) > 2 {
			parts = parts[:2]
		}
		codename = strings.ToUpper(strings.Join(parts, " "))
	}
	codename = strings.TrimSpace(strings.ReplaceAll(codename, "CODENAME:", ""))
	if codename == "" {
		return DefaultCodename
	}
	return codename
}
