package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/render"
)

const (
	manifestoTitle   = "МАНИФЕСТ"
	manifestoCaption = "💎 Твое Наследие.\nСохрани этот камень."
	cardFooter       = "Сгенерировано: AlterEgo"
)

const legacySystem = "ТЫ — ФИЛОСОФ-ПИСАТЕЛЬ.\n" +
	"Задача: Оформить ответы человека в КРАСИВЫЙ, ЭПИЧНЫЙ МАНИФЕСТ.\n" +
	"Стиль: Лаконичный, Тезисный. ИЗБЕГАЙ ДЛИННЫХ АБЗАЦЕВ. Максимум 3-4 строки на мысль.\n" +
	"Структура:\n" +
	"- Заголовок: '📜 МАНИФЕСТ [ИМЯ АВТОРА В РОДИТЕЛЬНОМ ПАДЕЖЕ]'\n" +
	"- Текст: 3-4 емких тезиса.\n" +
	"- Эпитафия."

func legacyDefinition() *Definition {
	return &Definition{
		Type:    models.FlowLegacy,
		Trigger: models.CommandLegacy,
		Steps: []Step{
			{
				Key:  models.StepMemory,
				Kind: StepText,
				Prompt: textPrompt("🕯️ Зал Наследия\n\n" +
					"Давай представим, что твое время вышло.\n" +
					"1. Что должны написать на твоем камне?\n(Одной фразой: каким тебя запомнят?)"),
			},
			{
				Key:  models.StepLessons,
				Kind: StepText,
				Prompt: textPrompt("2. Назови 3 главных урока твоей жизни.\n" +
					"(Истины, к которым ты пришел через боль и опыт)"),
			},
		},
		Finalize: finalizeLegacy,
	}
}

func finalizeLegacy(ctx context.Context, e *Engine, fc FinalizeContext) ([]models.Effect, error) {
	name := orDefault(fc.Profile.Name(), "Агент")
	memory, lessons := fc.Answers[models.StepMemory], fc.Answers[models.StepLessons]
	user := fmt.Sprintf("Имя автора: %s\n\nДанные:\n1. Память о нем: %s\n2. Его уроки: %s", name, memory, lessons)
	fallback := fmt.Sprintf("📜 %s\n\n%s\n\n%s\n\nОн жил так, как решил сам.", manifestoTitle, memory, lessons)

	text := e.generate(ctx, legacySystem, user, fallback)
	title, body := splitManifesto(text)
	return e.card(render.CardManifesto, body, render.Fields{Title: title, Footer: cardFooter}, manifestoCaption, text), nil
}

// splitManifesto takes the heading line when it names the manifesto.
func splitManifesto(text string) (title, body string) {
	lines := strings.Split(text, "\n")
	title = manifestoTitle
	if len(lines) > 0 && strings.Contains(strings.ToUpper(lines[0]), manifestoTitle) {
		title = strings.TrimSpace(lines[0])
		lines = lines[1:]
	}
	return title, strings.TrimSpace(strings.Join(lines, "\n"))
}

// card renders an image effect. When no renderer is configured or rendering
// fails, the user still gets the caption and the plain text.
func (e *Engine) card(card render.Card, body string, f render.Fields, caption, plain string, choices ...models.Choice) []models.Effect {
	if e.renderer != nil {
		img, err := e.renderer.Render(card, body, f)
		if err == nil {
			out := []models.Effect{models.SendImage(img, caption)}
			if len(choices) > 0 {
				out = append(out, models.SendText("👇", choices...))
			}
			return out
		}
		slog.Warn("Engine.card: render failed, sending text", "card", card, "error", err)
	}
	text := caption
	if plain != "" {
		text = plain + "\n\n" + caption
	}
	return []models.Effect{models.SendText(text, choices...)}
}
