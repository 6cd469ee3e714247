package flow

import (
	"context"
	"fmt"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

// lens is one persona the perspective flow can answer as.
type lens struct {
	choice   models.Choice
	system   string
	fallback string
}

var lenses = []lens{
	{
		choice: models.Choice{ID: models.LensOld, Label: "👴 Твой 80-летний Я"},
		system: "ТЫ — 80-ЛЕТНИЙ 'Я' ЭТОГО ЧЕЛОВЕКА. Мудрый, спокойный, прожил жизнь. " +
			"Ты знаешь, что важно, а что шелуха. Твоя цель — успокоить и дать совет с высоты прожитых лет. " +
			"Скажи, будет ли эта проблема важна через 50 лет?",
		fallback: "Через 50 лет ты не вспомнишь об этом. Вспомнишь только, сделал ли ты шаг. Сделай его.",
	},
	{
		choice: models.Choice{ID: models.LensElon, Label: "🚀 Илон Маск"},
		system: "ТЫ — ИЛОН МАСК. Мыслишь первыми принципами. Масштабно. Рискованно. " +
			"Ты презираешь мелочность. Твоя цель — показать, как использовать эту проблему для роста " +
			"или как решить её радикально.",
		fallback: "Разбери проблему до первых принципов. Что останется, если убрать страх? Это и делай. В десять раз масштабнее.",
	},
	{
		choice: models.Choice{ID: models.LensCritic, Label: "👹 Жесткий Критик"},
		system: "ТЫ — ЖЕСТКИЙ КРИТИК. Ты видишь все слабости. Ты не жалеешь. Ты говоришь правду в лицо. " +
			"Твоя цель — разнести нытьё и показать, где человек сам виноват и как ему собрать тряпку.",
		fallback: "Хватит ныть. Половина этой проблемы создана тобой. Вторая половина решается за вечер. Работай.",
	},
}

func lensByID(id string) (lens, bool) {
	for _, l := range lenses {
		if l.choice.ID == id {
			return l, true
		}
	}
	return lens{}, false
}

func lensChoices() []models.Choice {
	out := make([]models.Choice, 0, len(lenses))
	for _, l := range lenses {
		out = append(out, l.choice)
	}
	return out
}

func perspectiveDefinition() *Definition {
	return &Definition{
		Type:    models.FlowPerspective,
		Trigger: models.CommandPerspective,
		Steps: []Step{
			{
				Key:    models.StepProblem,
				Kind:   StepText,
				Prompt: textPrompt("👁 Сдвиг Перспективы\n\nОпиши проблему, которая тебя тревожит:"),
			},
			{
				Key:     models.StepLens,
				Kind:    StepChoice,
				Choices: lensChoices(),
				Cancel:  models.LensCancel,
				Prompt: func(s *models.Session) models.Effect {
					choices := append(lensChoices(), models.Choice{ID: models.LensCancel, Label: "❌ Отмена"})
					text := fmt.Sprintf("Принято: \"%s\"\n\nЧьими глазами посмотрим на это?", s.Answers[models.StepProblem])
					return models.SendText(text, choices...)
				},
			},
		},
		Finalize: finalizePerspective,
	}
}

func finalizePerspective(ctx context.Context, e *Engine, fc FinalizeContext) ([]models.Effect, error) {
	l, ok := lensByID(fc.Answers[models.StepLens])
	if !ok {
		return nil, fmt.Errorf("unknown lens %q", fc.Answers[models.StepLens])
	}
	answer := e.generate(ctx, l.system, "МОЯ ПРОБЛЕМА: "+fc.Answers[models.StepProblem], l.fallback)
	return []models.Effect{models.SendText("📝 Мнение:\n\n" + answer)}, nil
}
