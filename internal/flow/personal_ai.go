package flow

import (
	"context"
	"fmt"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

func personalAIDefinition() *Definition {
	return &Definition{
		Type:    models.FlowPersonalAI,
		Trigger: models.CommandPersonalAI,
		Intro: "🤖 ЛИЧНЫЙ АССИСТЕНТ\n\n" +
			"Я знаю твой профиль. Я помню твои цели.\n" +
			"Спрашивай что угодно или проси совета.\n\n" +
			"(Напиши 'Стоп' чтобы выйти)",
		Converse: conversePersonalAI,
	}
}

// profileSummary is the context line the personal assistant sees.
func profileSummary(p *models.Profile) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("[User Profile -> Pain: %s, Fear: %s, Goal: %s]", p.Pain, p.Fear, p.Goal)
}

func conversePersonalAI(ctx context.Context, e *Engine, p *models.Profile, text string) []models.Effect {
	if text == "" {
		return []models.Effect{models.SendText(TextChatOnlyText)}
	}
	system := "ТЫ — ЛИЧНЫЙ ИИ-КОУЧ. Ты знаешь всё о пользователе.\n" +
		profileSummary(p) + "\n" +
		"Твоя цель: Помогать ему достичь цели, используя его профиль.\n" +
		"Стиль: Краткий, умный, по делу."
	return []models.Effect{models.SendText(e.generate(ctx, system, text, TextBrainOffline))}
}
