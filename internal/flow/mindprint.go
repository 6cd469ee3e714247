package flow

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/render"
)

// Mindprint defaults when the generated scan cannot be parsed.
const (
	UnknownMind      = "UNKNOWN MIND"
	defaultStatValue = 50
)

const mindprintSystem = "ТЫ — КИБЕР-ПСИХОЛОГ.\n" +
	"Задача: Определить Архетип Мышления на основе ответов.\n" +
	"Выведи ответ в формате:\n" +
	"TITLE: [Название Архетипа, 2-3 слова, Капсом]\n" +
	"DESC: [Описание]\n" +
	"STATS: [RISK(0-100), LOGIC(0-100), POWER(0-100)] (Например: 80, 20, 90)"

const mindprintFallback = "TITLE: " + UnknownMind + "\n" +
	"DESC: Сигнал слабый. Паттерн не распознан, но ты уже начал сканировать себя.\n" +
	"STATS: 50, 50, 50"

func mindprintDefinition() *Definition {
	return &Definition{
		Type:    models.FlowMindprint,
		Trigger: models.CommandMindprint,
		Steps: []Step{
			{
				Key:  models.StepQ1,
				Kind: StepText,
				Prompt: textPrompt("🧬 Скан Интеллекта\n\nЯ проанализирую твой паттерн мышления.\n\n" +
					"1. Стабильность или Шанс?\n(100$ гарантированно или 50% шанс на 1.000.000$?)"),
			},
			{
				Key:    models.StepQ2,
				Kind:   StepText,
				Prompt: textPrompt("2. Источник Решений?\n(Анализ/Факты или Интуиция/Чуйка?)"),
			},
			{
				Key:    models.StepQ3,
				Kind:   StepText,
				Prompt: textPrompt("3. Враг повержен. Действие?\n(Добить, Пройти мимо, Помочь?)"),
			},
		},
		Finalize: finalizeMindprint,
	}
}

func finalizeMindprint(ctx context.Context, e *Engine, fc FinalizeContext) ([]models.Effect, error) {
	user := fmt.Sprintf("Ответы:\n1. Риск: %s\n2. Логика: %s\n3. Жестокость: %s",
		fc.Answers[models.StepQ1], fc.Answers[models.StepQ2], fc.Answers[models.StepQ3])
	scan := ParseMindprint(e.generate(ctx, mindprintSystem, user, mindprintFallback))

	caption := "🧬 Твой Mindprint:\n" + scan.Title
	f := render.Fields{Title: scan.Title, Stats: scan.Stats[:], Footer: "GENERATED BY ALTEREGO"}
	return e.card(render.CardMindprint, scan.Desc, f, caption, scan.Desc), nil
}

// Mindprint is a parsed archetype scan.
type Mindprint struct {
	Title string
	Desc  string
	Stats [3]int // RISK, LOGIC, POWER
}

var statDigits = regexp.MustCompile(`\d+`)

// ParseMindprint reads the TITLE/DESC/STATS layout. Missing parts keep their
// defaults: the unknown title, the whole reply as description and 50/50/50.
func ParseMindprint(content string) Mindprint {
	m := Mindprint{
		Title: UnknownMind,
		Desc:  strings.TrimSpace(content),
		Stats: [3]int{defaultStatValue, defaultStatValue, defaultStatValue},
	}
	_, afterTitle, ok := strings.Cut(content, "TITLE:")
	if !ok {
		return m
	}
	title, rest, hasDesc := strings.Cut(afterTitle, "DESC:")
	if t := strings.TrimSpace(strings.ReplaceAll(title, "#", "")); t != "" {
		m.Title = t
	}
	if !hasDesc {
		return m
	}
	desc, stats, hasStats := strings.Cut(rest, "STATS:")
	m.Desc = strings.TrimSpace(desc)
	if !hasStats {
		return m
	}
	nums := statDigits.FindAllString(stats, -1)
	if len(nums) < len(m.Stats) {
		return m
	}
	for i := range m.Stats {
		v, err := strconv.Atoi(nums[i])
		if err != nil {
			return m
		}
		m.Stats[i] = min(v, 100)
	}
	return m
}
