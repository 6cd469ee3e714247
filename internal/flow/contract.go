package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

func contractDefinition() *Definition {
	return &Definition{
		Type:    models.FlowContract,
		Trigger: models.CommandContractNew,
		Steps: []Step{
			{
				Key:    models.StepGoal,
				Kind:   StepText,
				Prompt: textPrompt("1. Напиши свою ЦЕЛЬ. (Четко и конкретно)\n\nПример: Заработать 100к"),
			},
			{
				Key:    models.StepDeadline,
				Kind:   StepText,
				Prompt: textPrompt("2. Установи ДЕДЛАЙН. (Дата или срок, например: 'до 1 марта' или 'через неделю')"),
			},
			{
				Key:  models.StepStake,
				Kind: StepText,
				Prompt: textPrompt("3. Назначь ЦЕНУ СЛОВА (ШТРАФ).\n" +
					"Что ты сделаешь, если провалишься? Это должно быть больно.\n" +
					"Примеры:\n" +
					"- 'Отправлю 5000р врагу'\n" +
					"- 'Сбрею брови'\n" +
					"- 'Не буду пить кофе месяц'\n\n" +
					"Пиши свою ставку:"),
			},
		},
		Finalize: finalizeContract,
	}
}

func finalizeContract(ctx context.Context, e *Engine, fc FinalizeContext) ([]models.Effect, error) {
	c, err := e.store.AppendContract(ctx, fc.UserID,
		fc.Answers[models.StepGoal], fc.Answers[models.StepDeadline], fc.Answers[models.StepStake])
	if err != nil {
		return nil, fmt.Errorf("failed to append contract: %w", err)
	}
	return []models.Effect{models.SendText(certificate(c, orDefault(fc.Profile.Name(), "Агент")))}, nil
}

const certificateRule = "-----------------------------------"

func certificate(c *models.Contract, participant string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📜 КОНТРАКТ С БУДУЩИМ №%d\n", c.ID)
	b.WriteString(certificateRule + "\n")
	fmt.Fprintf(&b, "👤 УЧАСТНИК: %s\n", participant)
	fmt.Fprintf(&b, "🎯 ЦЕЛЬ: %s\n", c.Goal)
	fmt.Fprintf(&b, "⏳ СРОК: %s\n", c.Deadline)
	fmt.Fprintf(&b, "💀 ШТРАФ: %s\n", c.Stake)
	b.WriteString(certificateRule + "\n")
	b.WriteString("✅ ПОДПИСАНО КРОВЬЮ (цифровой).\n\n")
	b.WriteString("Я (Бот) свидетельствую.\n")
	b.WriteString("Нарушишь — будешь знать, что ты трепло.")
	return b.String()
}

// contractList formats the archive newest first, truncated to fit one message.
func contractList(contracts []models.Contract) string {
	if len(contracts) == 0 {
		return TextContractsEmpty
	}
	var b strings.Builder
	b.WriteString("🗂 ВСЕ ТВОИ КОНТРАКТЫ:\n\n")
	for i, c := range contracts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Goal)
		fmt.Fprintf(&b, "⏳ Срок: %s\n", c.Deadline)
		fmt.Fprintf(&b, "💀 Ставка: %s\n", c.Stake)
		fmt.Fprintf(&b, "📅 Дата: %s\n", c.CreatedAt.Format(models.DateLayout))
		b.WriteString("-------------------------\n")
	}
	return truncate(b.String(), contractListLimit, TextContractsCut)
}

// truncate cuts s to limit runes and appends suffix when it had to cut.
func truncate(s string, limit int, suffix string) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + suffix
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
