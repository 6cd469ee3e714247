package flow

import (
	"context"
	"fmt"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

// TextWinDuplicate answers a win whose normalized text was already logged.
const TextWinDuplicate = "♻️ Это уже есть в журнале.\nПовтор — не победа. Сделай что-то новое."

func winLogDefinition() *Definition {
	return &Definition{
		Type:    models.FlowWinLog,
		Trigger: models.CommandWinLog,
		Steps: []Step{
			{
				Key:    models.StepWin,
				Kind:   StepText,
				Prompt: textPrompt("🏆 Журнал Побед\n\nЧто ты сделал сегодня? Одной фразой."),
			},
		},
		Finalize: finalizeWinLog,
	}
}

func finalizeWinLog(ctx context.Context, e *Engine, fc FinalizeContext) ([]models.Effect, error) {
	duplicate, err := e.history.Submit(ctx, fc.UserID, fc.Answers[models.StepWin])
	if err != nil {
		return nil, fmt.Errorf("failed to log win: %w", err)
	}
	if duplicate {
		return []models.Effect{models.SendText(TextWinDuplicate)}, nil
	}
	return []models.Effect{models.SendText(fmt.Sprintf("✅ Победа записана.\nВсего в журнале: %d", e.history.Len(fc.UserID)))}, nil
}
