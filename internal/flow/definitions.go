package flow

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

// StepKind says which inbound event type a step accepts.
type StepKind int

const (
	// StepText accepts one non-empty free-text answer.
	StepText StepKind = iota
	// StepChoice accepts one of a fixed set of selections.
	StepChoice
)

// Step is one prompt of a guided flow.
type Step struct {
	Key    models.StepKey
	Kind   StepKind
	Prompt func(s *models.Session) models.Effect

	// Choices are the selections a choice step accepts. Selecting Cancel
	// ends the flow without finalizing.
	Choices []models.Choice
	Cancel  string
}

func (st Step) phase() models.Phase {
	if st.Kind == StepChoice {
		return models.PhaseSelect
	}
	return models.PhaseCollect
}

// accept validates ev against the step and returns the answer to store.
func (st Step) accept(ev models.InboundEvent) (string, bool) {
	switch st.Kind {
	case StepText:
		if ev.Kind != models.EventText {
			return "", false
		}
		answer := strings.TrimSpace(ev.Text)
		return answer, answer != ""
	case StepChoice:
		if ev.Kind != models.EventSelection {
			return "", false
		}
		for _, c := range st.Choices {
			if c.ID == ev.Choice {
				return c.ID, true
			}
		}
	}
	return "", false
}

// reprompt repeats the step after invalid input.
func (st Step) reprompt(s *models.Session) []models.Effect {
	hint := TextNeedText
	if st.Kind == StepChoice {
		hint = TextNeedChoice
	}
	return []models.Effect{models.SendText(hint), st.Prompt(s)}
}

// FinalizeContext carries everything a flow needs after its last step.
type FinalizeContext struct {
	UserID  string
	Profile *models.Profile
	Answers map[models.StepKey]string
	Now     time.Time
}

// Finalizer produces the closing effects of a flow. A returned error is a
// persistence failure: the session is kept so the user can resend the answer.
type Finalizer func(ctx context.Context, e *Engine, fc FinalizeContext) ([]models.Effect, error)

// Definition is a guided dialogue template.
type Definition struct {
	Type    models.FlowType
	Trigger models.Command
	Steps   []Step

	// Finalize runs once the last step is answered.
	Finalize Finalizer

	// Intro and Converse describe an open-ended flow without steps.
	Intro    string
	Converse func(ctx context.Context, e *Engine, p *models.Profile, text string) []models.Effect
}

// open reports whether the flow is a free conversation rather than a fixed sequence.
func (d *Definition) open() bool {
	return len(d.Steps) == 0
}

// entry returns the effects sent when the flow starts.
func (d *Definition) entry(s *models.Session) []models.Effect {
	if d.open() {
		return []models.Effect{models.SendText(d.Intro)}
	}
	return []models.Effect{d.Steps[0].Prompt(s)}
}

// textPrompt is a Prompt returning fixed text.
func textPrompt(text string) func(*models.Session) models.Effect {
	return func(*models.Session) models.Effect { return models.SendText(text) }
}

// DefaultDefinitions returns every built-in flow keyed by type.
func DefaultDefinitions() map[models.FlowType]*Definition {
	defs := []*Definition{
		perspectiveDefinition(),
		contractDefinition(),
		legacyDefinition(),
		mindprintDefinition(),
		personalAIDefinition(),
		winLogDefinition(),
	}
	out := make(map[models.FlowType]*Definition, len(defs))
	for _, d := range defs {
		out[d.Type] = d
	}
	return out
}
