// Package models defines flow type definitions to avoid circular imports.
package models

import (
	"strings"
	"time"
)

// FlowType identifies a guided dialogue template.
type FlowType string

// Flow type constants.
const (
	FlowPerspective FlowType = "perspective"
	FlowContract    FlowType = "contract"
	FlowLegacy      FlowType = "legacy"
	FlowMindprint   FlowType = "mindprint"
	FlowPersonalAI  FlowType = "personal_ai"
	FlowWinLog      FlowType = "win_log"
)

// StepKey names an answer collected by a flow step.
type StepKey string

// Step keys for every flow.
const (
	StepProblem  StepKey = "problem"
	StepLens     StepKey = "lens"
	StepGoal     StepKey = "goal"
	StepDeadline StepKey = "deadline"
	StepStake    StepKey = "stake"
	StepMemory   StepKey = "memory"
	StepLessons  StepKey = "lessons"
	StepQ1       StepKey = "q1"
	StepQ2       StepKey = "q2"
	StepQ3       StepKey = "q3"
	StepWin      StepKey = "win"
)

// Phase distinguishes the states of a step that accepts more than one event type.
type Phase string

const (
	// PhaseCollect waits for the step's free-text answer.
	PhaseCollect Phase = ""
	// PhaseSelect waits for a choice after the text was captured.
	PhaseSelect Phase = "select"
)

// Session is the ephemeral per-user record of the active flow.
type Session struct {
	UserID    string
	Flow      FlowType
	Step      int
	Phase     Phase
	Answers   map[StepKey]string
	StartedAt time.Time
}

// NewSession starts a session at step 0.
func NewSession(userID string, flow FlowType, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		Flow:      flow,
		Answers:   make(map[StepKey]string),
		StartedAt: now,
	}
}

// Clone returns a deep copy so callers can mutate without touching the stored session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Answers = make(map[StepKey]string, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	return &c
}

// Command is a tagged menu action or trigger. Transports carry the command id
// as the selection payload instead of the button label.
type Command string

// Menu and hub commands.
const (
	CommandStart       Command = "start"
	CommandMenu        Command = "menu"
	CommandHubBrain    Command = "hub_brain"
	CommandHubAction   Command = "hub_action"
	CommandHubArchive  Command = "hub_archive"
	CommandPerspective Command = "feature_perspective"
	CommandPlan        Command = "feature_plan"
	CommandMindprint   Command = "feature_mindprint"
	CommandPersonalAI  Command = "feature_ai_chat"
	CommandQuickWin    Command = "feature_win"
	CommandWinLog      Command = "feature_winlog"
	CommandKick        Command = "feature_kick"
	CommandContracts   Command = "portal_contracts"
	CommandContractNew Command = "contract_new"
	CommandContractLs  Command = "contract_list"
	CommandLegacy      Command = "feature_legacy"
	CommandStats       Command = "feature_stats"
	CommandBlackbox    Command = "blackbox"
	CommandUnlock      Command = "blackbox_unlock"
	CommandTestDay     Command = "test_day"
	CommandSetEnergy   Command = "set_energy"
)

// Prefixes of parameterized selection ids.
const (
	PrefixLens        = "persp_"
	PrefixScore       = "report_"
	PrefixCompleteDay = "complete_day_"
)

// Lens choice ids for the perspective flow.
const (
	LensOld    = PrefixLens + "old"
	LensElon   = PrefixLens + "elon"
	LensCritic = PrefixLens + "critic"
	LensCancel = PrefixLens + "cancel"
)

// FlowEntry maps flow-entry commands to the flow they start.
var FlowEntry = map[Command]FlowType{
	CommandPerspective: FlowPerspective,
	CommandContractNew: FlowContract,
	CommandLegacy:      FlowLegacy,
	CommandMindprint:   FlowMindprint,
	CommandPersonalAI:  FlowPersonalAI,
	CommandWinLog:      FlowWinLog,
}

// ExitKeywords end any active session.
var ExitKeywords = []string{"стоп", "выход", "stop", "exit"}

// IsExitKeyword reports whether text is a global exit keyword, ignoring case and surrounding space.
func IsExitKeyword(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, k := range ExitKeywords {
		if t == k {
			return true
		}
	}
	return false
}

// ParseSlashCommand splits "/test_day 3" into the command and its argument.
// ok is false when text is not a slash command.
func ParseSlashCommand(text string) (cmd Command, arg string, ok bool) {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "/") || len(t) < 2 {
		return "", "", false
	}
	fields := strings.Fields(t[1:])
	name := strings.ToLower(fields[0])
	// Telegram-style "/start@bot" suffix.
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}
	return Command(name), arg, true
}
