package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AlterEgo/internal/history"
	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/program"
	"github.com/BTreeMap/AlterEgo/internal/render"
	"github.com/BTreeMap/AlterEgo/internal/store"
	"github.com/BTreeMap/AlterEgo/internal/testutil"
)

var (
	msk       = time.FixedZone("MSK", 3*3600)
	fixedNow  = time.Date(2025, 3, 10, 21, 30, 0, 0, time.UTC) // 2025-03-11 00:30 MSK
	testToday = "2025-03-11"
)

func newTestEngine(t *testing.T, st store.Store, opts ...Option) *Engine {
	t.Helper()
	if st == nil {
		st = store.NewInMemoryStore()
	}
	catalog, err := program.DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog: %v", err)
	}
	base := []Option{WithClock(func() time.Time { return fixedNow }), WithLocation(msk)}
	return NewEngine(st, history.NewCache(st), catalog, append(base, opts...)...)
}

func dispatch(t *testing.T, e *Engine, ev models.InboundEvent) []models.Effect {
	t.Helper()
	effects, err := e.Dispatch(context.Background(), ev)
	if err != nil {
		t.Fatalf("Dispatch(%+v): %v", ev, err)
	}
	return effects
}

func text(t *testing.T, e *Engine, userID, body string) []models.Effect {
	t.Helper()
	return dispatch(t, e, models.TextEvent(userID, body))
}

func choose(t *testing.T, e *Engine, userID, choice string) []models.Effect {
	t.Helper()
	return dispatch(t, e, models.SelectionEvent(userID, choice))
}

// visible returns the texts of the effects a user sees.
func visible(effects []models.Effect) []string {
	var out []string
	for _, ef := range effects {
		if ef.IsVisible() {
			out = append(out, ef.Text)
		}
	}
	return out
}

func cleared(effects []models.Effect) bool {
	for _, ef := range effects {
		if ef.Kind == models.EffectClearSession {
			return true
		}
	}
	return false
}

func choiceIDs(ef models.Effect) []string {
	ids := make([]string, len(ef.Choices))
	for i, c := range ef.Choices {
		ids[i] = c.ID
	}
	return ids
}

// failingStore fails the write named by failOn.
type failingStore struct {
	store.Store
	failOn string
}

var errStoreDown = errors.New("store down")

func (f *failingStore) AppendContract(ctx context.Context, userID, goal, deadline, stake string) (*models.Contract, error) {
	if f.failOn == "contract" {
		return nil, errStoreDown
	}
	return f.Store.AppendContract(ctx, userID, goal, deadline, stake)
}

func (f *failingStore) AppendHistory(ctx context.Context, userID, text string) error {
	if f.failOn == "history" {
		return errStoreDown
	}
	return f.Store.AppendHistory(ctx, userID, text)
}

func (f *failingStore) EnsureProfile(ctx context.Context, userID, displayName, username string) (*models.Profile, error) {
	if f.failOn == "profile" {
		return nil, errStoreDown
	}
	return f.Store.EnsureProfile(ctx, userID, displayName, username)
}

func TestDispatchRejectsEmptyUser(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.Dispatch(context.Background(), models.TextEvent(" ", "hi")); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestDefinitionsMatchEntryTriggers(t *testing.T) {
	defs := DefaultDefinitions()
	for cmd, flow := range models.FlowEntry {
		def, ok := defs[flow]
		if !ok {
			t.Errorf("no definition for flow %s", flow)
			continue
		}
		if def.Trigger != cmd {
			t.Errorf("flow %s: trigger %s, want %s", flow, def.Trigger, cmd)
		}
		if def.open() && def.Converse == nil {
			t.Errorf("flow %s has neither steps nor a conversation handler", flow)
		}
		if !def.open() && def.Finalize == nil {
			t.Errorf("flow %s has no finalizer", flow)
		}
	}
}

func TestEntryTriggerPromptsFirstStepOnce(t *testing.T) {
	e := newTestEngine(t, nil)

	effects := choose(t, e, "u1", string(models.CommandContractNew))
	texts := visible(effects)
	if len(texts) != 1 || !strings.HasPrefix(texts[0], "1. Напиши свою ЦЕЛЬ.") {
		t.Fatalf("unexpected entry effects %q", texts)
	}
	s := e.Sessions().Get("u1")
	if s == nil || s.Flow != models.FlowContract || s.Step != 0 || len(s.Answers) != 0 {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestValidAnswerAdvancesExactlyOneStep(t *testing.T) {
	e := newTestEngine(t, nil)
	choose(t, e, "u1", string(models.CommandMindprint))

	for i, answer := range []string{"Шанс", "Чуйка"} {
		effects := text(t, e, "u1", answer)
		s := e.Sessions().Get("u1")
		if s == nil || s.Step != i+1 {
			t.Fatalf("after answer %d: session %+v", i, s)
		}
		if len(visible(effects)) != 1 {
			t.Errorf("expected one prompt, got %q", visible(effects))
		}
	}
	s := e.Sessions().Get("u1")
	if s.Answers[models.StepQ1] != "Шанс" || s.Answers[models.StepQ2] != "Чуйка" {
		t.Errorf("unexpected answers %v", s.Answers)
	}
}

func TestInvalidInputRepromptsSameStep(t *testing.T) {
	e := newTestEngine(t, nil)
	choose(t, e, "u1", string(models.CommandContractNew))

	for _, ev := range []models.InboundEvent{
		models.TextEvent("u1", "   "),
		models.SelectionEvent("u1", "not_a_command"),
	} {
		effects := dispatch(t, e, ev)
		texts := visible(effects)
		if len(texts) != 2 || texts[0] != TextNeedText || !strings.HasPrefix(texts[1], "1. Напиши свою ЦЕЛЬ.") {
			t.Errorf("unexpected reprompt %q", texts)
		}
		if s := e.Sessions().Get("u1"); s == nil || s.Step != 0 {
			t.Errorf("step changed on invalid input: %+v", s)
		}
	}
}

func TestExitKeywordClearsSessionWithoutWrites(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)
	choose(t, e, "u1", string(models.CommandContractNew))
	text(t, e, "u1", "Заработать 100к")
	text(t, e, "u1", "до 1 марта")

	effects := text(t, e, "u1", "  СТОП ")
	if texts := visible(effects); len(texts) != 1 || texts[0] != TextSessionClosed {
		t.Errorf("unexpected exit effects %q", texts)
	}
	if !cleared(effects) {
		t.Error("expected a session cleared effect")
	}
	if e.Sessions().Get("u1") != nil {
		t.Error("session should be gone")
	}
	contracts, _ := st.ListContracts(context.Background(), "u1")
	if len(contracts) != 0 {
		t.Errorf("exit must not persist, got %d contracts", len(contracts))
	}
}

func TestExitKeywordWithoutSessionFallsThrough(t *testing.T) {
	e := newTestEngine(t, nil)
	effects := text(t, e, "u1", "stop")
	if texts := visible(effects); len(texts) != 1 || texts[0] != TextMenuHint {
		t.Errorf("unexpected effects %q", texts)
	}
	if cleared(effects) {
		t.Error("nothing to clear")
	}
}

func TestContractScenarioPersistsOneRecord(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)
	choose(t, e, "u1", string(models.CommandContractNew))
	text(t, e, "u1", "Заработать 100к")
	text(t, e, "u1", "до 1 марта")
	effects := text(t, e, "u1", "Сбрею брови")

	if !cleared(effects) {
		t.Error("expected the session to be cleared")
	}
	texts := visible(effects)
	if len(texts) != 1 {
		t.Fatalf("expected one certificate, got %q", texts)
	}
	for _, want := range []string{"📜 КОНТРАКТ С БУДУЩИМ №1", "👤 УЧАСТНИК: Агент", "🎯 ЦЕЛЬ: Заработать 100к", "⏳ СРОК: до 1 марта", "💀 ШТРАФ: Сбрею брови"} {
		if !strings.Contains(texts[0], want) {
			t.Errorf("certificate missing %q:\n%s", want, texts[0])
		}
	}

	contracts, err := st.ListContracts(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListContracts: %v", err)
	}
	if len(contracts) != 1 {
		t.Fatalf("expected exactly one contract, got %d", len(contracts))
	}
	c := contracts[0]
	if c.Goal != "Заработать 100к" || c.Deadline != "до 1 марта" || c.Stake != "Сбрею брови" || c.Status != models.ContractActive {
		t.Errorf("unexpected contract %+v", c)
	}
	if e.Sessions().Get("u1") != nil {
		t.Error("session should be gone")
	}
}

func TestPersistenceFailureKeepsSession(t *testing.T) {
	fs := &failingStore{Store: store.NewInMemoryStore(), failOn: "contract"}
	e := newTestEngine(t, fs)
	choose(t, e, "u1", string(models.CommandContractNew))
	text(t, e, "u1", "goal")
	text(t, e, "u1", "deadline")

	effects := text(t, e, "u1", "stake")
	if texts := visible(effects); len(texts) != 1 || texts[0] != TextPersistFailed {
		t.Errorf("unexpected effects %q", texts)
	}
	if cleared(effects) {
		t.Error("session must not be cleared on persistence failure")
	}
	s := e.Sessions().Get("u1")
	if s == nil || s.Step != 2 || s.Answers[models.StepGoal] != "goal" || s.Answers[models.StepDeadline] != "deadline" {
		t.Fatalf("session should be unchanged, got %+v", s)
	}
	if _, ok := s.Answers[models.StepStake]; ok {
		t.Error("failed answer must not be stored")
	}

	// The store recovers and the resent answer completes the flow.
	fs.failOn = ""
	effects = text(t, e, "u1", "stake")
	if !cleared(effects) {
		t.Error("expected completion after retry")
	}
}

func TestProfileStoreFailureStillAnswers(t *testing.T) {
	fs := &failingStore{Store: store.NewInMemoryStore(), failOn: "profile"}
	e := newTestEngine(t, fs)
	effects := choose(t, e, "u1", string(models.CommandBlackbox))
	if texts := visible(effects); len(texts) != 1 || !strings.Contains(texts[0], "КРИТИЧЕСКИЙ") {
		t.Errorf("unexpected effects %q", texts)
	}
}

func TestNewTriggerDiscardsActiveSession(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)
	choose(t, e, "u1", string(models.CommandContractNew))
	text(t, e, "u1", "goal")

	effects := choose(t, e, "u1", string(models.CommandLegacy))
	if texts := visible(effects); len(texts) != 1 || !strings.HasPrefix(texts[0], "🕯️ Зал Наследия") {
		t.Errorf("unexpected effects %q", texts)
	}
	s := e.Sessions().Get("u1")
	if s == nil || s.Flow != models.FlowLegacy || s.Step != 0 || len(s.Answers) != 0 {
		t.Fatalf("expected a fresh legacy session, got %+v", s)
	}
	contracts, _ := st.ListContracts(context.Background(), "u1")
	if len(contracts) != 0 {
		t.Error("discarded flow must not persist")
	}
}

func TestCompanionControlsLeaveSessionAlone(t *testing.T) {
	e := newTestEngine(t, nil)
	choose(t, e, "u1", string(models.CommandContractNew))

	effects := choose(t, e, "u1", string(models.CommandHubBrain))
	if len(effects) != 1 || len(effects[0].Choices) != 4 {
		t.Fatalf("unexpected hub effects %+v", effects)
	}
	choose(t, e, "u1", string(models.CommandQuickWin))

	s := e.Sessions().Get("u1")
	if s == nil || s.Flow != models.FlowContract || s.Step != 0 {
		t.Fatalf("control touched the session: %+v", s)
	}
	text(t, e, "u1", "goal")
	if s := e.Sessions().Get("u1"); s.Step != 1 {
		t.Errorf("expected the flow to continue, got step %d", s.Step)
	}
}

func TestPerspectiveTwoPhaseStep(t *testing.T) {
	gen := testutil.NewScriptedGenerator("Живи сейчас.")
	e := newTestEngine(t, nil, WithGenerator(gen))
	choose(t, e, "u1", string(models.CommandPerspective))

	effects := text(t, e, "u1", "Боюсь уволиться")
	if len(effects) != 1 {
		t.Fatalf("expected one lens prompt, got %+v", effects)
	}
	if want := "Принято: \"Боюсь уволиться\"\n\nЧьими глазами посмотрим на это?"; effects[0].Text != want {
		t.Errorf("prompt = %q, want %q", effects[0].Text, want)
	}
	wantIDs := []string{models.LensOld, models.LensElon, models.LensCritic, models.LensCancel}
	if got := choiceIDs(effects[0]); fmt.Sprint(got) != fmt.Sprint(wantIDs) {
		t.Errorf("choices = %v, want %v", got, wantIDs)
	}
	s := e.Sessions().Get("u1")
	if s.Phase != models.PhaseSelect || s.Answers[models.StepProblem] != "Боюсь уволиться" {
		t.Fatalf("unexpected session %+v", s)
	}

	// Text and unknown lenses re-prompt within the select phase.
	for _, ev := range []models.InboundEvent{
		models.TextEvent("u1", "а что дальше?"),
		models.SelectionEvent("u1", models.PrefixLens+"yoda"),
	} {
		texts := visible(dispatch(t, e, ev))
		if len(texts) != 2 || texts[0] != TextNeedChoice {
			t.Errorf("unexpected reprompt %q", texts)
		}
	}
	if gen.CallCount() != 0 {
		t.Fatal("generator called before a lens was chosen")
	}

	effects = choose(t, e, "u1", models.LensOld)
	if texts := visible(effects); len(texts) != 1 || texts[0] != "📝 Мнение:\n\nЖиви сейчас." {
		t.Errorf("unexpected answer %q", texts)
	}
	if !cleared(effects) {
		t.Error("expected the session to be cleared")
	}
	call := gen.Calls[0]
	if !strings.HasPrefix(call.System, "ТЫ — 80-ЛЕТНИЙ 'Я'") || call.User != "МОЯ ПРОБЛЕМА: Боюсь уволиться" {
		t.Errorf("unexpected generator call %+v", call)
	}
}

func TestPerspectiveCancelPersistsNothing(t *testing.T) {
	gen := testutil.NewScriptedGenerator()
	e := newTestEngine(t, nil, WithGenerator(gen))
	choose(t, e, "u1", string(models.CommandPerspective))
	text(t, e, "u1", "problem")

	effects := choose(t, e, "u1", models.LensCancel)
	if texts := visible(effects); len(texts) != 1 || texts[0] != TextCancelled {
		t.Errorf("unexpected effects %q", texts)
	}
	if !cleared(effects) || e.Sessions().Get("u1") != nil {
		t.Error("cancel should clear the session")
	}
	if gen.CallCount() != 0 {
		t.Error("cancel must not generate")
	}
}

func TestStaleLensWithoutSession(t *testing.T) {
	e := newTestEngine(t, nil)
	if texts := visible(choose(t, e, "u1", models.LensElon)); len(texts) != 1 || texts[0] != TextStaleChoice {
		t.Errorf("unexpected effects %q", texts)
	}
}

func TestGeneratorFailureUsesStaticFallback(t *testing.T) {
	gen := testutil.NewScriptedGenerator()
	gen.Fail = true
	e := newTestEngine(t, nil, WithGenerator(gen))

	choose(t, e, "u1", string(models.CommandPerspective))
	text(t, e, "u1", "problem")
	effects := choose(t, e, "u1", models.LensCritic)
	critic, _ := lensByID(models.LensCritic)
	if texts := visible(effects); len(texts) != 1 || texts[0] != "📝 Мнение:\n\n"+critic.fallback {
		t.Errorf("unexpected fallback %q", texts)
	}

	effects = choose(t, e, "u1", string(models.CommandKick))
	if texts := visible(effects); len(texts) != 1 || texts[0] != "🔊 НЕЙРО-ПИНОК\n\n"+TextKickFallback {
		t.Errorf("unexpected kick %q", texts)
	}
}

func TestPersonalAIWithoutGenerator(t *testing.T) {
	e := newTestEngine(t, nil)
	effects := choose(t, e, "u1", string(models.CommandPersonalAI))
	if texts := visible(effects); len(texts) != 1 || !strings.HasPrefix(texts[0], "🤖 ЛИЧНЫЙ АССИСТЕНТ") {
		t.Fatalf("unexpected intro %q", texts)
	}

	for i := 0; i < 2; i++ {
		if texts := visible(text(t, e, "u1", "Как начать?")); len(texts) != 1 || texts[0] != TextBrainOffline {
			t.Errorf("unexpected reply %q", texts)
		}
	}
	if s := e.Sessions().Get("u1"); s == nil || s.Flow != models.FlowPersonalAI {
		t.Fatal("chat session should stay open until exit")
	}
	if texts := visible(text(t, e, "u1", "выход")); texts[0] != TextSessionClosed {
		t.Errorf("unexpected exit %q", texts)
	}
}

func TestPersonalAIUsesProfileContext(t *testing.T) {
	st := store.NewInMemoryStore()
	goal := "Запустить стартап"
	if err := st.UpsertProfile(context.Background(), "u1", models.ProfileUpdate{Goal: &goal}); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	gen := testutil.NewScriptedGenerator("Начни с **малого**.")
	e := newTestEngine(t, st, WithGenerator(gen))
	choose(t, e, "u1", string(models.CommandPersonalAI))

	if texts := visible(text(t, e, "u1", "Как начать?")); texts[0] != "Начни с \"малого\"." {
		t.Errorf("unexpected reply %q", texts)
	}
	if !strings.Contains(gen.Calls[0].System, "Goal: Запустить стартап") {
		t.Errorf("profile missing from system prompt: %q", gen.Calls[0].System)
	}
}

func TestWinLogSuppressesDuplicates(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)

	choose(t, e, "u1", string(models.CommandWinLog))
	if texts := visible(text(t, e, "u1", "Сделал 10 отжиманий!")); texts[0] != "✅ Победа записана.\nВсего в журнале: 1" {
		t.Errorf("unexpected first reply %q", texts)
	}
	choose(t, e, "u1", string(models.CommandWinLog))
	if texts := visible(text(t, e, "u1", "  сделал 10 ОТЖИМАНИЙ ")); texts[0] != TextWinDuplicate {
		t.Errorf("unexpected duplicate reply %q", texts)
	}

	wins, err := st.ListHistory(context.Background())
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(wins) != 2 {
		t.Errorf("raw submissions are kept, expected 2 rows, got %d", len(wins))
	}
}

func TestWinLogPersistenceFailureKeepsSession(t *testing.T) {
	fs := &failingStore{Store: store.NewInMemoryStore(), failOn: "history"}
	e := newTestEngine(t, fs)
	choose(t, e, "u1", string(models.CommandWinLog))

	if texts := visible(text(t, e, "u1", "win")); texts[0] != TextPersistFailed {
		t.Errorf("unexpected reply %q", texts)
	}
	if s := e.Sessions().Get("u1"); s == nil || s.Flow != models.FlowWinLog {
		t.Error("session should survive the failure")
	}
}

func TestScoreRecordedOncePerDate(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)
	id := program.ScoreChoiceID(100, "2025-03-10")

	effects := choose(t, e, "u1", id)
	if len(effects) != 1 || effects[0].Kind != models.EffectEdit || effects[0].Text != "📉 ДАННЫЕ ЗАПИСАНЫ: 100%\nАрхив помнит всё." {
		t.Fatalf("unexpected effects %+v", effects)
	}
	effects = choose(t, e, "u1", program.ScoreChoiceID(0, "2025-03-10"))
	if texts := visible(effects); texts[0] != "⚠️ Оценка за 2025-03-10 уже записана." {
		t.Errorf("unexpected second press %q", texts)
	}

	scores, err := st.RecentScores(context.Background(), "u1", 7)
	if err != nil {
		t.Fatalf("RecentScores: %v", err)
	}
	if len(scores) != 1 || scores[0].Score != 100 || scores[0].Date != "2025-03-10" {
		t.Errorf("unexpected scores %+v", scores)
	}
}

func TestScoreWithoutDateUsesLocalToday(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)
	choose(t, e, "u1", models.PrefixScore+"50")

	scores, _ := st.RecentScores(context.Background(), "u1", 7)
	if len(scores) != 1 || scores[0].Date != testToday || scores[0].Score != 50 {
		t.Errorf("unexpected scores %+v", scores)
	}
	if texts := visible(choose(t, e, "u1", models.PrefixScore+"42")); texts[0] != TextStaleChoice {
		t.Errorf("unknown score option should be rejected, got %q", texts)
	}
}

func TestCompleteLastDayNotifiesOnce(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)
	last := e.catalog.Last()
	id := program.DayChoice(last).ID

	effects := choose(t, e, "u1", id)
	texts := visible(effects)
	if len(texts) != 3 {
		t.Fatalf("expected edit, ack and completion notice, got %q", texts)
	}
	if effects[0].Kind != models.EffectEdit || !strings.HasSuffix(effects[0].Text, "\n\n"+TextDayDone) {
		t.Errorf("unexpected edit %+v", effects[0])
	}
	if texts[1] != fmt.Sprintf("День %d засчитан. Красава.", last) || texts[2] != program.CompletionNotice {
		t.Errorf("unexpected effects %q", texts)
	}

	if texts := visible(choose(t, e, "u1", id)); len(texts) != 2 {
		t.Errorf("completion notice must be sent once, got %q", texts)
	}
	p, _ := st.GetProfile(context.Background(), "u1")
	if p.LastCompletedDay != last || p.ProgramCompletedAt == nil {
		t.Errorf("unexpected profile %+v", p)
	}
}

func TestCompleteMiddleDay(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)
	texts := visible(choose(t, e, "u1", program.DayChoice(3).ID))
	if len(texts) != 2 || texts[1] != "День 3 засчитан. Красава." {
		t.Errorf("unexpected effects %q", texts)
	}
	p, _ := st.GetProfile(context.Background(), "u1")
	if p.LastCompletedDay != 3 || p.ProgramCompletedAt != nil {
		t.Errorf("unexpected profile %+v", p)
	}
	if texts := visible(choose(t, e, "u1", models.PrefixCompleteDay+"x")); texts[0] != TextStaleChoice {
		t.Errorf("unexpected effects %q", texts)
	}
}

func TestSlashCommands(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)

	effects := text(t, e, "u1", "/test_day 3")
	if len(effects) != 1 || !strings.HasPrefix(effects[0].Text, "🧪 ТЕСТ ПРОТОКОЛА (ДЕНЬ 3)\n\n☀️ ДЕНЬ 3: MEMENTO MORI") {
		t.Errorf("unexpected test day %+v", effects)
	}
	if ids := choiceIDs(effects[0]); len(ids) != 1 || ids[0] != "complete_day_3" {
		t.Errorf("unexpected choices %v", ids)
	}
	if texts := visible(text(t, e, "u1", "/test_day 9")); texts[0] != TextNoDayContent {
		t.Errorf("unexpected effects %q", texts)
	}

	for _, bad := range []string{"/set_energy", "/set_energy 11", "/set_energy abc"} {
		if texts := visible(text(t, e, "u1", bad)); texts[0] != TextSetEnergyUsage {
			t.Errorf("%s: unexpected effects %q", bad, texts)
		}
	}
	if texts := visible(text(t, e, "u1", "/set_energy 7")); !strings.HasPrefix(texts[0], "✅ Команда выполнена.") {
		t.Errorf("unexpected effects %q", texts)
	}
	scores, _ := st.RecentScores(context.Background(), "u1", 7)
	if len(scores) != 1 || scores[0].Score != 70 || scores[0].Date != testToday {
		t.Errorf("unexpected scores %+v", scores)
	}
}

func TestStartCreatesProfileAndShowsMenu(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)
	ev := models.TextEvent("u1", "/start")
	ev.DisplayName = "Иван"

	effects := dispatch(t, e, ev)
	if !strings.Contains(effects[0].Text, "Привет, Иван.") || len(effects[0].Choices) != 3 {
		t.Errorf("unexpected start %+v", effects[0])
	}
	p, err := st.GetProfile(context.Background(), "u1")
	if err != nil || p == nil || p.Status != models.SubscriptionNone {
		t.Errorf("expected a default profile, got %+v (%v)", p, err)
	}
}

func TestQuickWinUsesRandomSource(t *testing.T) {
	e := newTestEngine(t, nil, WithRandom(func(n int) int { return n - 1 }))
	want := "⚔️ ТВОЯ ЦЕЛЬ:\n\n" + QuickWins[len(QuickWins)-1] + "\n\nСделай это. Потом возвращайся."
	if texts := visible(choose(t, e, "u1", string(models.CommandQuickWin))); texts[0] != want {
		t.Errorf("got %q, want %q", texts[0], want)
	}
}

func TestContractList(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)
	if texts := visible(choose(t, e, "u1", string(models.CommandContractLs))); texts[0] != TextContractsEmpty {
		t.Errorf("unexpected empty list %q", texts)
	}

	ctx := context.Background()
	st.AppendContract(ctx, "u1", "first", "d", "s")
	st.AppendContract(ctx, "u1", "second", "d", "s")
	texts := visible(choose(t, e, "u1", string(models.CommandContractLs)))
	if !strings.Contains(texts[0], "1. second") || !strings.Contains(texts[0], "2. first") {
		t.Errorf("expected newest first:\n%s", texts[0])
	}

	for i := 0; i < 60; i++ {
		st.AppendContract(ctx, "u1", strings.Repeat("цель ", 10), "d", "s")
	}
	texts = visible(choose(t, e, "u1", string(models.CommandContractLs)))
	if !strings.HasSuffix(texts[0], TextContractsCut) {
		t.Error("long archive should be truncated")
	}
	if n := len([]rune(texts[0])); n != contractListLimit+len([]rune(TextContractsCut)) {
		t.Errorf("unexpected truncated length %d", n)
	}
}

func TestStatsText(t *testing.T) {
	if got := statsText(nil); !strings.Contains(got, "Данных пока нет") {
		t.Errorf("unexpected empty stats %q", got)
	}
	got := statsText([]models.DayScore{{Date: "2025-03-10", Score: 100}, {Date: "2025-03-11", Score: 50}})
	if !strings.Contains(got, "2025-03-10  ██████████ 100%") || !strings.HasSuffix(got, "Среднее: 75.0%") {
		t.Errorf("unexpected stats:\n%s", got)
	}
}

func TestBlackboxRiskLevel(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)

	effects := choose(t, e, "u1", string(models.CommandBlackbox))
	if len(effects) != 1 || !strings.Contains(effects[0].Text, "🔴 Уровень риска: КРИТИЧЕСКИЙ") {
		t.Fatalf("unexpected teaser %+v", effects)
	}
	if ids := choiceIDs(effects[0]); len(ids) != 1 || ids[0] != string(models.CommandUnlock) {
		t.Errorf("unexpected choices %v", ids)
	}

	goal := "Свобода"
	st.UpsertProfile(context.Background(), "u2", models.ProfileUpdate{Goal: &goal})
	r := &testutil.StubRenderer{}
	e = newTestEngine(t, st, WithRenderer(r))
	effects = choose(t, e, "u2", string(models.CommandBlackbox))
	if effects[0].Kind != models.EffectImage || !strings.Contains(effects[0].Text, "🔴 Уровень риска: ВЫСОКИЙ") {
		t.Errorf("unexpected teaser %+v", effects[0])
	}
	if call, _ := r.LastCall(); call.Card != render.CardBlackbox {
		t.Errorf("unexpected card %s", call.Card)
	}
}

func TestUnlock(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)
	if texts := visible(choose(t, e, "u1", string(models.CommandUnlock))); texts[0] != TextUnlockPending {
		t.Errorf("unexpected effects %q", texts)
	}
	p, _ := st.GetProfile(context.Background(), "u1")
	if p.IsActive(fixedNow) {
		t.Fatal("unlock without dev mode must not activate")
	}

	e = newTestEngine(t, st, WithDevUnlock(true))
	texts := visible(choose(t, e, "u1", string(models.CommandUnlock)))
	if len(texts) != 2 || !strings.HasPrefix(texts[1], "🔓 DECRYPTED DATA // USER: u1\n\n") {
		t.Errorf("unexpected effects %q", texts)
	}
	p, _ = st.GetProfile(context.Background(), "u1")
	if !p.IsActive(fixedNow) || p.SubscriptionStart == nil || !p.SubscriptionStart.Equal(fixedNow) {
		t.Errorf("expected an active subscription starting now, got %+v", p)
	}
}

func TestMindprintRendersCard(t *testing.T) {
	gen := testutil.NewScriptedGenerator("TITLE: STEEL MIND\nDESC: Холодный расчет.\nSTATS: [80, 20, 90]")
	r := &testutil.StubRenderer{}
	e := newTestEngine(t, nil, WithGenerator(gen), WithRenderer(r))

	choose(t, e, "u1", string(models.CommandMindprint))
	text(t, e, "u1", "Шанс")
	text(t, e, "u1", "Факты")
	effects := text(t, e, "u1", "Помочь")

	if effects[0].Kind != models.EffectImage || effects[0].Text != "🧬 Твой Mindprint:\nSTEEL MIND" {
		t.Fatalf("unexpected effect %+v", effects[0])
	}
	call, _ := r.LastCall()
	if call.Card != render.CardMindprint || call.Text != "Холодный расчет." || fmt.Sprint(call.Fields.Stats) != "[80 20 90]" {
		t.Errorf("unexpected render call %+v", call)
	}
	if !strings.Contains(gen.Calls[0].User, "3. Жестокость: Помочь") {
		t.Errorf("answers missing from prompt: %q", gen.Calls[0].User)
	}
}

func TestParseMindprint(t *testing.T) {
	tests := []struct {
		name    string
		content string
		title   string
		desc    string
		stats   [3]int
	}{
		{"full", "TITLE: IRON WILL\nDESC: Не сдается.\nSTATS: 10, 20, 30", "IRON WILL", "Не сдается.", [3]int{10, 20, 30}},
		{"no stats", "TITLE: X\nDESC: only desc", "X", "only desc", [3]int{50, 50, 50}},
		{"two numbers", "TITLE: X\nDESC: d\nSTATS: 10, 20", "X", "d", [3]int{50, 50, 50}},
		{"clamped", "TITLE: X\nDESC: d\nSTATS: 150, 0, 99", "X", "d", [3]int{100, 0, 99}},
		{"no layout", "просто текст", UnknownMind, "просто текст", [3]int{50, 50, 50}},
		{"empty title", "TITLE: \nDESC: d", UnknownMind, "d", [3]int{50, 50, 50}},
		{"title only", "TITLE: LONE WOLF", "LONE WOLF", "TITLE: LONE WOLF", [3]int{50, 50, 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ParseMindprint(tt.content)
			if m.Title != tt.title || m.Desc != tt.desc || m.Stats != tt.stats {
				t.Errorf("got %+v, want title=%q desc=%q stats=%v", m, tt.title, tt.desc, tt.stats)
			}
		})
	}
}

func TestLegacyRenderFailureFallsBackToText(t *testing.T) {
	gen := testutil.NewScriptedGenerator("📜 МАНИФЕСТ ИВАНА\n\nТезис один.\nТезис два.")
	r := &testutil.StubRenderer{Err: errors.New("no fonts")}
	e := newTestEngine(t, nil, WithGenerator(gen), WithRenderer(r))

	choose(t, e, "u1", string(models.CommandLegacy))
	text(t, e, "u1", "Он не сдавался")
	effects := text(t, e, "u1", "Терпение, труд, тишина")

	texts := visible(effects)
	if len(texts) != 1 || effects[0].Kind != models.EffectText {
		t.Fatalf("expected a text fallback, got %+v", effects)
	}
	if !strings.HasPrefix(texts[0], "📜 МАНИФЕСТ ИВАНА") || !strings.HasSuffix(texts[0], manifestoCaption) {
		t.Errorf("unexpected fallback %q", texts[0])
	}
	call, _ := r.LastCall()
	if call.Fields.Title != "📜 МАНИФЕСТ ИВАНА" || call.Text != "Тезис один.\nТезис два." {
		t.Errorf("unexpected render call %+v", call)
	}
}

func TestSplitManifesto(t *testing.T) {
	title, body := splitManifesto("Первая строка\nВторая")
	if title != manifestoTitle || body != "Первая строка\nВторая" {
		t.Errorf("got %q / %q", title, body)
	}
}

func TestParseCodename(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"**IRON_WOLF**", "IRON_WOLF"},
		{"Позывной: **Shadow Hunter** подходит", "Shadow Hunter"},
		{"\"night fox\" is fine", "NIGHT FOX"},
		{"CODENAME: ghost", "GHOST"},
		{"", DefaultCodename},
		{"   ", DefaultCodename},
	}
	for _, tt := range tests {
		if got := ParseCodename(tt.raw); got != tt.want {
			t.Errorf("ParseCodename(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestDossier(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	fear, goal := "Быть никем", "Свобода"
	st.UpsertProfile(ctx, "u1", models.ProfileUpdate{Fear: &fear, Goal: &goal})

	gen := testutil.NewScriptedGenerator("**IRON_WOLF**")
	r := &testutil.StubRenderer{}
	e := newTestEngine(t, st, WithGenerator(gen), WithRenderer(r))

	effects, err := e.Dossier(ctx, "u1")
	if err != nil {
		t.Fatalf("Dossier: %v", err)
	}
	if effects[0].Kind != models.EffectImage || !strings.Contains(effects[0].Text, "👤 Позывной: IRON_WOLF") {
		t.Errorf("unexpected effect %+v", effects[0])
	}
	call, _ := r.LastCall()
	if call.Card != render.CardDossier || call.Fields.Rows[0].Value != "IRON_WOLF" || call.Fields.Rows[3].Value != "Свобода" {
		t.Errorf("unexpected render call %+v", call)
	}

	if _, err := e.Dossier(ctx, "ghost"); !errors.Is(err, models.ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestGenericFallback(t *testing.T) {
	e := newTestEngine(t, nil)
	effects := text(t, e, "u1", "привет")
	if texts := visible(effects); texts[0] != TextMenuHint || len(effects[0].Choices) != 3 {
		t.Errorf("unexpected effects %+v", effects)
	}

	gen := testutil.NewScriptedGenerator("## Действуй")
	e = newTestEngine(t, nil, WithGenerator(gen))
	if texts := visible(text(t, e, "u1", "привет")); texts[0] != "Действуй" {
		t.Errorf("unexpected chat reply %q", texts)
	}
	if texts := visible(text(t, e, "u1", "/unknown")); texts[0] != TextMenuHint {
		t.Errorf("unknown commands should get the menu hint, got %q", texts)
	}
	if gen.CallCount() != 1 {
		t.Errorf("expected one generator call, got %d", gen.CallCount())
	}
}

func TestRoute(t *testing.T) {
	tests := []struct {
		ev   models.InboundEvent
		cmd  models.Command
		arg  string
		isOK bool
	}{
		{models.SelectionEvent("u", "hub_brain"), models.CommandHubBrain, "", true},
		{models.SelectionEvent("u", "complete_day_4"), cmdCompleteDay, "4", true},
		{models.SelectionEvent("u", "report_50_2025-01-02"), cmdScore, "report_50_2025-01-02", true},
		{models.SelectionEvent("u", "persp_old"), cmdLens, "persp_old", true},
		{models.TextEvent("u", "/test_day 2"), models.CommandTestDay, "2", true},
		{models.TextEvent("u", " Меню "), models.CommandMenu, "", true},
		{models.TextEvent("u", "просто текст"), "", "", false},
	}
	for _, tt := range tests {
		cmd, arg, ok := route(tt.ev)
		if cmd != tt.cmd || arg != tt.arg || ok != tt.isOK {
			t.Errorf("route(%+v) = %q, %q, %v", tt.ev, cmd, arg, ok)
		}
	}
}

func TestUserLocksSerializePerUser(t *testing.T) {
	var l userLocks
	unlock := l.lock("u1")

	acquired := make(chan struct{})
	go func() {
		u := l.lock("u1")
		close(acquired)
		u()
	}()

	// Another user is never blocked by u1.
	other := make(chan struct{})
	go func() {
		u := l.lock("u2")
		close(other)
		u()
	}()
	select {
	case <-other:
	case <-time.After(time.Second):
		t.Fatal("u2 blocked by u1")
	}

	select {
	case <-acquired:
		t.Fatal("second u1 lock acquired while held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("u1 lock never released")
	}
}

func TestConcurrentDispatchAcrossUsers(t *testing.T) {
	st := store.NewInMemoryStore()
	e := newTestEngine(t, st)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%5)
			ctx := context.Background()
			e.Dispatch(ctx, models.SelectionEvent(user, string(models.CommandWinLog)))
			e.Dispatch(ctx, models.TextEvent(user, fmt.Sprintf("win %d", i)))
		}(i)
	}
	wg.Wait()

	wins, _ := st.ListHistory(context.Background())
	if len(wins) == 0 || len(wins) > 20 {
		t.Errorf("unexpected number of wins %d", len(wins))
	}
}
