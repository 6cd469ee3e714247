package flow

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/BTreeMap/AlterEgo/internal/genai"
	"github.com/BTreeMap/AlterEgo/internal/history"
	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/program"
	"github.com/BTreeMap/AlterEgo/internal/render"
	"github.com/BTreeMap/AlterEgo/internal/store"
)

// Engine routes inbound events to companion controls, flow steps or the
// generic handler. Dispatches for one user are serialized.
type Engine struct {
	store    store.Store
	history  *history.Cache
	catalog  *program.Catalog
	gen      genai.Generator
	renderer render.Renderer
	sessions SessionStore
	defs     map[models.FlowType]*Definition
	controls map[models.Command]control

	now       func() time.Time
	loc       *time.Location
	intn      func(n int) int
	devUnlock bool
	period    time.Duration

	locks userLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithGenerator sets the text generator. Without one every generated reply uses static copy.
func WithGenerator(g genai.Generator) Option {
	return func(e *Engine) { e.gen = g }
}

// WithRenderer sets the card renderer. Without one cards degrade to text.
func WithRenderer(r render.Renderer) Option {
	return func(e *Engine) { e.renderer = r }
}

// WithSessionStore replaces the in-memory session store.
func WithSessionStore(s SessionStore) Option {
	return func(e *Engine) {
		if s != nil {
			e.sessions = s
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the zone used to date scores.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithRandom overrides the source used to pick quick wins.
func WithRandom(intn func(n int) int) Option {
	return func(e *Engine) {
		if intn != nil {
			e.intn = intn
		}
	}
}

// WithDevUnlock makes the blackbox unlock activate the subscription without a payment.
func WithDevUnlock(enabled bool) Option {
	return func(e *Engine) { e.devUnlock = enabled }
}

// WithSubscriptionPeriod sets how long one activation lasts.
func WithSubscriptionPeriod(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.period = d
		}
	}
}

// NewEngine creates an Engine with the built-in flows and controls.
func NewEngine(st store.Store, hist *history.Cache, catalog *program.Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		history:  hist,
		catalog:  catalog,
		sessions: NewMemorySessionStore(),
		defs:     DefaultDefinitions(),
		now:      time.Now,
		loc:      time.Local,
		intn:     rand.IntN,
		period:   models.DefaultSubscriptionPeriod,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.controls = defaultControls()
	slog.Debug("flow.NewEngine: created", "flows", len(e.defs), "controls", len(e.controls),
		"generator", e.gen != nil, "renderer", e.renderer != nil)
	return e
}

// Sessions exposes the session store.
func (e *Engine) Sessions() SessionStore {
	return e.sessions
}

// request is the routed view of one inbound event.
type request struct {
	ev      models.InboundEvent
	cmd     models.Command
	arg     string
	profile *models.Profile
}

// Internal routing commands for parameterized selections.
const (
	cmdLens        models.Command = "persp"
	cmdScore       models.Command = "report"
	cmdCompleteDay models.Command = "complete_day"
)

// route extracts the command carried by ev. ok is false for plain text.
func route(ev models.InboundEvent) (cmd models.Command, arg string, ok bool) {
	switch ev.Kind {
	case models.EventSelection:
		id := strings.TrimSpace(ev.Choice)
		switch {
		case strings.HasPrefix(id, models.PrefixLens):
			return cmdLens, id, true
		case strings.HasPrefix(id, models.PrefixScore):
			return cmdScore, id, true
		case strings.HasPrefix(id, models.PrefixCompleteDay):
			return cmdCompleteDay, strings.TrimPrefix(id, models.PrefixCompleteDay), true
		}
		return models.Command(id), "", id != ""
	case models.EventText:
		if cmd, arg, ok := models.ParseSlashCommand(ev.Text); ok {
			return cmd, arg, true
		}
		switch strings.ToLower(strings.TrimSpace(ev.Text)) {
		case "меню", "menu":
			return models.CommandMenu, "", true
		}
	}
	return "", "", false
}

// Dispatch handles one inbound event and returns the effects to deliver, in order.
// User-facing failures are reported as effects; an error means the event itself was unusable.
func (e *Engine) Dispatch(ctx context.Context, ev models.InboundEvent) ([]models.Effect, error) {
	if strings.TrimSpace(ev.UserID) == "" {
		return nil, models.ErrEmptyUserID
	}
	unlock := e.locks.lock(ev.UserID)
	defer unlock()

	sess := e.sessions.Get(ev.UserID)
	slog.Debug("Engine.Dispatch", "userID", ev.UserID, "kind", ev.Kind, "session", sess != nil)

	if sess != nil && ev.Kind == models.EventText && models.IsExitKeyword(ev.Text) {
		e.sessions.Delete(ev.UserID)
		slog.Info("Engine.Dispatch: session closed", "userID", ev.UserID, "flow", sess.Flow)
		return []models.Effect{models.SendText(TextSessionClosed), models.SessionCleared()}, nil
	}

	req := &request{ev: ev, profile: e.ensureProfile(ctx, ev)}
	cmd, arg, isCmd := route(ev)
	req.cmd, req.arg = cmd, arg

	if isCmd {
		if cmd == cmdLens {
			if sess != nil && sess.Flow == models.FlowPerspective {
				return e.advance(ctx, sess, req), nil
			}
			return []models.Effect{models.SendText(TextStaleChoice)}, nil
		}
		if c, ok := e.controls[cmd]; ok {
			slog.Debug("Engine.Dispatch: control", "userID", ev.UserID, "command", cmd)
			return c(ctx, e, req), nil
		}
		if flow, ok := models.FlowEntry[cmd]; ok {
			return e.start(sess, req, flow), nil
		}
	}

	if sess != nil {
		return e.advance(ctx, sess, req), nil
	}
	return e.fallback(ctx, req), nil
}

// ensureProfile creates the profile on first contact. A store failure is
// logged and the dispatch continues without a profile.
func (e *Engine) ensureProfile(ctx context.Context, ev models.InboundEvent) *models.Profile {
	p, err := e.store.EnsureProfile(ctx, ev.UserID, ev.DisplayName, "")
	if err != nil {
		slog.Warn("Engine.ensureProfile: store unavailable", "userID", ev.UserID, "error", err)
		return nil
	}
	return p
}

// start opens a new session for flow, silently discarding any other one.
func (e *Engine) start(prev *models.Session, req *request, flow models.FlowType) []models.Effect {
	def, ok := e.defs[flow]
	if !ok {
		slog.Error("Engine.start: no definition", "flow", flow)
		return []models.Effect{models.SendText(TextMenuHint)}
	}
	if prev != nil {
		slog.Info("Engine.start: discarding session", "userID", req.ev.UserID, "from", prev.Flow, "to", flow)
	}
	s := models.NewSession(req.ev.UserID, flow, e.now())
	if !def.open() {
		s.Phase = def.Steps[0].phase()
	}
	e.sessions.Put(s)
	slog.Info("Engine.start: flow started", "userID", req.ev.UserID, "flow", flow)
	return def.entry(s)
}

// advance feeds one event into the active session.
func (e *Engine) advance(ctx context.Context, sess *models.Session, req *request) []models.Effect {
	def, ok := e.defs[sess.Flow]
	if !ok || (!def.open() && sess.Step >= len(def.Steps)) {
		slog.Error("Engine.advance: corrupt session, dropping", "userID", sess.UserID, "flow", sess.Flow, "step", sess.Step)
		e.sessions.Delete(sess.UserID)
		return []models.Effect{models.SendText(TextMenuHint), models.SessionCleared()}
	}

	if def.open() {
		if req.ev.Kind != models.EventText {
			return []models.Effect{models.SendText(TextChatOnlyText)}
		}
		return def.Converse(ctx, e, req.profile, strings.TrimSpace(req.ev.Text))
	}

	step := def.Steps[sess.Step]
	if step.Cancel != "" && req.ev.Kind == models.EventSelection && req.ev.Choice == step.Cancel {
		e.sessions.Delete(sess.UserID)
		slog.Info("Engine.advance: flow cancelled", "userID", sess.UserID, "flow", sess.Flow)
		return []models.Effect{models.SendText(TextCancelled), models.SessionCleared()}
	}

	answer, valid := step.accept(req.ev)
	if !valid {
		slog.Debug("Engine.advance: invalid input", "userID", sess.UserID, "flow", sess.Flow, "step", step.Key)
		return step.reprompt(sess)
	}

	next := sess.Clone()
	next.Answers[step.Key] = answer
	next.Step++
	if next.Step < len(def.Steps) {
		next.Phase = def.Steps[next.Step].phase()
		e.sessions.Put(next)
		return []models.Effect{def.Steps[next.Step].Prompt(next)}
	}

	effects, err := def.Finalize(ctx, e, FinalizeContext{
		UserID:  sess.UserID,
		Profile: req.profile,
		Answers: next.Answers,
		Now:     e.now(),
	})
	if err != nil {
		slog.Error("Engine.advance: finalize failed, keeping session", "userID", sess.UserID, "flow", sess.Flow, "error", err)
		return []models.Effect{models.SendText(TextPersistFailed)}
	}
	e.sessions.Delete(sess.UserID)
	slog.Info("Engine.advance: flow completed", "userID", sess.UserID, "flow", sess.Flow)
	return append(effects, models.SessionCleared())
}

const chatSystem = "Ты — Alter Ego, цифровой двойник пользователя. Та версия его, которая не знает лени. " +
	"Отвечай кратко, жестко и по делу."

// fallback answers anything no control or session claimed.
func (e *Engine) fallback(ctx context.Context, req *request) []models.Effect {
	if req.ev.Kind != models.EventText || strings.HasPrefix(strings.TrimSpace(req.ev.Text), "/") {
		return []models.Effect{models.SendText(TextMenuHint, mainMenu()...)}
	}
	text := strings.TrimSpace(req.ev.Text)
	if text == "" || e.gen == nil {
		return []models.Effect{models.SendText(TextMenuHint, mainMenu()...)}
	}
	reply := genai.GenerateOrFallback(ctx, e.gen, chatSystem, text, "")
	if reply == "" {
		return []models.Effect{models.SendText(TextMenuHint, mainMenu()...)}
	}
	return []models.Effect{models.SendText(genai.CleanFormat(reply))}
}

// generate is GenerateOrFallback followed by the markdown cleanup every reply gets.
func (e *Engine) generate(ctx context.Context, system, user, fallback string) string {
	return genai.CleanFormat(genai.GenerateOrFallback(ctx, e.gen, system, user, fallback))
}

// today is the calendar date in the engine's zone.
func (e *Engine) today() string {
	return e.now().In(e.loc).Format(models.DateLayout)
}
