package program

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/AlterEgo/internal/genai"
	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/store"
)

// Slot identifies a daily trigger.
type Slot string

const (
	SlotMorning Slot = "morning"
	SlotEvening Slot = "evening"
)

// DefaultConcurrency bounds parallel per-user deliveries within one scan.
const DefaultConcurrency = 8

// Sink delivers effects to a user through the active transport.
type Sink interface {
	Deliver(ctx context.Context, userID string, effects []models.Effect) error
}

// UserFailure records one user the scan could not serve.
type UserFailure struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// Report summarizes one broadcast scan. A failure for one user never aborts the scan.
type Report struct {
	Slot      Slot          `json:"slot"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Attempted int           `json:"attempted"`
	Delivered int           `json:"delivered"`
	Completed int           `json:"completed"`
	Failures  []UserFailure `json:"failures,omitempty"`
}

// Broadcaster runs the morning and evening scans over every known profile.
type Broadcaster struct {
	store       store.Store
	sink        Sink
	catalog     *Catalog
	gen         genai.Generator
	loc         *time.Location
	concurrency int

	// runMu keeps the two triggers from overlapping.
	runMu sync.Mutex
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithGenerator sets the generator used for fallback content.
func WithGenerator(g genai.Generator) Option {
	return func(b *Broadcaster) { b.gen = g }
}

// WithLocation sets the zone used to date evening scores.
func WithLocation(loc *time.Location) Option {
	return func(b *Broadcaster) {
		if loc != nil {
			b.loc = loc
		}
	}
}

// WithConcurrency bounds parallel deliveries. Values below 1 mean sequential.
func WithConcurrency(n int) Option {
	return func(b *Broadcaster) { b.concurrency = n }
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(st store.Store, sink Sink, catalog *Catalog, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		store:       st,
		sink:        sink,
		catalog:     catalog,
		loc:         time.Local,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.concurrency < 1 {
		b.concurrency = 1
	}
	return b
}

// Catalog returns the program catalog.
func (b *Broadcaster) Catalog() *Catalog {
	return b.catalog
}

// Run executes the scan for slot.
func (b *Broadcaster) Run(ctx context.Context, slot Slot, now time.Time) (Report, error) {
	switch slot {
	case SlotMorning:
		return b.RunMorning(ctx, now)
	case SlotEvening:
		return b.RunEvening(ctx, now)
	}
	return Report{}, fmt.Errorf("unknown slot %q", slot)
}

// RunMorning sends each user their day content, or generated fallback content.
func (b *Broadcaster) RunMorning(ctx context.Context, now time.Time) (Report, error) {
	return b.scan(ctx, SlotMorning, now, b.morningEffects)
}

// RunEvening asks each user for a same-day score.
func (b *Broadcaster) RunEvening(ctx context.Context, now time.Time) (Report, error) {
	return b.scan(ctx, SlotEvening, now, b.eveningEffects)
}

// userEffects builds one user's effects; completes reports that they carry the
// completion notice, which is recorded only once delivery succeeds.
type userEffects func(ctx context.Context, p *models.Profile, now time.Time) (effects []models.Effect, completes bool, err error)

func (b *Broadcaster) scan(ctx context.Context, slot Slot, now time.Time, build userEffects) (Report, error) {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	report := Report{Slot: slot, StartedAt: time.Now()}
	profiles, err := b.store.ListProfiles(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list profiles: %w", err)
	}
	slog.Info("Broadcaster.scan: starting", "slot", slot, "users", len(profiles))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i := range profiles {
		p := &profiles[i]
		g.Go(func() error {
			err := b.serve(gctx, p, now, build, &report, &mu)
			if err != nil {
				slog.Warn("Broadcaster.scan: delivery failed", "slot", slot, "userID", p.UserID, "error", err)
				mu.Lock()
				report.Failures = append(report.Failures, UserFailure{UserID: p.UserID, Error: err.Error()})
				mu.Unlock()
			}
			// Per-user failures are collected, never returned, so the group keeps going.
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].UserID < report.Failures[j].UserID })
	report.Attempted = len(profiles)
	report.Duration = time.Since(report.StartedAt)
	slog.Info("Broadcaster.scan: finished", "slot", slot, "attempted", report.Attempted,
		"delivered", report.Delivered, "failed", len(report.Failures))
	return report, nil
}

func (b *Broadcaster) serve(ctx context.Context, p *models.Profile, now time.Time, build userEffects, report *Report, mu *sync.Mutex) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	effects, completes, err := build(ctx, p, now)
	if err != nil {
		return err
	}
	if err := b.sink.Deliver(ctx, p.UserID, effects); err != nil {
		return err
	}
	first := false
	if completes {
		first, err = b.store.MarkProgramCompleted(ctx, p.UserID, now)
		if err != nil {
			slog.Error("Broadcaster.serve: failed to mark program completed", "userID", p.UserID, "error", err)
			first = false
		}
	}
	mu.Lock()
	report.Delivered++
	if first {
		report.Completed++
	}
	mu.Unlock()
	return nil
}

func (b *Broadcaster) morningEffects(ctx context.Context, p *models.Profile, now time.Time) ([]models.Effect, bool, error) {
	day := DayNumber(p.SubscriptionStart, now)
	active := p.IsActive(now)

	var effects []models.Effect
	completes := active && day == b.catalog.Last()+1 && p.ProgramCompletedAt == nil
	if completes {
		effects = append(effects, models.SendText(CompletionNotice))
	}

	if content, ok := b.catalog.Day(day); active && ok {
		text := PremiumText(content, p.Goal) + "\n\n" + MorningTail
		return append(effects, models.SendText(text, DayChoice(day))), completes, nil
	}

	text := genai.CleanFormat(genai.GenerateOrFallback(ctx, b.gen, morningSystem, morningContext(p), MorningFallback))
	if !active {
		text += "\n\n" + LockedNotice
	}
	text += "\n\n" + MorningTail
	return append(effects, models.SendText(text)), completes, nil
}

func (b *Broadcaster) eveningEffects(ctx context.Context, p *models.Profile, now time.Time) ([]models.Effect, bool, error) {
	text := genai.CleanFormat(genai.GenerateOrFallback(ctx, b.gen, eveningSystem, eveningContext(p), EveningFallback))
	date := now.In(b.loc).Format(models.DateLayout)
	return []models.Effect{models.SendText(text, ScoreChoices(date)...)}, false, nil
}
