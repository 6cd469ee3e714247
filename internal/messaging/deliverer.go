package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

// ChoiceTracker remembers the latest numbered menu sent to each user so a
// numeric reply can be turned back into the selection it stands for.
type ChoiceTracker struct {
	mu    sync.Mutex
	menus map[string][]models.Choice
}

// NewChoiceTracker creates an empty tracker.
func NewChoiceTracker() *ChoiceTracker {
	return &ChoiceTracker{menus: make(map[string][]models.Choice)}
}

// Remember replaces the user's current menu.
func (t *ChoiceTracker) Remember(userID string, choices []models.Choice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.menus[userID] = append([]models.Choice(nil), choices...)
}

// Forget drops the user's menu.
func (t *ChoiceTracker) Forget(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.menus, userID)
}

// Event converts a reply into an inbound event. A number matching an entry of
// the user's latest menu becomes a selection; anything else stays text.
func (t *ChoiceTracker) Event(userID, displayName, body string) models.InboundEvent {
	ev := models.TextEvent(userID, body)
	ev.DisplayName = displayName

	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil {
		return ev
	}
	t.mu.Lock()
	menu := t.menus[userID]
	t.mu.Unlock()
	if n < 1 || n > len(menu) {
		return ev
	}
	sel := models.SelectionEvent(userID, menu[n-1].ID)
	sel.DisplayName = displayName
	return sel
}

// Deliverer sends effects through a Service in order. It implements program.Sink.
type Deliverer struct {
	svc     Service
	tracker *ChoiceTracker
}

// NewDeliverer creates a Deliverer. tracker may be nil when numeric replies are not resolved.
func NewDeliverer(svc Service, tracker *ChoiceTracker) *Deliverer {
	return &Deliverer{svc: svc, tracker: tracker}
}

// Deliver sends effects to userID in order and stops at the first failure.
func (d *Deliverer) Deliver(ctx context.Context, userID string, effects []models.Effect) error {
	for i, ef := range effects {
		if err := d.deliver(ctx, userID, ef); err != nil {
			return fmt.Errorf("failed to deliver effect %d (%s) to %s: %w", i, ef.Kind, userID, err)
		}
	}
	return nil
}

func (d *Deliverer) deliver(ctx context.Context, userID string, ef models.Effect) error {
	switch ef.Kind {
	case models.EffectText:
		if len(ef.Choices) == 0 {
			d.forget(userID)
			return d.svc.SendMessage(ctx, userID, ef.Text)
		}
		if d.tracker != nil {
			d.tracker.Remember(userID, ef.Choices)
		}
		return d.svc.SendWithChoices(ctx, userID, ef.Text, ef.Choices)
	case models.EffectImage:
		d.forget(userID)
		return d.svc.SendImage(ctx, userID, ef.Image, ef.Text)
	case models.EffectEdit:
		d.forget(userID)
		return d.svc.EditLastMessage(ctx, userID, ef.Text)
	case models.EffectClearSession:
		return nil
	}
	slog.Warn("Deliverer.deliver: unknown effect kind", "kind", ef.Kind, "userID", userID)
	return nil
}

// forget drops the user's menu once a message without choices has replaced it,
// so a numeric answer to a free-text prompt stays text.
func (d *Deliverer) forget(userID string) {
	if d.tracker != nil {
		d.tracker.Forget(userID)
	}
}
