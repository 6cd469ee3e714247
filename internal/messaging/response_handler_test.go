package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AlterEgo/internal/flow"
	"github.com/BTreeMap/AlterEgo/internal/history"
	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/program"
	"github.com/BTreeMap/AlterEgo/internal/store"
	"github.com/BTreeMap/AlterEgo/internal/testutil"
)

// echoDispatcher answers every event with its own text and records the order.
type echoDispatcher struct {
	mu     sync.Mutex
	events []models.InboundEvent
	err    error
}

func (d *echoDispatcher) Dispatch(ctx context.Context, ev models.InboundEvent) ([]models.Effect, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	if d.err != nil {
		return nil, d.err
	}
	return []models.Effect{models.SendText("echo:" + ev.Text + ev.Choice)}, nil
}

func (d *echoDispatcher) Events() []models.InboundEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.InboundEvent(nil), d.events...)
}

func TestProcessResponse(t *testing.T) {
	svc := testutil.NewRecordingService()
	d := &echoDispatcher{}
	rh := NewResponseHandler(svc, d, NewDeliverer(svc, NewChoiceTracker()))

	err := rh.ProcessResponse(context.Background(), models.Response{From: "u1", Name: "Иван", Body: "hi"})
	if err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if ev := d.Events()[0]; ev.UserID != "u1" || ev.DisplayName != "Иван" || ev.Kind != models.EventText {
		t.Errorf("unexpected event %+v", ev)
	}
	if sent := svc.SentTo("u1"); len(sent) != 1 || sent[0].Body != "echo:hi" {
		t.Errorf("unexpected sent %+v", sent)
	}

	if err := rh.ProcessResponse(context.Background(), models.Response{From: " ", Body: "x"}); err == nil {
		t.Error("expected invalid sender error")
	}
}

func TestProcessResponseDispatchErrorAnswersUser(t *testing.T) {
	svc := testutil.NewRecordingService()
	d := &echoDispatcher{err: errors.New("boom")}
	rh := NewResponseHandler(svc, d, NewDeliverer(svc, nil))

	if err := rh.ProcessResponse(context.Background(), models.Response{From: "u1", Body: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	if sent := svc.SentTo("u1"); len(sent) != 1 || sent[0].Body != TextDispatchFailed {
		t.Errorf("expected the failure message, got %+v", sent)
	}
}

func TestMailboxPreservesPerUserOrder(t *testing.T) {
	svc := testutil.NewRecordingService()
	d := &echoDispatcher{}
	rh := NewResponseHandler(svc, d, NewDeliverer(svc, nil))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		rh.Enqueue(ctx, models.Response{From: "u1", Body: fmt.Sprint(i)})
		rh.Enqueue(ctx, models.Response{From: "u2", Body: fmt.Sprint(i)})
	}
	rh.Wait()

	for _, user := range []string{"u1", "u2"} {
		sent := svc.SentTo(user)
		if len(sent) != 10 {
			t.Fatalf("%s: expected 10 replies, got %d", user, len(sent))
		}
		for i, m := range sent {
			if m.Body != fmt.Sprintf("echo:%d", i) {
				t.Errorf("%s: reply %d = %q, out of order", user, i, m.Body)
			}
		}
	}
}

func TestStartConsumesResponses(t *testing.T) {
	svc := testutil.NewRecordingService()
	d := &echoDispatcher{}
	rh := NewResponseHandler(svc, d, NewDeliverer(svc, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rh.Start(ctx)
	svc.Push(models.Response{From: "u1", Body: "hi"})

	deadline := time.After(2 * time.Second)
	for len(svc.SentTo("u1")) == 0 {
		select {
		case <-deadline:
			t.Fatal("response was never processed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNumericReplyDrivesEngine(t *testing.T) {
	st := store.NewInMemoryStore()
	catalog, err := program.DefaultCatalog()
	if err != nil {
		t.Fatal(err)
	}
	engine := flow.NewEngine(st, history.NewCache(st), catalog)
	svc := testutil.NewRecordingService()
	rh := NewResponseHandler(svc, engine, NewDeliverer(svc, NewChoiceTracker()))
	ctx := context.Background()

	if err := rh.ProcessResponse(ctx, models.Response{From: "u1", Body: "/start"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	// "1" picks the first entry of the main menu.
	if err := rh.ProcessResponse(ctx, models.Response{From: "u1", Body: "1"}); err != nil {
		t.Fatalf("menu pick: %v", err)
	}
	sent := svc.SentTo("u1")
	if len(sent) != 2 || !strings.HasPrefix(sent[1].Body, "🧠 Центр Управления") {
		t.Errorf("unexpected replies %+v", sent)
	}
}

func TestNumericAnswerToTextStepIsKeptAsText(t *testing.T) {
	st := store.NewInMemoryStore()
	catalog, err := program.DefaultCatalog()
	if err != nil {
		t.Fatal(err)
	}
	engine := flow.NewEngine(st, history.NewCache(st), catalog)
	svc := testutil.NewRecordingService()
	rh := NewResponseHandler(svc, engine, NewDeliverer(svc, NewChoiceTracker()))
	ctx := context.Background()

	// Archive, then contracts, then a new contract whose deadline is just "1".
	for _, body := range []string{"/start", "3", "1", "1", "Earn 100k", "1", "shave my eyebrows"} {
		if err := rh.ProcessResponse(ctx, models.Response{From: "u1", Body: body}); err != nil {
			t.Fatalf("ProcessResponse(%q): %v", body, err)
		}
	}

	contracts, err := st.ListContracts(ctx, "u1")
	if err != nil {
		t.Fatalf("ListContracts: %v", err)
	}
	if len(contracts) != 1 {
		t.Fatalf("expected one contract, got %d (replies %+v)", len(contracts), svc.SentTo("u1"))
	}
	c := contracts[0]
	if c.Goal != "Earn 100k" || c.Deadline != "1" || c.Stake != "shave my eyebrows" {
		t.Errorf("unexpected contract %+v", c)
	}
}
