package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/testutil"
)

func TestChoiceTrackerEvent(t *testing.T) {
	tr := NewChoiceTracker()
	tr.Remember("u1", []models.Choice{{ID: "hub_brain"}, {ID: "hub_action"}})

	tests := []struct {
		body   string
		kind   models.EventKind
		choice string
	}{
		{"2", models.EventSelection, "hub_action"},
		{" 1 ", models.EventSelection, "hub_brain"},
		{"3", models.EventText, ""},
		{"0", models.EventText, ""},
		{"привет", models.EventText, ""},
	}
	for _, tt := range tests {
		ev := tr.Event("u1", "Иван", tt.body)
		if ev.Kind != tt.kind || ev.Choice != tt.choice || ev.DisplayName != "Иван" {
			t.Errorf("Event(%q) = %+v", tt.body, ev)
		}
	}

	if ev := tr.Event("u2", "", "1"); ev.Kind != models.EventText {
		t.Error("a user without a menu gets text events")
	}
	tr.Forget("u1")
	if ev := tr.Event("u1", "", "1"); ev.Kind != models.EventText {
		t.Error("forgotten menu must not resolve")
	}
}

func TestDelivererSendsInOrder(t *testing.T) {
	svc := testutil.NewRecordingService()
	tr := NewChoiceTracker()
	d := NewDeliverer(svc, tr)

	effects := []models.Effect{
		models.EditLast("edited"),
		models.SendText("plain"),
		models.SendImage([]byte("png"), "caption"),
		models.SendText("menu", models.Choice{ID: "x", Label: "X"}),
		models.SessionCleared(),
	}
	if err := d.Deliver(context.Background(), "u1", effects); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	sent := svc.SentTo("u1")
	if len(sent) != 4 {
		t.Fatalf("expected 4 sends, got %d", len(sent))
	}
	wantKinds := []models.EffectKind{models.EffectEdit, models.EffectText, models.EffectImage, models.EffectText}
	for i, k := range wantKinds {
		if sent[i].Kind != k {
			t.Errorf("send %d: kind %s, want %s", i, sent[i].Kind, k)
		}
	}
	if len(sent[3].Choices) != 1 {
		t.Error("choices not passed to the service")
	}
	if ev := tr.Event("u1", "", "1"); ev.Choice != "x" {
		t.Error("delivered menu should be remembered")
	}
}

func TestDelivererStopsAtFirstFailure(t *testing.T) {
	svc := testutil.NewRecordingService()
	svc.Err = errors.New("offline")
	d := NewDeliverer(svc, nil)
	err := d.Deliver(context.Background(), "u1", []models.Effect{models.SendText("a"), models.SendText("b")})
	if err == nil || !errors.Is(err, svc.Err) {
		t.Errorf("expected wrapped service error, got %v", err)
	}
}

func TestDelivererForgetsMenuReplacedByPlainMessage(t *testing.T) {
	menu := models.SendText("menu", models.Choice{ID: "x", Label: "X"})
	tests := []struct {
		name string
		next models.Effect
	}{
		{"text", models.SendText("Напиши срок")},
		{"image", models.SendImage([]byte("png"), "caption")},
		{"edit", models.EditLast("edited")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testutil.NewRecordingService()
			tr := NewChoiceTracker()
			d := NewDeliverer(svc, tr)
			ctx := context.Background()

			if err := d.Deliver(ctx, "u1", []models.Effect{menu}); err != nil {
				t.Fatalf("Deliver menu: %v", err)
			}
			if err := d.Deliver(ctx, "u1", []models.Effect{tt.next}); err != nil {
				t.Fatalf("Deliver %s: %v", tt.name, err)
			}
			if ev := tr.Event("u1", "", "1"); ev.Kind != models.EventText || ev.Text != "1" {
				t.Errorf("stale menu resolved: %+v", ev)
			}
		})
	}
}

func TestDelivererKeepsMenuAfterSessionClear(t *testing.T) {
	svc := testutil.NewRecordingService()
	tr := NewChoiceTracker()
	d := NewDeliverer(svc, tr)
	effects := []models.Effect{models.SendText("menu", models.Choice{ID: "x", Label: "X"}), models.SessionCleared()}
	if err := d.Deliver(context.Background(), "u1", effects); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ev := tr.Event("u1", "", "1"); ev.Choice != "x" {
		t.Errorf("menu should survive a session clear, got %+v", ev)
	}
}
