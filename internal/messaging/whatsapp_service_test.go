package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/twiliowhatsapp"
	"github.com/BTreeMap/AlterEgo/internal/whatsapp"
)

// Ensure both transports implement Service
func TestServicesImplementService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 123-4567", "15551234567", false},
		{"79991234567", "79991234567", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalizePhone(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("CanonicalizePhone(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestFormatChoices(t *testing.T) {
	got := FormatChoices("Выбери:", []models.Choice{{ID: "a", Label: "Первый"}, {ID: "b", Label: "Второй"}})
	want := "Выбери:\n\n1. Первый\n2. Второй\n\n(Ответь цифрой)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if FormatChoices("plain", nil) != "plain" {
		t.Error("no choices must leave body unchanged")
	}
}

// Test SendMessage emits a sent receipt
func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+7 999 123-45-67", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "79991234567" || receipt.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt %+v", receipt)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
	if sent := mockClient.Messages(); len(sent) != 1 || sent[0].To != "79991234567" {
		t.Errorf("unexpected sent messages %+v", sent)
	}
}

func TestWhatsAppService_Choices(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	choices := []models.Choice{{ID: "hub_brain", Label: "🧠"}}
	if err := svc.SendWithChoices(context.Background(), "79991234567", "menu", choices); err != nil {
		t.Fatalf("SendWithChoices: %v", err)
	}
	if sent := mockClient.Messages(); !strings.Contains(sent[0].Body, "1. 🧠") {
		t.Errorf("choices not rendered: %q", sent[0].Body)
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Receipts(); ok {
		t.Error("expected receipts channel closed")
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
	if err := svc.SendMessage(context.Background(), "79991234567", "late"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioService_SendImage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	pub := &stubPublisher{url: "https://bot.example/media/1"}
	svc := NewTwilioService(mock, pub)
	ctx := context.Background()

	if err := svc.SendImage(ctx, "whatsapp:+79991234567", []byte("png"), "caption"); err != nil {
		t.Fatalf("SendImage: %v", err)
	}
	sent := mock.Messages()
	if len(sent) != 1 || sent[0].MediaURL != pub.url || sent[0].Body != "caption" || sent[0].To != "79991234567" {
		t.Errorf("unexpected sent %+v", sent)
	}

	noMedia := NewTwilioService(mock, nil)
	if err := noMedia.SendImage(ctx, "79991234567", []byte("png"), "caption only"); err != nil {
		t.Fatalf("SendImage: %v", err)
	}
	if last := mock.Messages()[1]; last.MediaURL != "" || last.Body != "caption only" {
		t.Errorf("expected caption fallback, got %+v", last)
	}

	pub.err = errors.New("disk full")
	if err := svc.SendImage(ctx, "79991234567", []byte("png"), "x"); err == nil {
		t.Error("expected publish error")
	}
}

func TestTwilioService_EditSendsNewMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock, nil)
	if err := svc.EditLastMessage(context.Background(), "79991234567", "edited"); err != nil {
		t.Fatalf("EditLastMessage: %v", err)
	}
	if sent := mock.Messages(); len(sent) != 1 || sent[0].Body != "edited" {
		t.Errorf("unexpected sent %+v", sent)
	}
}

type stubPublisher struct {
	url string
	err error
}

func (p *stubPublisher) Publish(img []byte) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.url, nil
}
