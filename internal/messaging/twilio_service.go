package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/twiliowhatsapp"
)

// MediaPublisher makes an image reachable by URL so Twilio can fetch it.
type MediaPublisher interface {
	Publish(img []byte) (url string, err error)
}

// TwilioService implements Service on top of the Twilio REST API. Inbound
// messages arrive through TwilioWebhookHandler.
type TwilioService struct {
	client    twiliowhatsapp.TwilioWhatsAppSender
	media     MediaPublisher
	receipts  chan models.Receipt
	responses chan models.Response

	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a TwilioService. Without a MediaPublisher images are
// sent as their caption only.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, media MediaPublisher) *TwilioService {
	return &TwilioService{
		client:    client,
		media:     media,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient strips the whatsapp: prefix and every non-digit.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(strings.TrimPrefix(recipient, "whatsapp:"))
}

// Start is a no-op for Twilio (no live client)
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.responses)
	return nil
}

func (s *TwilioService) send(to string, fn func(canonical string) error) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService recipient validation failed", "error", err, "to", to)
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServiceStopped
	}
	if err := fn(canonical); err != nil {
		return err
	}
	emit(s.receipts, models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()}, "receipt", canonical)
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	return s.send(to, func(c string) error { return s.client.SendMessage(ctx, c, body) })
}

// SendImage publishes the image and sends it as media with the caption.
func (s *TwilioService) SendImage(ctx context.Context, to string, img []byte, caption string) error {
	if s.media == nil {
		slog.Warn("TwilioService.SendImage: no media publisher, sending caption only", "to", to)
		return s.SendMessage(ctx, to, caption)
	}
	url, err := s.media.Publish(img)
	if err != nil {
		return fmt.Errorf("failed to publish image: %w", err)
	}
	return s.send(to, func(c string) error { return s.client.SendMedia(ctx, c, caption, url) })
}

// SendWithChoices sends body with the choices as a numbered list.
func (s *TwilioService) SendWithChoices(ctx context.Context, to string, body string, choices []models.Choice) error {
	return s.SendMessage(ctx, to, FormatChoices(body, choices))
}

// EditLastMessage sends body as a new message; Twilio cannot edit sent messages.
func (s *TwilioService) EditLastMessage(ctx context.Context, to string, body string) error {
	return s.SendMessage(ctx, to, body)
}

// Receipts returns the channel for sent message receipts
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel for messages received through the webhook.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them as models.Response into the Responses() channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService webhook: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService webhook: missing fields", "from", from, "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	canonical, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}
	response := models.Response{
		From: canonical,
		Name: r.FormValue("ProfileName"),
		Body: body,
		Time: time.Now().Unix(),
	}

	s.mu.RLock()
	stopped := s.stopped
	if !stopped {
		emit(s.responses, response, "response", canonical)
	}
	s.mu.RUnlock()
	if stopped {
		http.Error(w, "Service stopped", http.StatusServiceUnavailable)
		return
	}
	slog.Info("TwilioService webhook: inbound message", "from", canonical)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
