package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // Access to underlying client for event handling
	receipts  chan models.Receipt
	responses chan models.Response

	mu      sync.RWMutex
	stopped bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start registers the event handler when a live client is available.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no live client, skipping event handling")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		}
	})
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes the event channels. Calling it twice is a no-op.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.responses)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// send runs fn unless the service is stopped and emits a sent receipt on success.
func (s *WhatsAppService) send(to string, fn func(canonical string) error) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServiceStopped
	}
	if err := fn(canonical); err != nil {
		slog.Error("WhatsAppService send failed", "error", err, "to", canonical)
		return err
	}
	emit(s.receipts, models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()}, "receipt", canonical)
	return nil
}

// SendMessage sends a text message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	return s.send(to, func(c string) error { return s.client.SendMessage(ctx, c, body) })
}

// SendImage uploads and sends an image.
func (s *WhatsAppService) SendImage(ctx context.Context, to string, img []byte, caption string) error {
	return s.send(to, func(c string) error { return s.client.SendImage(ctx, c, img, caption) })
}

// SendWithChoices sends body with the choices as a numbered list.
func (s *WhatsAppService) SendWithChoices(ctx context.Context, to string, body string, choices []models.Choice) error {
	return s.SendMessage(ctx, to, FormatChoices(body, choices))
}

// EditLastMessage edits the previous message, or sends a new one when there is nothing to edit.
func (s *WhatsAppService) EditLastMessage(ctx context.Context, to string, body string) error {
	err := s.send(to, func(c string) error { return s.client.EditLastMessage(ctx, c, body) })
	if errors.Is(err, whatsapp.ErrNothingToEdit) {
		slog.Debug("WhatsAppService.EditLastMessage: nothing to edit, sending new message", "to", to)
		return s.SendMessage(ctx, to, body)
	}
	return err
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of incoming response events.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// messageText extracts the text of a plain or extended text message.
func messageText(evt *events.Message) (string, bool) {
	if evt.Message == nil {
		return "", false
	}
	if evt.Message.Conversation != nil {
		return *evt.Message.Conversation, true
	}
	if ext := evt.Message.ExtendedTextMessage; ext != nil && ext.Text != nil {
		return *ext.Text, true
	}
	return "", false
}

func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	text, ok := messageText(evt)
	if !ok {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.User)
		return
	}
	response := models.Response{
		From: strings.TrimPrefix(evt.Info.Sender.User, "+"),
		Name: evt.Info.PushName,
		Body: text,
		Time: evt.Info.Timestamp.Unix(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	emit(s.responses, response, "response", response.From)
}

func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	receipt := models.Receipt{To: evt.MessageSource.Sender.User, Status: status, Time: evt.Timestamp.Unix()}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	emit(s.receipts, receipt, "receipt", receipt.To)
}
