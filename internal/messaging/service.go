// Package messaging connects the dialogue engine to a chat transport: it
// delivers effects, tracks numbered choice menus and feeds inbound messages
// back to the engine one user at a time.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// minPhoneDigits is the shortest number accepted as a recipient.
	minPhoneDigits = 6
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides channels for receipt and response events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// The canonical form is the user id the engine sees.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendImage sends a PNG with a caption.
	SendImage(ctx context.Context, to string, img []byte, caption string) error

	// SendWithChoices sends body followed by a numbered list of choices.
	SendWithChoices(ctx context.Context, to string, body string, choices []models.Choice) error

	// EditLastMessage replaces the previous outbound message. Transports that
	// cannot edit send body as a new message.
	EditLastMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming user messages.
	Responses() <-chan models.Response
}

var phoneNumberRegex = regexp.MustCompile(`\D`)

// CanonicalizePhone strips everything but digits and requires at least six of them.
func CanonicalizePhone(recipient string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	if canonical != recipient {
		slog.Debug("messaging.CanonicalizePhone: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// FormatChoices renders choices as a numbered list under body.
func FormatChoices(body string, choices []models.Choice) string {
	if len(choices) == 0 {
		return body
	}
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	for i, c := range choices {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Label)
	}
	b.WriteString("\n\n(Ответь цифрой)")
	return b.String()
}

// emit pushes v into ch unless the channel stays full for DefaultChannelTimeout.
func emit[T any](ch chan T, v T, what, to string) {
	select {
	case ch <- v:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging: channel blocked, dropping "+what, "to", to, "timeout", DefaultChannelTimeout)
	}
}
