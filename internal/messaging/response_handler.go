package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

// Dispatcher turns one inbound event into the effects to deliver.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.InboundEvent) ([]models.Effect, error)
}

// TextDispatchFailed is sent when an inbound message could not be handled at all.
const TextDispatchFailed = "⚠️ Что-то пошло не так. Попробуй еще раз или открой /menu"

// mailboxSize bounds the messages queued for one user.
const mailboxSize = 32

// ResponseHandler consumes a Service's responses, dispatches them to the engine
// and delivers the resulting effects. Messages from one user are handled in
// arrival order; different users are handled concurrently.
type ResponseHandler struct {
	svc       Service
	engine    Dispatcher
	deliverer *Deliverer
	tracker   *ChoiceTracker

	mu        sync.Mutex
	mailboxes map[string]chan models.Response
	wg        sync.WaitGroup
}

// NewResponseHandler creates a ResponseHandler. Effects go out through deliverer,
// whose tracker also resolves numeric replies.
func NewResponseHandler(svc Service, engine Dispatcher, deliverer *Deliverer) *ResponseHandler {
	tracker := deliverer.tracker
	if tracker == nil {
		tracker = NewChoiceTracker()
	}
	return &ResponseHandler{
		svc:       svc,
		engine:    engine,
		deliverer: deliverer,
		tracker:   tracker,
		mailboxes: make(map[string]chan models.Response),
	}
}

// ProcessResponse handles one inbound message synchronously.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	userID, err := rh.svc.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler.ProcessResponse: invalid sender", "error", err, "from", response.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	ev := rh.tracker.Event(userID, response.Name, response.Body)
	slog.Debug("ResponseHandler.ProcessResponse", "userID", userID, "kind", ev.Kind)

	effects, err := rh.engine.Dispatch(ctx, ev)
	if err != nil {
		slog.Error("ResponseHandler.ProcessResponse: dispatch failed", "error", err, "userID", userID)
		rh.tracker.Forget(userID)
		if sendErr := rh.svc.SendMessage(ctx, userID, TextDispatchFailed); sendErr != nil {
			slog.Error("ResponseHandler.ProcessResponse: failed to send error message", "error", sendErr, "userID", userID)
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}
	if err := rh.deliverer.Deliver(ctx, userID, effects); err != nil {
		slog.Error("ResponseHandler.ProcessResponse: delivery failed", "error", err, "userID", userID)
		return err
	}
	return nil
}

// Enqueue queues response on its sender's mailbox, starting a worker when the
// sender has none. A full mailbox drops the message.
func (rh *ResponseHandler) Enqueue(ctx context.Context, response models.Response) {
	userID, err := rh.svc.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Warn("ResponseHandler.Enqueue: invalid sender", "error", err, "from", response.From)
		return
	}

	rh.mu.Lock()
	defer rh.mu.Unlock()
	mb, ok := rh.mailboxes[userID]
	if !ok {
		mb = make(chan models.Response, mailboxSize)
		rh.mailboxes[userID] = mb
		rh.wg.Add(1)
		go rh.drain(ctx, userID, mb)
	}
	select {
	case mb <- response:
	default:
		slog.Warn("ResponseHandler.Enqueue: mailbox full, dropping message", "userID", userID)
	}
}

// drain processes one user's mailbox until it is empty, then retires it.
func (rh *ResponseHandler) drain(ctx context.Context, userID string, mb chan models.Response) {
	defer rh.wg.Done()
	for {
		select {
		case response := <-mb:
			if err := rh.ProcessResponse(ctx, response); err != nil {
				slog.Error("ResponseHandler.drain: failed to process response", "error", err, "userID", userID)
			}
			continue
		default:
		}

		rh.mu.Lock()
		if len(mb) == 0 {
			delete(rh.mailboxes, userID)
			rh.mu.Unlock()
			return
		}
		rh.mu.Unlock()
	}
}

// Start consumes the service's responses until ctx is cancelled or the channel closes.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting response processing")
	go func() {
		defer slog.Info("ResponseHandler stopped response processing")
		for {
			select {
			case response, ok := <-rh.svc.Responses():
				if !ok {
					return
				}
				rh.Enqueue(ctx, response)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until every mailbox worker has finished.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}
