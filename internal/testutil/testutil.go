// Package testutil provides common test utilities and fakes for AlterEgo tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/render"
)

// ErrScripted is returned by a ScriptedGenerator configured to fail.
var ErrScripted = errors.New("scripted generator failure")

// GeneratorCall records one Generate invocation.
type GeneratorCall struct {
	System string
	User   string
}

// ScriptedGenerator returns queued replies in order, then Default.
// When Fail is set every call returns ErrScripted.
type ScriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	Default string
	Fail    bool
	Calls   []GeneratorCall
}

// NewScriptedGenerator creates a generator that answers with replies in order.
func NewScriptedGenerator(replies ...string) *ScriptedGenerator {
	return &ScriptedGenerator{replies: replies}
}

// Generate implements genai.Generator.
func (g *ScriptedGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, GeneratorCall{System: system, User: user})
	if g.Fail {
		return "", ErrScripted
	}
	if len(g.replies) == 0 {
		return g.Default, nil
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r, nil
}

// CallCount returns the number of Generate calls so far.
func (g *ScriptedGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// RenderCall records one Render invocation.
type RenderCall struct {
	Card   render.Card
	Text   string
	Fields render.Fields
}

// StubRenderer returns a fixed payload per card without drawing anything.
type StubRenderer struct {
	mu    sync.Mutex
	Err   error
	Calls []RenderCall
}

// Render implements render.Renderer.
func (r *StubRenderer) Render(card render.Card, text string, f render.Fields) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, RenderCall{Card: card, Text: text, Fields: f})
	if r.Err != nil {
		return nil, r.Err
	}
	return []byte("png:" + string(card)), nil
}

// LastCall returns the most recent render call.
func (r *StubRenderer) LastCall() (RenderCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Calls) == 0 {
		return RenderCall{}, false
	}
	return r.Calls[len(r.Calls)-1], true
}

// Sent is one outbound call recorded by RecordingService.
type Sent struct {
	Kind    models.EffectKind
	To      string
	Body    string
	Image   []byte
	Choices []models.Choice
}

// RecordingService is an in-memory messaging service. Recipients are used as
// given; an empty one is rejected.
type RecordingService struct {
	mu        sync.Mutex
	sent      []Sent
	Err       error
	responses chan models.Response
	receipts  chan models.Receipt
	stopped   bool
}

// NewRecordingService creates a RecordingService with buffered channels.
func NewRecordingService() *RecordingService {
	return &RecordingService{
		responses: make(chan models.Response, 16),
		receipts:  make(chan models.Receipt, 16),
	}
}

func (s *RecordingService) record(m Sent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *RecordingService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	r := strings.TrimSpace(recipient)
	if r == "" {
		return "", errors.New("recipient cannot be empty")
	}
	return r, nil
}

func (s *RecordingService) SendMessage(ctx context.Context, to, body string) error {
	return s.record(Sent{Kind: models.EffectText, To: to, Body: body})
}

func (s *RecordingService) SendImage(ctx context.Context, to string, img []byte, caption string) error {
	return s.record(Sent{Kind: models.EffectImage, To: to, Body: caption, Image: img})
}

func (s *RecordingService) SendWithChoices(ctx context.Context, to, body string, choices []models.Choice) error {
	return s.record(Sent{Kind: models.EffectText, To: to, Body: body, Choices: choices})
}

func (s *RecordingService) EditLastMessage(ctx context.Context, to, body string) error {
	return s.record(Sent{Kind: models.EffectEdit, To: to, Body: body})
}

func (s *RecordingService) Start(ctx context.Context) error { return nil }

func (s *RecordingService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.responses)
		close(s.receipts)
	}
	return nil
}

func (s *RecordingService) Receipts() <-chan models.Receipt   { return s.receipts }
func (s *RecordingService) Responses() <-chan models.Response { return s.responses }

// Push injects an inbound message.
func (s *RecordingService) Push(r models.Response) {
	s.responses <- r
}

// Sent returns a copy of every recorded call.
func (s *RecordingService) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// SentTo returns the recorded calls for one recipient.
func (s *RecordingService) SentTo(to string) []Sent {
	var out []Sent
	for _, m := range s.Sent() {
		if m.To == to {
			out = append(out, m)
		}
	}
	return out
}

// TB is the subset of testing.TB the assertion helpers use.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// CreateJSONRequest creates an HTTP request from a raw JSON string.
func CreateJSONRequest(t TB, method, url, jsonBody string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(jsonBody))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if jsonBody != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
