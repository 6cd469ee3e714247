package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

// internalErrorBody is served when a response cannot be encoded.
var internalErrorBody = []byte(`{"status":"` + string(models.APIStatusError) + `","message":"Internal server error"}` + "\n")

// requestLogger tags log records with the request line and the chi request id.
func requestLogger(r *http.Request) *slog.Logger {
	return slog.With("method", r.Method, "path", r.URL.Path, "requestID", middleware.GetReqID(r.Context()))
}

// respond encodes resp before touching the writer so a failed encode still
// yields a well-formed 500.
func respond(w http.ResponseWriter, r *http.Request, status int, resp models.APIResponse) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	body := internalErrorBody
	if err := enc.Encode(resp); err != nil {
		requestLogger(r).Error("Server.respond: encode failed", "status", status, "error", err)
		status = http.StatusInternalServerError
	} else {
		body = buf.Bytes()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		requestLogger(r).Warn("Server.respond: write failed", "status", status, "error", err)
	}
}

// respondError writes an error envelope carrying msg.
func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	respond(w, r, status, models.Error(msg))
}
