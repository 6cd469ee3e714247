package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/AlterEgo/internal/models"
	"github.com/BTreeMap/AlterEgo/internal/program"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, models.Success(map[string]string{"service": "alterego"}))
}

func (s *Server) mediaHandler(w http.ResponseWriter, r *http.Request) {
	img, ok := s.media.Get(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(img))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := w.Write(img); err != nil {
		slog.Error("Server.mediaHandler: write failed", "error", err)
	}
}

// userID reads the {id} path parameter. It writes a 400 and returns false when it is blank.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, r, http.StatusBadRequest, models.ErrEmptyUserID.Error())
		return "", false
	}
	return id, true
}

func (s *Server) getProfileHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	p, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		slog.Error("Server.getProfileHandler: store failed", "userID", id, "error", err)
		respondError(w, r, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	if p == nil {
		respondError(w, r, http.StatusNotFound, models.ErrProfileNotFound.Error())
		return
	}
	respond(w, r, http.StatusOK, models.Success(p))
}

// putProfileHandler stores questionnaire answers and sends the user their dossier card.
func (s *Server) putProfileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var update models.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		slog.Warn("Server.putProfileHandler: failed to decode JSON", "error", err)
		respondError(w, r, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if update.IsEmpty() {
		respondError(w, r, http.StatusBadRequest, "No profile fields provided")
		return
	}

	ctx := r.Context()
	if err := s.store.UpsertProfile(ctx, id, update); err != nil {
		slog.Error("Server.putProfileHandler: store failed", "userID", id, "error", err)
		respondError(w, r, http.StatusInternalServerError, "Failed to save profile")
		return
	}

	message := "Profile saved"
	effects, err := s.engine.Dossier(ctx, id)
	if err == nil {
		err = s.deliverer.Deliver(ctx, id, effects)
	}
	if err != nil {
		slog.Warn("Server.putProfileHandler: dossier not delivered", "userID", id, "error", err)
		message = "Profile saved; dossier not delivered"
	}

	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		slog.Error("Server.putProfileHandler: reload failed", "userID", id, "error", err)
		respondError(w, r, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	respond(w, r, http.StatusOK, models.SuccessWithMessage(message, p))
}

func (s *Server) contractsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	contracts, err := s.store.ListContracts(r.Context(), id)
	if err != nil {
		slog.Error("Server.contractsHandler: store failed", "userID", id, "error", err)
		respondError(w, r, http.StatusInternalServerError, "Failed to list contracts")
		return
	}
	if contracts == nil {
		contracts = []models.Contract{}
	}
	respond(w, r, http.StatusOK, models.Success(contracts))
}

// subscriptionHandler is the payment confirmation hook: it activates the
// subscription and delivers the decrypted report.
func (s *Server) subscriptionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	existing, err := s.store.GetProfile(ctx, id)
	if err != nil {
		slog.Error("Server.subscriptionHandler: store failed", "userID", id, "error", err)
		respondError(w, r, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	if existing == nil {
		respondError(w, r, http.StatusNotFound, models.ErrProfileNotFound.Error())
		return
	}

	p, effects, err := s.engine.Activate(ctx, id)
	if err != nil {
		slog.Error("Server.subscriptionHandler: activation failed", "userID", id, "error", err)
		respondError(w, r, http.StatusInternalServerError, "Failed to activate subscription")
		return
	}
	message := "Subscription activated"
	if err := s.deliverer.Deliver(ctx, id, effects); err != nil {
		slog.Warn("Server.subscriptionHandler: report not delivered", "userID", id, "error", err)
		message = "Subscription activated; report not delivered"
	}
	respond(w, r, http.StatusOK, models.SuccessWithMessage(message, p))
}

func (s *Server) programRunHandler(w http.ResponseWriter, r *http.Request) {
	slot := program.Slot(chi.URLParam(r, "slot"))
	if slot != program.SlotMorning && slot != program.SlotEvening {
		respondError(w, r, http.StatusBadRequest, "Unknown slot")
		return
	}
	report, err := s.broadcaster.Run(r.Context(), slot, s.now())
	if err != nil {
		slog.Error("Server.programRunHandler: run failed", "slot", slot, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, r.Context().Err()) {
			status = http.StatusServiceUnavailable
		}
		respondError(w, r, status, "Program run failed")
		return
	}
	respond(w, r, http.StatusOK, models.Success(report))
}
