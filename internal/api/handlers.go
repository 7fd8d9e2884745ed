package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"slotter/internal/database"
	"slotter/internal/models"
	"slotter/internal/service"

	"github.com/google/uuid"
)

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeDomainError maps the repository's sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "operation not allowed in the booking's current status")
	case errors.Is(err, database.ErrSlotConflict):
		writeError(w, http.StatusConflict, "the provider is already booked for that time")
	case errors.Is(err, database.ErrProposalNotPending):
		writeError(w, http.StatusConflict, "proposal already resolved")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req service.BookingRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ServiceID <= 0 || req.UserID <= 0 || req.ProviderID <= 0 || req.Start.IsZero() {
		writeError(w, http.StatusBadRequest, "service_id, user_id, provider_id and start are required")
		return
	}

	booking, reason, err := s.booking.CreateBooking(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if reason != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"reason": reason})
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	booking, err := s.booking.GetBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	var req struct {
		Price float64    `json:"price"`
		Notes string     `json:"notes"`
		Start time.Time  `json:"start"`
		End   *time.Time `json:"end"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Start.IsZero() {
		writeError(w, http.StatusBadRequest, "start is required")
		return
	}
	end := req.Start.Add(models.AssumedDuration)
	if req.End != nil {
		end = *req.End
	}
	if !end.After(req.Start) {
		writeError(w, http.StatusBadRequest, "end must be after start")
		return
	}

	booking, err := s.sm.Accept(r.Context(), id, req.Price, req.Notes, req.Start, end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	var req struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Actor != models.ActorUser && req.Actor != models.ActorProvider {
		writeError(w, http.StatusBadRequest, "actor must be user or provider")
		return
	}

	if err := s.sm.Cancel(r.Context(), id, req.Actor, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusCancelled})
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	var meta models.PaymentMeta
	if !decode(w, r, &meta) {
		return
	}
	if meta.ValidationID == "" {
		meta.ValidationID = uuid.NewString()
	}

	if err := s.sm.MarkPaymentReceived(r.Context(), id, meta); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        models.StatusPaymentReceived,
		"validation_id": meta.ValidationID,
	})
}

func (s *Server) handleJobDone(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	if err := s.sm.MarkJobDone(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusJobDone})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	if err := s.sm.MarkCompleted(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusCompleted})
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	var req struct {
		Actor   string     `json:"actor"`
		Start   time.Time  `json:"start"`
		End     *time.Time `json:"end"`
		Price   *float64   `json:"price"`
		Message string     `json:"message"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Actor != models.ActorUser && req.Actor != models.ActorProvider {
		writeError(w, http.StatusBadRequest, "actor must be user or provider")
		return
	}
	if req.Start.IsZero() {
		writeError(w, http.StatusBadRequest, "start is required")
		return
	}

	proposal, err := s.coord.Propose(r.Context(), id, req.Actor, req.Start, req.End, req.Price, req.Message)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	var req struct {
		Accept  bool   `json:"accept"`
		Message string `json:"message"`
	}
	if !decode(w, r, &req) {
		return
	}

	booking, err := s.coord.Respond(r.Context(), id, req.Accept, req.Message)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if booking == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": models.ProposalRejected})
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	providerID, err := strconv.ParseInt(r.URL.Query().Get("provider_id"), 10, 64)
	if err != nil || providerID <= 0 {
		writeError(w, http.StatusBadRequest, "provider_id is required")
		return
	}
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	var end *time.Time
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be RFC3339")
			return
		}
		end = &parsed
	}

	ok, reason, err := s.booking.CheckAvailability(r.Context(), providerID, start, end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := map[string]any{"available": ok}
	if reason != "" {
		resp["reason"] = reason
	}
	writeJSON(w, http.StatusOK, resp)
}
