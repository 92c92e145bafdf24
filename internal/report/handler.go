package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"codequiz/internal/app/apiresp"
	"codequiz/internal/auth"
	"codequiz/internal/llm"
	"codequiz/internal/session"

	"github.com/go-chi/chi/v5"
)

type reportService interface {
	List(ctx context.Context) ([]ResultSummary, error)
	ExportResultsExcel(ctx context.Context) ([]byte, error)
	GenerateFeedback(ctx context.Context, sessionID int64, force bool) (string, error)
	EmailReport(ctx context.Context, sessionID int64) error
}

type Handler struct {
	svc reportService
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type feedbackRequest struct {
	Force bool `json:"force"`
}

func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) ExportResults(w http.ResponseWriter, r *http.Request) {
	payload, err := h.svc.ExportResultsExcel(r.Context())
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	filename := fmt.Sprintf("results-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}

func (h *Handler) GenerateFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req feedbackRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
			return
		}
	}

	feedback, err := h.svc.GenerateFeedback(r.Context(), id, req.Force)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "test session not found"})
		case errors.Is(err, session.ErrSessionNotCompleted):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "test session is not completed"})
		case errors.Is(err, llm.ErrNotConfigured):
			writeJSON(w, r, http.StatusServiceUnavailable, response{OK: false, Error: "feedback generation is not configured"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"feedback": feedback}})
}

func (h *Handler) EmailReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	err := h.svc.EmailReport(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "test session not found"})
		case errors.Is(err, session.ErrSessionNotCompleted):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "test session is not completed"})
		case errors.Is(err, auth.ErrUserNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "student not found"})
		case errors.Is(err, ErrNoStudentEmail):
			writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: "student has no email address"})
		case errors.Is(err, ErrMailerNotConfigured):
			writeJSON(w, r, http.StatusServiceUnavailable, response{OK: false, Error: "email delivery is not configured"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "cannot send report"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "sent"}})
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid session id"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
