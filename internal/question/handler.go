package question

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"codequiz/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

const maxGeneratePerRequest = 15

type questionService interface {
	Create(ctx context.Context, set *ProblemSet) (*ProblemSet, error)
	List(ctx context.Context) ([]ProblemSet, error)
	Stats(ctx context.Context) (*SetStats, error)
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
}

type setGenerator interface {
	Generate(ctx context.Context, topicPrompt string) (*ProblemSet, error)
}

type Handler struct {
	svc questionService
	gen setGenerator
}

func NewHandler(svc questionService, gen setGenerator) *Handler {
	return &Handler{svc: svc, gen: gen}
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Count  int    `json:"count"`
}

type saveSetRequest struct {
	Title  string         `json:"title"`
	Prompt string         `json:"prompt"`
	MCQs   []MCQQuestion  `json:"mcq_questions"`
	Coding CodingQuestion `json:"coding_question"`
}

// Generate produces draft sets for review. Nothing is persisted here; each
// draft comes back in full so the admin can confirm or discard it.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if req.Count > maxGeneratePerRequest {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "count exceeds limit"})
		return
	}

	drafts := make([]ProblemSet, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		set, err := h.gen.Generate(r.Context(), req.Prompt)
		if err != nil {
			if errors.Is(err, ErrMalformedGeneration) {
				writeJSON(w, r, http.StatusBadGateway, response{OK: false, Error: err.Error()})
				return
			}
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "generation failed"})
			return
		}
		drafts = append(drafts, *set)
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: drafts})
}

// Save persists one reviewed set.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	created, err := h.svc.Create(r.Context(), &ProblemSet{
		Title:  req.Title,
		Prompt: req.Prompt,
		MCQs:   req.MCQs,
		Coding: req.Coding,
	})
	if err != nil {
		if errors.Is(err, ErrMalformedGeneration) {
			writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: created})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: stats})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid set id"})
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, ErrSetNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "problem set not found"})
		case errors.Is(err, ErrSetInUse):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "problem set is in use"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAll(r.Context()); err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "deleted"}})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
