package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"codequiz/internal/app/apiresp"
	"codequiz/internal/auth"
	"codequiz/internal/question"

	"github.com/go-chi/chi/v5"
)

type sessionService interface {
	Start(ctx context.Context, studentID int64) (*StartResult, error)
	Get(ctx context.Context, id int64) (*TestSession, error)
	GetForStudent(ctx context.Context, id, studentID int64) (*TestSession, error)
	Current(ctx context.Context, studentID int64) (*TestSession, error)
	SaveAnswer(ctx context.Context, sessionID, studentID int64, key, answer string) (*TestSession, error)
	Submit(ctx context.Context, sessionID, studentID int64) (*TestSession, error)
	GradeCoding(ctx context.Context, sessionID int64, breakdown CodingBreakdown) (*TestSession, error)
	Delete(ctx context.Context, id int64) error
}

type settingsService interface {
	ContestDurationMinutes(ctx context.Context) (int, error)
	UpdateContestDuration(ctx context.Context, minutes int) error
}

type Handler struct {
	svc       sessionService
	questions QuestionSource
	settings  settingsService
}

func NewHandler(svc sessionService, questions QuestionSource, settings settingsService) *Handler {
	return &Handler{svc: svc, questions: questions, settings: settings}
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type saveAnswerRequest struct {
	Answer string `json:"answer"`
}

type gradeCodingRequest struct {
	AttemptScore int `json:"attempt_score"`
	SyntaxScore  int `json:"syntax_score"`
	LogicScore   int `json:"logic_score"`
}

type updateSettingsRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

// paperMCQ is an MCQ as shown to a student mid-test. Correct answers and
// explanations never leave the server while the session is active.
type paperMCQ struct {
	Key          string   `json:"key"`
	QuestionText string   `json:"question_text"`
	Options      []string `json:"options"`
	Marks        int      `json:"marks"`
}

type paperCoding struct {
	Key              string `json:"key"`
	ProblemStatement string `json:"problem_statement"`
	SampleInput      string `json:"sample_input"`
	SampleOutput     string `json:"sample_output"`
	Marks            int    `json:"marks"`
}

type paperView struct {
	SessionID        int64             `json:"session_id"`
	SetCode          string            `json:"set_code"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time"`
	RemainingSeconds int64             `json:"remaining_seconds"`
	Resumed          bool              `json:"resumed"`
	MCQs             []paperMCQ        `json:"mcq_questions"`
	Coding           paperCoding       `json:"coding_question"`
	Drafts           map[string]string `json:"draft_answers"`
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	result, err := h.svc.Start(r.Context(), user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrTestAlreadyTaken):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "test already taken"})
		case errors.Is(err, question.ErrNoProblemSets):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "no question sets available"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}

	view, err := h.buildPaperView(r.Context(), result.Session, result.Resumed)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	status := http.StatusCreated
	if result.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, r, status, response{OK: true, Data: view})
}

// Current returns the student's latest session: the running paper while
// active, the graded result once completed.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	sess, err := h.svc.Current(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "no test session"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	h.writeSessionView(w, r, sess, false)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var (
		sess *TestSession
		err  error
	)
	if user.Role == auth.RoleAdmin {
		sess, err = h.svc.Get(r.Context(), id)
	} else {
		sess, err = h.svc.GetForStudent(r.Context(), id, user.ID)
	}
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "test session not found"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}

	if user.Role == auth.RoleAdmin {
		writeJSON(w, r, http.StatusOK, response{OK: true, Data: sess})
		return
	}
	h.writeSessionView(w, r, sess, false)
}

func (h *Handler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "questionKey")

	var req saveAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	sess, err := h.svc.SaveAnswer(r.Context(), id, user.ID, key, req.Answer)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "test session not found"})
		case errors.Is(err, ErrUnknownQuestion):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrSessionCompleted):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "test session is completed"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}

	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]interface{}{
		"status":            "saved",
		"draft_answers":     sess.DraftAnswers,
		"remaining_seconds": sess.Remaining(time.Now()),
	}})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	sess, err := h.svc.Submit(r.Context(), id, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "test session not found"})
		case errors.Is(err, ErrSubmissionConflict):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "test session was already submitted"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sess})
}

func (h *Handler) GradeCoding(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req gradeCodingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	sess, err := h.svc.GradeCoding(r.Context(), id, CodingBreakdown{
		AttemptScore: req.AttemptScore,
		SyntaxScore:  req.SyntaxScore,
		LogicScore:   req.LogicScore,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "test session not found"})
		case errors.Is(err, ErrSessionNotCompleted):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "test session is not completed"})
		case errors.Is(err, ErrInvalidGrade):
			writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: err.Error()})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: sess})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "test session not found"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	minutes, err := h.settings.ContestDurationMinutes(r.Context())
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]int{"duration_minutes": minutes}})
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if err := h.settings.UpdateContestDuration(r.Context(), req.DurationMinutes); err != nil {
		if errors.Is(err, ErrInvalidDuration) {
			writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: err.Error()})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]int{"duration_minutes": req.DurationMinutes}})
}

// writeSessionView renders the student-facing shape: the paper while active,
// the full graded session once completed.
func (h *Handler) writeSessionView(w http.ResponseWriter, r *http.Request, sess *TestSession, resumed bool) {
	if sess.IsCompleted {
		writeJSON(w, r, http.StatusOK, response{OK: true, Data: sess})
		return
	}
	view, err := h.buildPaperView(r.Context(), sess, resumed)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) buildPaperView(ctx context.Context, sess *TestSession, resumed bool) (*paperView, error) {
	set, err := h.questions.GetByID(ctx, sess.ProblemSetID)
	if err != nil {
		return nil, err
	}

	mcqs := make([]paperMCQ, 0, len(set.MCQs))
	for i, q := range set.MCQs {
		mcqs = append(mcqs, paperMCQ{
			Key:          DraftKeyMCQ(i),
			QuestionText: q.QuestionText,
			Options:      q.Options,
			Marks:        q.Marks,
		})
	}
	drafts := sess.DraftAnswers
	if drafts == nil {
		drafts = map[string]string{}
	}
	return &paperView{
		SessionID:        sess.ID,
		SetCode:          set.SetCode,
		StartTime:        sess.StartTime,
		EndTime:          sess.EndTime,
		RemainingSeconds: sess.Remaining(time.Now()),
		Resumed:          resumed,
		MCQs:             mcqs,
		Coding: paperCoding{
			Key:              DraftKeyCoding,
			ProblemStatement: set.Coding.ProblemStatement,
			SampleInput:      set.Coding.SampleInput,
			SampleOutput:     set.Coding.SampleOutput,
			Marks:            set.Coding.Marks,
		},
		Drafts: drafts,
	}, nil
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
