package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codequiz/internal/question"
)

var (
	ErrSessionNotFound        = errors.New("test session not found")
	ErrDuplicateActiveSession = errors.New("student already has an active session")
	ErrTestAlreadyTaken       = errors.New("student has already completed the test")
	ErrSessionCompleted       = errors.New("test session is completed")
	ErrSubmissionConflict     = errors.New("test session was already submitted")
	ErrSessionNotCompleted    = errors.New("test session is not completed")
	ErrInvalidGrade           = errors.New("invalid coding grade")
	ErrUnknownQuestion        = errors.New("unknown question key")
	ErrInvalidDuration        = errors.New("invalid contest duration")
)

// Store persists test sessions. Completion and draft writes are conditional
// on the stored row still being active, so concurrent finalizers race safely:
// exactly one Complete succeeds, the rest get ErrSubmissionConflict.
type Store interface {
	Create(ctx context.Context, sess *TestSession) error
	GetByID(ctx context.Context, id int64) (*TestSession, error)
	FindActiveByStudent(ctx context.Context, studentID int64) (*TestSession, error)
	FindLatestByStudent(ctx context.Context, studentID int64) (*TestSession, error)
	HasCompletedByStudent(ctx context.Context, studentID int64) (bool, error)
	SaveDraft(ctx context.Context, sessionID int64, key, answer string) error
	Complete(ctx context.Context, sessionID int64, endTime time.Time, attempts []Attempt, total int) error
	UpdateGrades(ctx context.Context, sessionID int64, attempts []Attempt, total int) error
	SetFeedback(ctx context.Context, sessionID int64, feedback string) error
	ListCompleted(ctx context.Context) ([]TestSession, error)
	Delete(ctx context.Context, id int64) error
}

// QuestionSource provides problem sets for assignment and grading.
type QuestionSource interface {
	GetByID(ctx context.Context, id int64) (*question.ProblemSet, error)
	FindUnusedOrLeastUsed(ctx context.Context) (*question.ProblemSet, error)
}

// DurationSource supplies the contest duration in effect when a session is
// created. Later changes never touch running sessions.
type DurationSource interface {
	ContestDurationMinutes(ctx context.Context) (int, error)
}

type Service struct {
	store     Store
	questions QuestionSource
	durations DurationSource
	now       func() time.Time
}

func NewService(store Store, questions QuestionSource, durations DurationSource) *Service {
	return &Service{
		store:     store,
		questions: questions,
		durations: durations,
		now:       time.Now,
	}
}

// StartResult reports whether Start created a new session or resumed one that
// was already running.
type StartResult struct {
	Session *TestSession
	Resumed bool
}

// Start begins a test for the student, or resumes their active session if one
// exists. A student who has already completed a test cannot start another.
// The deadline is fixed here from the duration setting and never extended.
func (s *Service) Start(ctx context.Context, studentID int64) (*StartResult, error) {
	existing, err := s.store.FindActiveByStudent(ctx, studentID)
	switch {
	case err == nil:
		reaped, err := s.reap(ctx, existing)
		if err != nil {
			return nil, err
		}
		if reaped.IsCompleted {
			return nil, ErrTestAlreadyTaken
		}
		return &StartResult{Session: reaped, Resumed: true}, nil
	case errors.Is(err, ErrSessionNotFound):
	default:
		return nil, err
	}

	taken, err := s.store.HasCompletedByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrTestAlreadyTaken
	}

	set, err := s.questions.FindUnusedOrLeastUsed(ctx)
	if err != nil {
		return nil, err
	}
	minutes, err := s.durations.ContestDurationMinutes(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &TestSession{
		StudentID:    studentID,
		ProblemSetID: set.ID,
		StartTime:    now,
		EndTime:      now.Add(time.Duration(minutes) * time.Minute),
		DraftAnswers: map[string]string{},
	}
	err = s.store.Create(ctx, sess)
	if errors.Is(err, ErrDuplicateActiveSession) {
		// Lost a concurrent start race; hand back the winner's session.
		winner, findErr := s.store.FindActiveByStudent(ctx, studentID)
		if findErr != nil {
			return nil, err
		}
		return &StartResult{Session: winner, Resumed: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &StartResult{Session: sess, Resumed: false}, nil
}

// Get loads a session, folding it to completed first if its deadline passed.
func (s *Service) Get(ctx context.Context, id int64) (*TestSession, error) {
	sess, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.reap(ctx, sess)
}

// GetForStudent loads the student's own session, refusing other students'.
func (s *Service) GetForStudent(ctx context.Context, id, studentID int64) (*TestSession, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.StudentID != studentID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Current returns the student's most recent session, active or completed.
func (s *Service) Current(ctx context.Context, studentID int64) (*TestSession, error) {
	sess, err := s.store.FindLatestByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return s.reap(ctx, sess)
}

// SaveAnswer upserts one draft answer. Saving the same answer twice is a
// no-op. If the deadline has passed the session is finalized instead and the
// save is refused.
func (s *Service) SaveAnswer(ctx context.Context, sessionID, studentID int64, key, answer string) (*TestSession, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.StudentID != studentID {
		return nil, ErrSessionNotFound
	}
	if sess.IsCompleted {
		return nil, ErrSessionCompleted
	}
	if !s.now().Before(sess.EndTime) {
		if _, err := s.reap(ctx, sess); err != nil {
			return nil, err
		}
		return nil, ErrSessionCompleted
	}

	set, err := s.questions.GetByID(ctx, sess.ProblemSetID)
	if err != nil {
		return nil, err
	}
	if _, err := ParseDraftKey(set, key); err != nil {
		return nil, err
	}

	err = s.store.SaveDraft(ctx, sessionID, key, answer)
	if errors.Is(err, ErrSubmissionConflict) {
		return nil, ErrSessionCompleted
	}
	if err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, sessionID)
}

// Submit finalizes the session: drafts are materialized into graded attempts
// and the session becomes completed. A second submit, or a submit racing the
// deadline reaper, gets ErrSubmissionConflict.
func (s *Service) Submit(ctx context.Context, sessionID, studentID int64) (*TestSession, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.StudentID != studentID {
		return nil, ErrSessionNotFound
	}
	if sess.IsCompleted {
		return nil, ErrSubmissionConflict
	}

	end := s.now()
	if end.After(sess.EndTime) {
		end = sess.EndTime
	}
	if err := s.finalize(ctx, sess, end); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, sessionID)
}

// GradeCoding records the evaluator's breakdown on a completed session and
// recomputes the total from scratch.
func (s *Service) GradeCoding(ctx context.Context, sessionID int64, breakdown CodingBreakdown) (*TestSession, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsCompleted {
		return nil, ErrSessionNotCompleted
	}
	graded, total, err := ApplyCodingGrade(sess.Attempts, breakdown)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateGrades(ctx, sessionID, graded, total); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, sessionID)
}

// SetFeedback stores feedback text on a completed session.
func (s *Service) SetFeedback(ctx context.Context, sessionID int64, feedback string) error {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.IsCompleted {
		return ErrSessionNotCompleted
	}
	return s.store.SetFeedback(ctx, sessionID, feedback)
}

// ListCompleted returns every completed session, newest first.
func (s *Service) ListCompleted(ctx context.Context) ([]TestSession, error) {
	return s.store.ListCompleted(ctx)
}

// Delete removes a session. Admin maintenance only.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.Delete(ctx, id)
}

// reap folds an expired session to completed before returning it. Expiry is
// observed lazily on reads; the recorded end time stays the deadline, not the
// observation time.
func (s *Service) reap(ctx context.Context, sess *TestSession) (*TestSession, error) {
	if sess.IsCompleted || s.now().Before(sess.EndTime) {
		return sess, nil
	}
	err := s.finalize(ctx, sess, sess.EndTime)
	if err != nil && !errors.Is(err, ErrSubmissionConflict) {
		return nil, err
	}
	return s.store.GetByID(ctx, sess.ID)
}

func (s *Service) finalize(ctx context.Context, sess *TestSession, end time.Time) error {
	set, err := s.questions.GetByID(ctx, sess.ProblemSetID)
	if err != nil {
		return fmt.Errorf("load assigned set: %w", err)
	}
	attempts, total := MaterializeAttempts(set, sess.DraftAnswers)
	return s.store.Complete(ctx, sess.ID, end, attempts, total)
}
