package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"codequiz/internal/question"
)

// memStore is an in-memory Store with the same conditional-write semantics as
// the Postgres store.
type memStore struct {
	mu       sync.Mutex
	seq      int64
	sessions map[int64]*TestSession
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[int64]*TestSession)}
}

func cloneSession(s *TestSession) *TestSession {
	out := *s
	out.DraftAnswers = make(map[string]string, len(s.DraftAnswers))
	for k, v := range s.DraftAnswers {
		out.DraftAnswers[k] = v
	}
	out.Attempts = append([]Attempt(nil), s.Attempts...)
	return &out
}

func (m *memStore) Create(_ context.Context, sess *TestSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.StudentID == sess.StudentID && !existing.IsCompleted {
			return ErrDuplicateActiveSession
		}
	}
	m.seq++
	sess.ID = m.seq
	sess.CreatedAt = time.Now()
	m.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (*TestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

func (m *memStore) FindActiveByStudent(_ context.Context, studentID int64) (*TestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		if sess.StudentID == studentID && !sess.IsCompleted {
			return cloneSession(sess), nil
		}
	}
	return nil, ErrSessionNotFound
}

func (m *memStore) FindLatestByStudent(_ context.Context, studentID int64) (*TestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *TestSession
	for _, sess := range m.sessions {
		if sess.StudentID != studentID {
			continue
		}
		if latest == nil || sess.ID > latest.ID {
			latest = sess
		}
	}
	if latest == nil {
		return nil, ErrSessionNotFound
	}
	return cloneSession(latest), nil
}

func (m *memStore) HasCompletedByStudent(_ context.Context, studentID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		if sess.StudentID == studentID && sess.IsCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) SaveDraft(_ context.Context, sessionID int64, key, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess.IsCompleted {
		return ErrSubmissionConflict
	}
	if sess.DraftAnswers == nil {
		sess.DraftAnswers = make(map[string]string)
	}
	sess.DraftAnswers[key] = answer
	return nil
}

func (m *memStore) Complete(_ context.Context, sessionID int64, endTime time.Time, attempts []Attempt, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess.IsCompleted {
		return ErrSubmissionConflict
	}
	sess.IsCompleted = true
	sess.EndTime = endTime
	sess.Attempts = append([]Attempt(nil), attempts...)
	sess.TotalScore = total
	return nil
}

func (m *memStore) UpdateGrades(_ context.Context, sessionID int64, attempts []Attempt, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || !sess.IsCompleted {
		return ErrSessionNotCompleted
	}
	sess.Attempts = append([]Attempt(nil), attempts...)
	sess.TotalScore = total
	return nil
}

func (m *memStore) SetFeedback(_ context.Context, sessionID int64, feedback string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || !sess.IsCompleted {
		return ErrSessionNotCompleted
	}
	sess.Feedback = &feedback
	return nil
}

func (m *memStore) ListCompleted(_ context.Context) ([]TestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TestSession, 0)
	for _, sess := range m.sessions {
		if sess.IsCompleted {
			out = append(out, *cloneSession(sess))
		}
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

type memQuestions struct {
	set *question.ProblemSet
}

func (m *memQuestions) GetByID(_ context.Context, id int64) (*question.ProblemSet, error) {
	if m.set == nil || m.set.ID != id {
		return nil, question.ErrSetNotFound
	}
	return m.set, nil
}

func (m *memQuestions) FindUnusedOrLeastUsed(_ context.Context) (*question.ProblemSet, error) {
	if m.set == nil {
		return nil, question.ErrNoProblemSets
	}
	return m.set, nil
}

type fixedDuration struct {
	minutes int
}

func (f *fixedDuration) ContestDurationMinutes(_ context.Context) (int, error) {
	return f.minutes, nil
}

type fixture struct {
	svc      *Service
	store    *memStore
	duration *fixedDuration
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		duration: &fixedDuration{minutes: 60},
		now:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.store, &memQuestions{set: testSet()}, f.duration)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestStart_NewSession(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Start(context.Background(), 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.Resumed {
		t.Fatal("fresh start reported as resumed")
	}
	sess := result.Session
	if sess.ProblemSetID != 1 {
		t.Fatalf("problem set = %d, want 1", sess.ProblemSetID)
	}
	if !sess.StartTime.Equal(f.now) {
		t.Fatalf("start time = %v, want %v", sess.StartTime, f.now)
	}
	if want := f.now.Add(60 * time.Minute); !sess.EndTime.Equal(want) {
		t.Fatalf("end time = %v, want %v", sess.EndTime, want)
	}
}

func TestStart_ResumesActiveSession(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Start(context.Background(), 1)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}

	f.advance(10 * time.Minute)
	second, err := f.svc.Start(context.Background(), 1)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !second.Resumed {
		t.Fatal("second start did not resume")
	}
	if second.Session.ID != first.Session.ID {
		t.Fatalf("resumed session %d, want %d", second.Session.ID, first.Session.ID)
	}
	if !second.Session.EndTime.Equal(first.Session.EndTime) {
		t.Fatal("resume moved the deadline")
	}
}

func TestStart_AfterCompletedTest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Start(ctx, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Submit(ctx, result.Session.ID, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.svc.Start(ctx, 1); !errors.Is(err, ErrTestAlreadyTaken) {
		t.Fatalf("err = %v, want ErrTestAlreadyTaken", err)
	}
}

func TestStart_DurationReadAtCreationOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	f.duration.minutes = 30
	if want := first.Session.StartTime.Add(60 * time.Minute); !first.Session.EndTime.Equal(want) {
		t.Fatal("existing deadline changed after settings update")
	}

	second, err := f.svc.Start(ctx, 2)
	if err != nil {
		t.Fatalf("start second student: %v", err)
	}
	if want := f.now.Add(30 * time.Minute); !second.Session.EndTime.Equal(want) {
		t.Fatalf("new session deadline = %v, want %v", second.Session.EndTime, want)
	}
}

// raceStore simulates losing a concurrent start: the first active lookup
// misses, the insert hits the unique index, and the retry lookup finds the
// winner's row.
type raceStore struct {
	Store
	mu      sync.Mutex
	misses  int
	winner  *TestSession
	created bool
}

func (r *raceStore) FindActiveByStudent(ctx context.Context, studentID int64) (*TestSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.misses == 0 {
		r.misses++
		return nil, ErrSessionNotFound
	}
	return cloneSession(r.winner), nil
}

func (r *raceStore) Create(ctx context.Context, sess *TestSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = true
	return ErrDuplicateActiveSession
}

func TestStart_LostRaceReturnsWinner(t *testing.T) {
	f := newFixture(t)
	winner := &TestSession{
		ID: 42, StudentID: 1, ProblemSetID: 1,
		StartTime: f.now, EndTime: f.now.Add(time.Hour),
	}
	rs := &raceStore{Store: f.store, winner: winner}
	svc := NewService(rs, &memQuestions{set: testSet()}, f.duration)
	svc.now = func() time.Time { return f.now }

	result, err := svc.Start(context.Background(), 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !result.Resumed || result.Session.ID != 42 {
		t.Fatalf("result = %+v, want resumed winner 42", result)
	}
	if !rs.created {
		t.Fatal("create was never attempted")
	}
}

func TestSaveAnswer_UpsertAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.svc.Start(ctx, 1)
	id := result.Session.ID

	sess, err := f.svc.SaveAnswer(ctx, id, 1, "mcq_0", "B")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if sess.DraftAnswers["mcq_0"] != "B" {
		t.Fatalf("drafts = %v", sess.DraftAnswers)
	}

	// Same write again is a no-op.
	sess, err = f.svc.SaveAnswer(ctx, id, 1, "mcq_0", "B")
	if err != nil {
		t.Fatalf("repeat save: %v", err)
	}
	if len(sess.DraftAnswers) != 1 {
		t.Fatalf("drafts after repeat = %v", sess.DraftAnswers)
	}

	// Overwrite replaces.
	sess, err = f.svc.SaveAnswer(ctx, id, 1, "mcq_0", "C")
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if sess.DraftAnswers["mcq_0"] != "C" {
		t.Fatalf("drafts after overwrite = %v", sess.DraftAnswers)
	}
}

func TestSaveAnswer_UnknownKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, _ := f.svc.Start(ctx, 1)

	if _, err := f.svc.SaveAnswer(ctx, result.Session.ID, 1, "mcq_9", "A"); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("err = %v, want ErrUnknownQuestion", err)
	}
}

func TestSaveAnswer_OtherStudentsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, _ := f.svc.Start(ctx, 1)

	if _, err := f.svc.SaveAnswer(ctx, result.Session.ID, 2, "mcq_0", "B"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSaveAnswer_AfterDeadlineFinalizesWithSavedDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, _ := f.svc.Start(ctx, 1)
	id := result.Session.ID

	if _, err := f.svc.SaveAnswer(ctx, id, 1, "mcq_0", "B"); err != nil {
		t.Fatalf("save before deadline: %v", err)
	}
	if _, err := f.svc.SaveAnswer(ctx, id, 1, "mcq_1", "B"); err != nil {
		t.Fatalf("save before deadline: %v", err)
	}

	deadline := result.Session.EndTime
	f.advance(65 * time.Minute)

	if _, err := f.svc.SaveAnswer(ctx, id, 1, "mcq_2", "B"); !errors.Is(err, ErrSessionCompleted) {
		t.Fatalf("err = %v, want ErrSessionCompleted", err)
	}

	sess, err := f.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !sess.IsCompleted {
		t.Fatal("session not finalized after deadline")
	}
	if !sess.EndTime.Equal(deadline) {
		t.Fatalf("end time = %v, want deadline %v", sess.EndTime, deadline)
	}
	// Answers saved before the deadline still count; the late one does not.
	if sess.TotalScore != 2 {
		t.Fatalf("total = %d, want 2", sess.TotalScore)
	}
}

func TestGet_LazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, _ := f.svc.Start(ctx, 1)
	_, _ = f.svc.SaveAnswer(ctx, result.Session.ID, 1, "mcq_0", "B")

	f.advance(61 * time.Minute)

	sess, err := f.svc.Get(ctx, result.Session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !sess.IsCompleted {
		t.Fatal("expired session still active on read")
	}
	if sess.TotalScore != 1 {
		t.Fatalf("total = %d, want 1", sess.TotalScore)
	}
	if len(sess.Attempts) != 6 {
		t.Fatalf("attempts = %d, want 6", len(sess.Attempts))
	}
}

func TestSubmit_TotalEqualsSumOfMarks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, _ := f.svc.Start(ctx, 1)
	id := result.Session.ID

	for _, key := range []string{"mcq_0", "mcq_2", "mcq_4"} {
		if _, err := f.svc.SaveAnswer(ctx, id, 1, key, "B"); err != nil {
			t.Fatalf("save %s: %v", key, err)
		}
	}
	_, _ = f.svc.SaveAnswer(ctx, id, 1, "mcq_1", "A")
	_, _ = f.svc.SaveAnswer(ctx, id, 1, "coding", "for i in range(3): print(i)")

	f.advance(5 * time.Minute)
	sess, err := f.svc.Submit(ctx, id, 1)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !sess.IsCompleted {
		t.Fatal("session not completed")
	}
	if !sess.EndTime.Equal(f.now) {
		t.Fatalf("end time = %v, want submit time %v", sess.EndTime, f.now)
	}
	if sess.TotalScore != SumMarks(sess.Attempts) {
		t.Fatalf("total %d != sum of marks %d", sess.TotalScore, SumMarks(sess.Attempts))
	}
	if sess.TotalScore != 3 {
		t.Fatalf("total = %d, want 3", sess.TotalScore)
	}
}

func TestSubmit_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, _ := f.svc.Start(ctx, 1)

	if _, err := f.svc.Submit(ctx, result.Session.ID, 1); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := f.svc.Submit(ctx, result.Session.ID, 1); !errors.Is(err, ErrSubmissionConflict) {
		t.Fatalf("err = %v, want ErrSubmissionConflict", err)
	}
}

func TestSubmit_ConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, _ := f.svc.Start(ctx, 1)
	id := result.Session.ID

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, id, 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSubmissionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	if conflicts != workers-1 {
		t.Fatalf("conflicts = %d, want %d", conflicts, workers-1)
	}
}

func TestGradeCoding_RecomputesTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, _ := f.svc.Start(ctx, 1)
	id := result.Session.ID

	for _, key := range []string{"mcq_0", "mcq_1", "mcq_2"} {
		_, _ = f.svc.SaveAnswer(ctx, id, 1, key, "B")
	}
	_, _ = f.svc.SaveAnswer(ctx, id, 1, "coding", "code")
	if _, err := f.svc.Submit(ctx, id, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}

	sess, err := f.svc.GradeCoding(ctx, id, CodingBreakdown{AttemptScore: 1, SyntaxScore: 2, LogicScore: 1})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if sess.TotalScore != 7 {
		t.Fatalf("total = %d, want 7", sess.TotalScore)
	}

	// Re-grading replaces the previous breakdown and recomputes from scratch.
	sess, err = f.svc.GradeCoding(ctx, id, CodingBreakdown{AttemptScore: 1})
	if err != nil {
		t.Fatalf("regrade: %v", err)
	}
	if sess.TotalScore != 4 {
		t.Fatalf("regraded total = %d, want 4", sess.TotalScore)
	}
}

func TestGradeCoding_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, _ := f.svc.Start(ctx, 1)
	id := result.Session.ID

	if _, err := f.svc.GradeCoding(ctx, id, CodingBreakdown{}); !errors.Is(err, ErrSessionNotCompleted) {
		t.Fatalf("grading active session: err = %v, want ErrSessionNotCompleted", err)
	}

	if _, err := f.svc.Submit(ctx, id, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.GradeCoding(ctx, id, CodingBreakdown{LogicScore: 3}); !errors.Is(err, ErrInvalidGrade) {
		t.Fatalf("err = %v, want ErrInvalidGrade", err)
	}
}

func TestSetFeedback_RequiresCompletedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result, _ := f.svc.Start(ctx, 1)

	if err := f.svc.SetFeedback(ctx, result.Session.ID, "nice work"); !errors.Is(err, ErrSessionNotCompleted) {
		t.Fatalf("err = %v, want ErrSessionNotCompleted", err)
	}

	if _, err := f.svc.Submit(ctx, result.Session.ID, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.svc.SetFeedback(ctx, result.Session.ID, "nice work"); err != nil {
		t.Fatalf("set feedback: %v", err)
	}

	sess, _ := f.svc.Get(ctx, result.Session.ID)
	if sess.Feedback == nil || *sess.Feedback != "nice work" {
		t.Fatalf("feedback = %v", sess.Feedback)
	}
}

func TestCurrent_ReturnsLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Current(ctx, 1); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}

	result, _ := f.svc.Start(ctx, 1)
	sess, err := f.svc.Current(ctx, 1)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if sess.ID != result.Session.ID {
		t.Fatalf("current = %d, want %d", sess.ID, result.Session.ID)
	}
}
