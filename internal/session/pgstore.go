package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const sessionColumns = `
	id, student_id, problem_set_id, start_time, end_time, is_completed,
	draft_answers, question_attempts, total_score, feedback, created_at
`

// PGStore is the Postgres-backed session store. The at-most-one-active
// invariant is enforced by a partial unique index on (student_id) for
// non-completed rows, so it holds under concurrent starts too.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (p *PGStore) Create(ctx context.Context, sess *TestSession) error {
	drafts, err := json.Marshal(sess.DraftAnswers)
	if err != nil {
		return fmt.Errorf("encode draft answers: %w", err)
	}
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO test_sessions (student_id, problem_set_id, start_time, end_time, draft_answers)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING id, created_at
	`, sess.StudentID, sess.ProblemSetID, sess.StartTime, sess.EndTime, drafts).Scan(&sess.ID, &sess.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateActiveSession
		}
		return fmt.Errorf("insert test session: %w", err)
	}
	return nil
}

func (p *PGStore) GetByID(ctx context.Context, id int64) (*TestSession, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM test_sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

func (p *PGStore) FindActiveByStudent(ctx context.Context, studentID int64) (*TestSession, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM test_sessions
		WHERE student_id = $1 AND NOT is_completed
	`, studentID)
	return scanSession(row)
}

func (p *PGStore) FindLatestByStudent(ctx context.Context, studentID int64) (*TestSession, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM test_sessions
		WHERE student_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, studentID)
	return scanSession(row)
}

func (p *PGStore) HasCompletedByStudent(ctx context.Context, studentID int64) (bool, error) {
	var taken bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM test_sessions WHERE student_id = $1 AND is_completed
		)
	`, studentID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check completed sessions: %w", err)
	}
	return taken, nil
}

// SaveDraft upserts one draft key while the row is still active. Zero rows
// affected means the session completed underneath the writer.
func (p *PGStore) SaveDraft(ctx context.Context, sessionID int64, key, answer string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE test_sessions
		SET draft_answers = jsonb_set(draft_answers, ARRAY[$2], to_jsonb($3::text), true)
		WHERE id = $1 AND NOT is_completed
	`, sessionID, key, answer)
	if err != nil {
		return fmt.Errorf("save draft answer: %w", err)
	}
	return requireOneRow(res, ErrSubmissionConflict)
}

// Complete finalizes a session in one conditional write. Exactly one caller
// wins; the rest observe ErrSubmissionConflict.
func (p *PGStore) Complete(ctx context.Context, sessionID int64, endTime time.Time, attempts []Attempt, total int) error {
	payload, err := json.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE test_sessions
		SET is_completed = TRUE, end_time = $2, question_attempts = $3::jsonb, total_score = $4
		WHERE id = $1 AND NOT is_completed
	`, sessionID, endTime, payload, total)
	if err != nil {
		return fmt.Errorf("complete test session: %w", err)
	}
	return requireOneRow(res, ErrSubmissionConflict)
}

func (p *PGStore) UpdateGrades(ctx context.Context, sessionID int64, attempts []Attempt, total int) error {
	payload, err := json.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE test_sessions
		SET question_attempts = $2::jsonb, total_score = $3
		WHERE id = $1 AND is_completed
	`, sessionID, payload, total)
	if err != nil {
		return fmt.Errorf("update grades: %w", err)
	}
	return requireOneRow(res, ErrSessionNotCompleted)
}

func (p *PGStore) SetFeedback(ctx context.Context, sessionID int64, feedback string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE test_sessions
		SET feedback = $2
		WHERE id = $1 AND is_completed
	`, sessionID, feedback)
	if err != nil {
		return fmt.Errorf("set feedback: %w", err)
	}
	return requireOneRow(res, ErrSessionNotCompleted)
}

func (p *PGStore) ListCompleted(ctx context.Context) ([]TestSession, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM test_sessions
		WHERE is_completed
		ORDER BY end_time DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query completed sessions: %w", err)
	}
	defer rows.Close()

	out := make([]TestSession, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (p *PGStore) Delete(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM test_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete test session: %w", err)
	}
	return requireOneRow(res, ErrSessionNotFound)
}

func scanSession(row rowScanner) (*TestSession, error) {
	var (
		sess     TestSession
		drafts   []byte
		attempts []byte
		feedback sql.NullString
	)
	err := row.Scan(
		&sess.ID, &sess.StudentID, &sess.ProblemSetID, &sess.StartTime, &sess.EndTime,
		&sess.IsCompleted, &drafts, &attempts, &sess.TotalScore, &feedback, &sess.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan test session: %w", err)
	}
	if len(drafts) > 0 {
		if err := json.Unmarshal(drafts, &sess.DraftAnswers); err != nil {
			return nil, fmt.Errorf("decode draft answers: %w", err)
		}
	}
	sess.Attempts, err = DecodeAttempts(attempts)
	if err != nil {
		return nil, err
	}
	if feedback.Valid {
		sess.Feedback = &feedback.String
	}
	return &sess, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func requireOneRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}
