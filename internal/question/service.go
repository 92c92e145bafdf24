package question

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrSetNotFound   = errors.New("problem set not found")
	ErrSetInUse      = errors.New("problem set is in use")
	ErrNoProblemSets = errors.New("no problem sets available")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Create persists a reviewed problem set. The set code is issued here so both
// halves share one identity from the moment they exist.
func (s *Service) Create(ctx context.Context, set *ProblemSet) (*ProblemSet, error) {
	if err := ValidateSet(set); err != nil {
		return nil, err
	}

	mcqJSON, err := json.Marshal(set.MCQs)
	if err != nil {
		return nil, fmt.Errorf("encode mcq questions: %w", err)
	}
	codingJSON, err := json.Marshal(set.Coding)
	if err != nil {
		return nil, fmt.Errorf("encode coding question: %w", err)
	}

	title := set.Title
	if title == "" {
		title = set.Prompt
	}

	created := *set
	created.Title = title
	created.SetCode = newSetCode()

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO problem_sets (set_code, title, prompt, mcq_questions, coding_question)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb)
		RETURNING id, created_at
	`, created.SetCode, created.Title, created.Prompt, mcqJSON, codingJSON).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert problem set: %w", err)
	}

	return &created, nil
}

func (s *Service) GetByID(ctx context.Context, id int64) (*ProblemSet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, set_code, title, prompt, mcq_questions, coding_question, created_at
		FROM problem_sets
		WHERE id = $1
	`, id)
	return scanSet(row)
}

// FindUnusedOrLeastUsed picks the assignment target: any set never referenced
// by a test session, otherwise the globally least-referenced one.
func (s *Service) FindUnusedOrLeastUsed(ctx context.Context) (*ProblemSet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ps.id, ps.set_code, ps.title, ps.prompt, ps.mcq_questions, ps.coding_question, ps.created_at
		FROM problem_sets ps
		LEFT JOIN test_sessions ts ON ts.problem_set_id = ps.id
		GROUP BY ps.id
		ORDER BY COUNT(ts.id) ASC, ps.id ASC
		LIMIT 1
	`)
	set, err := scanSet(row)
	if errors.Is(err, ErrSetNotFound) {
		return nil, ErrNoProblemSets
	}
	return set, err
}

func (s *Service) List(ctx context.Context) ([]ProblemSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ps.id, ps.set_code, ps.title, ps.prompt, ps.mcq_questions, ps.coding_question,
			ps.created_at, COUNT(ts.id) AS usage_count
		FROM problem_sets ps
		LEFT JOIN test_sessions ts ON ts.problem_set_id = ps.id
		GROUP BY ps.id
		ORDER BY ps.created_at DESC, ps.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query problem sets: %w", err)
	}
	defer rows.Close()

	out := make([]ProblemSet, 0)
	for rows.Next() {
		var (
			set        ProblemSet
			mcqJSON    []byte
			codingJSON []byte
		)
		if err := rows.Scan(&set.ID, &set.SetCode, &set.Title, &set.Prompt, &mcqJSON, &codingJSON, &set.CreatedAt, &set.UsageCount); err != nil {
			return nil, fmt.Errorf("scan problem set: %w", err)
		}
		if err := decodeSetPayload(&set, mcqJSON, codingJSON); err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate problem sets: %w", err)
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context) (*SetStats, error) {
	var stats SetStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE EXISTS (
				SELECT 1 FROM test_sessions ts WHERE ts.problem_set_id = ps.id
			)) AS used
		FROM problem_sets ps
	`).Scan(&stats.TotalSets, &stats.UsedSets)
	if err != nil {
		return nil, fmt.Errorf("query set stats: %w", err)
	}
	stats.UnusedSets = stats.TotalSets - stats.UsedSets
	return &stats, nil
}

// Delete removes a set that no session references. Sets already handed to a
// student stay put so completed results keep resolving their questions.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var inUse bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM test_sessions WHERE problem_set_id = $1)
	`, id).Scan(&inUse)
	if err != nil {
		return fmt.Errorf("check set usage: %w", err)
	}
	if inUse {
		return ErrSetInUse
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM problem_sets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete problem set: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete problem set rows: %w", err)
	}
	if n == 0 {
		return ErrSetNotFound
	}
	return nil
}

// DeleteAll wipes every set and, first, every session that references one.
// Admin maintenance only.
func (s *Service) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete all: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM test_sessions`); err != nil {
		return fmt.Errorf("delete test sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM problem_sets`); err != nil {
		return fmt.Errorf("delete problem sets: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete all: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSet(row rowScanner) (*ProblemSet, error) {
	var (
		set        ProblemSet
		mcqJSON    []byte
		codingJSON []byte
	)
	err := row.Scan(&set.ID, &set.SetCode, &set.Title, &set.Prompt, &mcqJSON, &codingJSON, &set.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSetNotFound
		}
		return nil, fmt.Errorf("scan problem set: %w", err)
	}
	if err := decodeSetPayload(&set, mcqJSON, codingJSON); err != nil {
		return nil, err
	}
	return &set, nil
}

func decodeSetPayload(set *ProblemSet, mcqJSON, codingJSON []byte) error {
	if len(mcqJSON) > 0 {
		if err := json.Unmarshal(mcqJSON, &set.MCQs); err != nil {
			return fmt.Errorf("decode mcq questions: %w", err)
		}
	}
	if len(codingJSON) > 0 {
		if err := json.Unmarshal(codingJSON, &set.Coding); err != nil {
			return fmt.Errorf("decode coding question: %w", err)
		}
	}
	return nil
}

// newSetCode issues a timestamped code with a random suffix so sets generated
// within the same second stay distinct.
func newSetCode() string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return time.Now().Format("2006-01-02-150405") + "-" + hex.EncodeToString(buf)
}
