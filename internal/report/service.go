package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"codequiz/internal/auth"
	"codequiz/internal/question"
	"codequiz/internal/session"
)

var (
	ErrNoStudentEmail = errors.New("student has no email address")
)

// MaxScore is the ceiling of a session total: five MCQs plus the coding
// question.
const MaxScore = question.MCQPerSet*question.MCQMarks + question.CodingMarks

// ResultSummary is one completed session as shown on the results board.
type ResultSummary struct {
	SessionID       int64     `json:"session_id"`
	Username        string    `json:"username"`
	FullName        string    `json:"full_name"`
	Email           *string   `json:"email,omitempty"`
	SetCode         string    `json:"set_code"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds int64     `json:"duration_seconds"`
	MCQScore        int       `json:"mcq_score"`
	CodingScore     int       `json:"coding_score"`
	CodingGraded    bool      `json:"coding_graded"`
	TotalScore      int       `json:"total_score"`
	MaxScore        int       `json:"max_score"`
	HasFeedback     bool      `json:"has_feedback"`
}

type sessionReader interface {
	Get(ctx context.Context, id int64) (*session.TestSession, error)
	SetFeedback(ctx context.Context, id int64, feedback string) error
}

type userReader interface {
	GetUser(ctx context.Context, id int64) (*auth.User, error)
}

type feedbackClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type Service struct {
	db       *sql.DB
	sessions sessionReader
	users    userReader
	llm      feedbackClient
	mailer   *Mailer
}

func NewService(db *sql.DB, sessions sessionReader, users userReader, llm feedbackClient, mailer *Mailer) *Service {
	return &Service{db: db, sessions: sessions, users: users, llm: llm, mailer: mailer}
}

// List returns every completed session joined with its student and set,
// newest first.
func (s *Service) List(ctx context.Context) ([]ResultSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts.id, u.username, u.full_name, u.email, ps.set_code,
			ts.start_time, ts.end_time, ts.total_score, ts.question_attempts,
			ts.feedback IS NOT NULL
		FROM test_sessions ts
		JOIN users u ON u.id = ts.student_id
		JOIN problem_sets ps ON ps.id = ts.problem_set_id
		WHERE ts.is_completed
		ORDER BY ts.end_time DESC, ts.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := make([]ResultSummary, 0)
	for rows.Next() {
		var (
			res      ResultSummary
			email    sql.NullString
			attempts []byte
		)
		err := rows.Scan(&res.SessionID, &res.Username, &res.FullName, &email, &res.SetCode,
			&res.StartTime, &res.EndTime, &res.TotalScore, &attempts, &res.HasFeedback)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if email.Valid {
			res.Email = &email.String
		}
		decoded, err := session.DecodeAttempts(attempts)
		if err != nil {
			return nil, err
		}
		res.MCQScore, res.CodingScore, res.CodingGraded = splitScores(decoded)
		res.MaxScore = MaxScore
		res.DurationSeconds = int64(res.EndTime.Sub(res.StartTime).Seconds())
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

const feedbackSystemPrompt = "You are a supportive programming instructor writing a short performance review for a beginner student. Be concrete and encouraging. Respond with plain text, 3 to 5 sentences, no headings."

// GenerateFeedback produces AI feedback for a completed session and stores
// it. Existing feedback is returned as-is unless force is set.
func (s *Service) GenerateFeedback(ctx context.Context, sessionID int64, force bool) (string, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !sess.IsCompleted {
		return "", session.ErrSessionNotCompleted
	}
	if sess.Feedback != nil && *sess.Feedback != "" && !force {
		return *sess.Feedback, nil
	}

	student, err := s.users.GetUser(ctx, sess.StudentID)
	if err != nil {
		return "", err
	}

	feedback, err := s.llm.Complete(ctx, feedbackSystemPrompt, feedbackPrompt(student, sess))
	if err != nil {
		return "", fmt.Errorf("generate feedback: %w", err)
	}
	if err := s.sessions.SetFeedback(ctx, sessionID, feedback); err != nil {
		return "", err
	}
	return feedback, nil
}

// EmailReport mails the student their result summary, including feedback when
// present.
func (s *Service) EmailReport(ctx context.Context, sessionID int64) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.IsCompleted {
		return session.ErrSessionNotCompleted
	}
	student, err := s.users.GetUser(ctx, sess.StudentID)
	if err != nil {
		return err
	}
	if student.Email == nil || strings.TrimSpace(*student.Email) == "" {
		return ErrNoStudentEmail
	}

	subject := fmt.Sprintf("Your test result: %d/%d", sess.TotalScore, MaxScore)
	return s.mailer.Send(*student.Email, subject, reportBody(student, sess))
}

func feedbackPrompt(student *auth.User, sess *session.TestSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Student: %s\n", student.FullName)
	fmt.Fprintf(&b, "Total score: %d out of %d\n\n", sess.TotalScore, MaxScore)
	b.WriteString("Per-question outcomes:\n")
	for _, a := range sess.Attempts {
		if a.QuestionID.IsCoding() {
			graded := "not graded yet"
			if a.IsCorrect != nil {
				graded = fmt.Sprintf("%d/%d marks", a.MarksObtained, question.CodingMarks)
			}
			fmt.Fprintf(&b, "- Coding question (%s): answer submitted=%t\n", graded, strings.TrimSpace(a.StudentAnswer) != "")
			continue
		}
		outcome := "unanswered"
		if a.StudentAnswer != "" {
			outcome = "wrong"
			if a.IsCorrect != nil && *a.IsCorrect {
				outcome = "correct"
			}
		}
		fmt.Fprintf(&b, "- MCQ %d: %s\n", a.QuestionID.MCQIndex()+1, outcome)
	}
	b.WriteString("\nWrite feedback for this student.")
	return b.String()
}

func reportBody(student *auth.User, sess *session.TestSession) string {
	mcq, coding, graded := splitScores(sess.Attempts)

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", student.FullName)
	fmt.Fprintf(&b, "Here is your test result from %s.\n\n", sess.EndTime.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Total score: %d/%d\n", sess.TotalScore, MaxScore)
	fmt.Fprintf(&b, "MCQ score: %d/%d\n", mcq, question.MCQPerSet*question.MCQMarks)
	if graded {
		fmt.Fprintf(&b, "Coding score: %d/%d\n", coding, question.CodingMarks)
	} else {
		b.WriteString("Coding score: pending review\n")
	}
	if sess.Feedback != nil && *sess.Feedback != "" {
		fmt.Fprintf(&b, "\nFeedback:\n%s\n", *sess.Feedback)
	}
	b.WriteString("\nThank you for taking the test.\n")
	return b.String()
}

// splitScores derives the MCQ and coding sub-scores from attempts, plus
// whether the coding attempt has been graded.
func splitScores(attempts []session.Attempt) (mcq, coding int, graded bool) {
	for _, a := range attempts {
		if a.QuestionID.IsCoding() {
			coding = a.MarksObtained
			graded = a.IsCorrect != nil
			continue
		}
		mcq += a.MarksObtained
	}
	return mcq, coding, graded
}
