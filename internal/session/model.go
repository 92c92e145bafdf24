package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// CodingAttemptID is the sentinel identity of the coding attempt inside
// question_attempts. MCQ attempts are identified by their zero-based index.
const CodingAttemptID = "coding_1"

// QuestionID identifies one attempt within a session. It serializes as a JSON
// integer for MCQs and as the string sentinel for the coding item, matching
// the persisted document shape.
type QuestionID struct {
	index  int
	coding bool
}

func MCQID(index int) QuestionID {
	return QuestionID{index: index}
}

func CodingID() QuestionID {
	return QuestionID{coding: true}
}

func (q QuestionID) IsCoding() bool { return q.coding }

// MCQIndex returns the zero-based MCQ index. Only meaningful when IsCoding is
// false.
func (q QuestionID) MCQIndex() int { return q.index }

func (q QuestionID) String() string {
	if q.coding {
		return CodingAttemptID
	}
	return strconv.Itoa(q.index)
}

func (q QuestionID) MarshalJSON() ([]byte, error) {
	if q.coding {
		return json.Marshal(CodingAttemptID)
	}
	return json.Marshal(q.index)
}

func (q *QuestionID) UnmarshalJSON(data []byte) error {
	var idx int
	if err := json.Unmarshal(data, &idx); err == nil {
		*q = MCQID(idx)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("question_id must be an integer or %q", CodingAttemptID)
	}
	if s != CodingAttemptID {
		return fmt.Errorf("unknown question_id %q", s)
	}
	*q = CodingID()
	return nil
}

// CodingBreakdown carries the bounded sub-scores supplied by the coding
// evaluator. attempt_score <= 1, syntax_score <= 2, logic_score <= 2.
type CodingBreakdown struct {
	AttemptScore int `json:"attempt_score"`
	SyntaxScore  int `json:"syntax_score"`
	LogicScore   int `json:"logic_score"`
}

func (b CodingBreakdown) Total() int {
	return b.AttemptScore + b.SyntaxScore + b.LogicScore
}

// Attempt is one recorded answer and its grading outcome. IsCorrect stays nil
// for the coding attempt until an evaluator grades it.
type Attempt struct {
	QuestionID      QuestionID       `json:"question_id"`
	QuestionText    string           `json:"question_text"`
	StudentAnswer   string           `json:"student_answer"`
	CorrectAnswer   string           `json:"correct_answer,omitempty"`
	IsCorrect       *bool            `json:"is_correct"`
	MarksObtained   int              `json:"marks_obtained"`
	CodingBreakdown *CodingBreakdown `json:"coding_breakdown,omitempty"`
}

// TestSession is a single student's test attempt. Draft answers accumulate
// while the session is active; question_attempts are materialized exactly
// once, when the session completes.
type TestSession struct {
	ID           int64             `json:"id"`
	StudentID    int64             `json:"student_id"`
	ProblemSetID int64             `json:"problem_set_id"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	IsCompleted  bool              `json:"is_completed"`
	DraftAnswers map[string]string `json:"draft_answers,omitempty"`
	Attempts     []Attempt         `json:"question_attempts"`
	TotalScore   int               `json:"total_score"`
	Feedback     *string           `json:"feedback,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Remaining reports the seconds left before the deadline, zero once completed
// or past due.
func (t *TestSession) Remaining(now time.Time) int64 {
	if t.IsCompleted {
		return 0
	}
	remaining := t.EndTime.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int64(remaining.Seconds())
}

// DecodeAttempts parses a persisted question_attempts document.
func DecodeAttempts(raw []byte) ([]Attempt, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var attempts []Attempt
	if err := json.Unmarshal(raw, &attempts); err != nil {
		return nil, fmt.Errorf("decode question attempts: %w", err)
	}
	return attempts, nil
}
