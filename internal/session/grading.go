package session

import (
	"fmt"
	"strconv"
	"strings"

	"codequiz/internal/question"
)

// Draft answer keys. MCQ answers are stored under mcq_<index>, the coding
// answer under a fixed key.
const (
	draftKeyPrefixMCQ = "mcq_"
	DraftKeyCoding    = "coding"
)

// Sub-score ceilings for coding evaluation.
const (
	MaxAttemptScore = 1
	MaxSyntaxScore  = 2
	MaxLogicScore   = 2
)

func DraftKeyMCQ(index int) string {
	return draftKeyPrefixMCQ + strconv.Itoa(index)
}

// ParseDraftKey resolves a draft answer key against a set. It reports which
// question the key addresses, or an error for keys outside the set.
func ParseDraftKey(set *question.ProblemSet, key string) (QuestionID, error) {
	if key == DraftKeyCoding {
		return CodingID(), nil
	}
	idx, ok := strings.CutPrefix(key, draftKeyPrefixMCQ)
	if ok {
		i, err := strconv.Atoi(idx)
		if err == nil && i >= 0 && i < len(set.MCQs) {
			return MCQID(i), nil
		}
	}
	return QuestionID{}, fmt.Errorf("%w: %q", ErrUnknownQuestion, key)
}

// MaterializeAttempts turns the draft answers into the final graded attempt
// list for a set. MCQs are scored by exact option match; the coding attempt is
// recorded ungraded (nil is_correct, zero marks) until an evaluator scores it.
// Unanswered questions materialize with an empty student answer. The returned
// total is the sum of marks_obtained across all attempts.
func MaterializeAttempts(set *question.ProblemSet, drafts map[string]string) ([]Attempt, int) {
	attempts := make([]Attempt, 0, len(set.MCQs)+1)
	for i, q := range set.MCQs {
		answer := drafts[DraftKeyMCQ(i)]
		correct := answer != "" && answer == q.CorrectAnswer
		marks := 0
		if correct {
			marks = q.Marks
		}
		attempts = append(attempts, Attempt{
			QuestionID:    MCQID(i),
			QuestionText:  q.QuestionText,
			StudentAnswer: answer,
			CorrectAnswer: q.CorrectAnswer,
			IsCorrect:     &correct,
			MarksObtained: marks,
		})
	}
	attempts = append(attempts, Attempt{
		QuestionID:    CodingID(),
		QuestionText:  set.Coding.ProblemStatement,
		StudentAnswer: drafts[DraftKeyCoding],
	})
	return attempts, SumMarks(attempts)
}

// SumMarks recomputes the session total from its attempts. Totals are always
// derived this way, never adjusted incrementally.
func SumMarks(attempts []Attempt) int {
	total := 0
	for _, a := range attempts {
		total += a.MarksObtained
	}
	return total
}

// ValidateCodingBreakdown enforces the sub-score bounds.
func ValidateCodingBreakdown(b CodingBreakdown) error {
	switch {
	case b.AttemptScore < 0 || b.AttemptScore > MaxAttemptScore:
		return fmt.Errorf("%w: attempt_score must be between 0 and %d", ErrInvalidGrade, MaxAttemptScore)
	case b.SyntaxScore < 0 || b.SyntaxScore > MaxSyntaxScore:
		return fmt.Errorf("%w: syntax_score must be between 0 and %d", ErrInvalidGrade, MaxSyntaxScore)
	case b.LogicScore < 0 || b.LogicScore > MaxLogicScore:
		return fmt.Errorf("%w: logic_score must be between 0 and %d", ErrInvalidGrade, MaxLogicScore)
	}
	return nil
}

// ApplyCodingGrade writes a validated breakdown onto the coding attempt and
// returns the regraded attempt list with the recomputed total. The input slice
// is not modified.
func ApplyCodingGrade(attempts []Attempt, b CodingBreakdown) ([]Attempt, int, error) {
	if err := ValidateCodingBreakdown(b); err != nil {
		return nil, 0, err
	}
	graded := make([]Attempt, len(attempts))
	copy(graded, attempts)

	found := false
	for i := range graded {
		if !graded[i].QuestionID.IsCoding() {
			continue
		}
		marks := b.Total()
		correct := marks > 0
		breakdown := b
		graded[i].MarksObtained = marks
		graded[i].IsCorrect = &correct
		graded[i].CodingBreakdown = &breakdown
		found = true
		break
	}
	if !found {
		return nil, 0, fmt.Errorf("%w: session has no coding attempt", ErrInvalidGrade)
	}
	return graded, SumMarks(graded), nil
}
