package session

import (
	"encoding/json"
	"errors"
	"testing"

	"codequiz/internal/question"
)

func testSet() *question.ProblemSet {
	mcqs := make([]question.MCQQuestion, 0, question.MCQPerSet)
	for i := 0; i < question.MCQPerSet; i++ {
		mcqs = append(mcqs, question.MCQQuestion{
			QuestionText:  "What is the output?",
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: "B",
			Marks:         question.MCQMarks,
		})
	}
	return &question.ProblemSet{
		ID:      1,
		SetCode: "2026-01-01-000000-abc123",
		MCQs:    mcqs,
		Coding: question.CodingQuestion{
			ProblemStatement: "Sum the factors of 60.",
			Marks:            question.CodingMarks,
		},
	}
}

func TestQuestionID_JSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   QuestionID
		want string
	}{
		{name: "mcq index", id: MCQID(3), want: "3"},
		{name: "mcq zero", id: MCQID(0), want: "0"},
		{name: "coding", id: CodingID(), want: `"coding_1"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.id)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(b) != tc.want {
				t.Fatalf("marshal = %s, want %s", b, tc.want)
			}
			var back QuestionID
			if err := json.Unmarshal(b, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back != tc.id {
				t.Fatalf("round trip = %+v, want %+v", back, tc.id)
			}
		})
	}
}

func TestQuestionID_UnmarshalRejectsUnknownString(t *testing.T) {
	var id QuestionID
	if err := json.Unmarshal([]byte(`"coding_2"`), &id); err == nil {
		t.Fatal("expected error for unknown string id")
	}
}

func TestParseDraftKey(t *testing.T) {
	set := testSet()

	tests := []struct {
		key     string
		want    QuestionID
		wantErr bool
	}{
		{key: "mcq_0", want: MCQID(0)},
		{key: "mcq_4", want: MCQID(4)},
		{key: "coding", want: CodingID()},
		{key: "mcq_5", wantErr: true},
		{key: "mcq_-1", wantErr: true},
		{key: "mcq_x", wantErr: true},
		{key: "essay_1", wantErr: true},
		{key: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			got, err := ParseDraftKey(set, tc.key)
			if tc.wantErr {
				if !errors.Is(err, ErrUnknownQuestion) {
					t.Fatalf("err = %v, want ErrUnknownQuestion", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestMaterializeAttempts(t *testing.T) {
	set := testSet()
	drafts := map[string]string{
		"mcq_0": "B",
		"mcq_1": "A",
		"mcq_3": "B",
		// mcq_2 and mcq_4 left unanswered.
		"coding": "print('hello')",
	}

	attempts, total := MaterializeAttempts(set, drafts)
	if len(attempts) != question.MCQPerSet+1 {
		t.Fatalf("attempts = %d, want %d", len(attempts), question.MCQPerSet+1)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}

	for i, a := range attempts[:question.MCQPerSet] {
		if a.QuestionID.IsCoding() || a.QuestionID.MCQIndex() != i {
			t.Fatalf("attempt %d has question id %v", i, a.QuestionID)
		}
		if a.IsCorrect == nil {
			t.Fatalf("mcq attempt %d has nil is_correct", i)
		}
	}

	if got := attempts[0]; !*got.IsCorrect || got.MarksObtained != 1 {
		t.Fatalf("mcq_0 = %+v, want correct with 1 mark", got)
	}
	if got := attempts[1]; *got.IsCorrect || got.MarksObtained != 0 {
		t.Fatalf("mcq_1 = %+v, want wrong with 0 marks", got)
	}
	if got := attempts[2]; *got.IsCorrect || got.StudentAnswer != "" {
		t.Fatalf("mcq_2 = %+v, want unanswered", got)
	}

	coding := attempts[question.MCQPerSet]
	if !coding.QuestionID.IsCoding() {
		t.Fatalf("last attempt is not coding: %+v", coding)
	}
	if coding.IsCorrect != nil {
		t.Fatal("coding attempt graded at materialization")
	}
	if coding.MarksObtained != 0 {
		t.Fatalf("coding marks = %d, want 0", coding.MarksObtained)
	}
	if coding.StudentAnswer != "print('hello')" {
		t.Fatalf("coding answer = %q", coding.StudentAnswer)
	}
}

func TestMaterializeAttempts_EmptyDrafts(t *testing.T) {
	attempts, total := MaterializeAttempts(testSet(), nil)
	if total != 0 {
		t.Fatalf("total = %d, want 0", total)
	}
	for _, a := range attempts {
		if a.MarksObtained != 0 {
			t.Fatalf("attempt %v has marks without answers", a.QuestionID)
		}
	}
}

func TestValidateCodingBreakdown(t *testing.T) {
	tests := []struct {
		name    string
		b       CodingBreakdown
		wantErr bool
	}{
		{name: "all zero", b: CodingBreakdown{}},
		{name: "all max", b: CodingBreakdown{AttemptScore: 1, SyntaxScore: 2, LogicScore: 2}},
		{name: "attempt too high", b: CodingBreakdown{AttemptScore: 2}, wantErr: true},
		{name: "syntax too high", b: CodingBreakdown{SyntaxScore: 3}, wantErr: true},
		{name: "logic too high", b: CodingBreakdown{LogicScore: 3}, wantErr: true},
		{name: "negative attempt", b: CodingBreakdown{AttemptScore: -1}, wantErr: true},
		{name: "negative logic", b: CodingBreakdown{LogicScore: -1}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCodingBreakdown(tc.b)
			if tc.wantErr && !errors.Is(err, ErrInvalidGrade) {
				t.Fatalf("err = %v, want ErrInvalidGrade", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestApplyCodingGrade(t *testing.T) {
	set := testSet()
	attempts, total := MaterializeAttempts(set, map[string]string{
		"mcq_0": "B", "mcq_1": "B", "mcq_2": "B",
		"coding": "some code",
	})
	if total != 3 {
		t.Fatalf("pre-grade total = %d, want 3", total)
	}

	graded, newTotal, err := ApplyCodingGrade(attempts, CodingBreakdown{AttemptScore: 1, SyntaxScore: 2, LogicScore: 1})
	if err != nil {
		t.Fatalf("apply grade: %v", err)
	}
	if newTotal != 7 {
		t.Fatalf("total = %d, want 7", newTotal)
	}

	coding := graded[len(graded)-1]
	if coding.MarksObtained != 4 {
		t.Fatalf("coding marks = %d, want 4", coding.MarksObtained)
	}
	if coding.IsCorrect == nil || !*coding.IsCorrect {
		t.Fatalf("coding is_correct = %v, want true", coding.IsCorrect)
	}
	if coding.CodingBreakdown == nil || coding.CodingBreakdown.Total() != 4 {
		t.Fatalf("breakdown = %+v", coding.CodingBreakdown)
	}

	// Input slice must be untouched.
	if attempts[len(attempts)-1].IsCorrect != nil {
		t.Fatal("input attempts were modified")
	}

	// Re-grading to zero flips is_correct and recomputes from scratch.
	regraded, regradedTotal, err := ApplyCodingGrade(graded, CodingBreakdown{})
	if err != nil {
		t.Fatalf("regrade: %v", err)
	}
	if regradedTotal != 3 {
		t.Fatalf("regraded total = %d, want 3", regradedTotal)
	}
	coding = regraded[len(regraded)-1]
	if coding.IsCorrect == nil || *coding.IsCorrect {
		t.Fatalf("coding is_correct after zero grade = %v, want false", coding.IsCorrect)
	}
}

func TestApplyCodingGrade_InvalidBounds(t *testing.T) {
	attempts, _ := MaterializeAttempts(testSet(), nil)
	if _, _, err := ApplyCodingGrade(attempts, CodingBreakdown{SyntaxScore: 3}); !errors.Is(err, ErrInvalidGrade) {
		t.Fatalf("err = %v, want ErrInvalidGrade", err)
	}
}

func TestAttemptJSONShape(t *testing.T) {
	attempts, _ := MaterializeAttempts(testSet(), map[string]string{"mcq_0": "B", "coding": "x"})
	b, err := json.Marshal(attempts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if string(raw[0]["question_id"]) != "0" {
		t.Fatalf("mcq question_id = %s, want 0", raw[0]["question_id"])
	}
	if string(raw[len(raw)-1]["question_id"]) != `"coding_1"` {
		t.Fatalf("coding question_id = %s, want \"coding_1\"", raw[len(raw)-1]["question_id"])
	}

	back, err := DecodeAttempts(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(back) != len(attempts) {
		t.Fatalf("decoded %d attempts, want %d", len(back), len(attempts))
	}
	if !back[len(back)-1].QuestionID.IsCoding() {
		t.Fatal("decoded coding attempt lost its identity")
	}
}
