package question

import "time"

const (
	// MCQPerSet is the number of multiple-choice questions in every set.
	MCQPerSet = 5
	// MCQMarks is the weight of one multiple-choice question.
	MCQMarks = 1
	// CodingMarks is the weight of the coding question.
	CodingMarks = 5
	// OptionsPerMCQ is the number of answer options every MCQ carries.
	OptionsPerMCQ = 4
)

type MCQQuestion struct {
	QuestionText  string   `json:"question_text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
	Marks         int      `json:"marks"`
}

type CodingQuestion struct {
	ProblemStatement string `json:"problem_statement"`
	SampleInput      string `json:"sample_input"`
	SampleOutput     string `json:"sample_output"`
	Solution         string `json:"solution"`
	Explanation      string `json:"explanation"`
	Marks            int    `json:"marks"`
}

// ProblemSet is one generated set: five MCQs and one coding question stored
// together under a single id, so the coding half is always found by key and
// never by matching prompts or timestamps.
type ProblemSet struct {
	ID         int64          `json:"id"`
	SetCode    string         `json:"set_code"`
	Title      string         `json:"title"`
	Prompt     string         `json:"prompt"`
	MCQs       []MCQQuestion  `json:"mcq_questions"`
	Coding     CodingQuestion `json:"coding_question"`
	CreatedAt  time.Time      `json:"created_at"`
	UsageCount int            `json:"usage_count"`
}

type SetStats struct {
	TotalSets  int `json:"total_sets"`
	UsedSets   int `json:"used_sets"`
	UnusedSets int `json:"unused_sets"`
}
