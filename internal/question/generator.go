package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"codequiz/internal/llm"
)

var ErrMalformedGeneration = errors.New("generated content is malformed")

const generatorSystemPrompt = "You are a Python instructor creating a basic test for students. Respond with a single JSON object and nothing else."

// Generator produces draft problem sets from a topic prompt via the LLM.
// Drafts are returned for admin review and saved through the Service only
// after confirmation.
type Generator struct {
	client *llm.Client
}

func NewGenerator(client *llm.Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, topicPrompt string) (*ProblemSet, error) {
	topic := strings.TrimSpace(topicPrompt)
	if topic == "" {
		return nil, errors.New("topic prompt is required")
	}

	mcqRaw, err := g.client.CompleteJSON(ctx, generatorSystemPrompt, mcqPrompt(topic))
	if err != nil {
		return nil, fmt.Errorf("generate mcq questions: %w", err)
	}
	mcqs, err := parseMCQResponse(mcqRaw)
	if err != nil {
		return nil, err
	}

	codingRaw, err := g.client.CompleteJSON(ctx, generatorSystemPrompt, codingPrompt(topic))
	if err != nil {
		return nil, fmt.Errorf("generate coding question: %w", err)
	}
	coding, err := parseCodingResponse(codingRaw)
	if err != nil {
		return nil, err
	}

	set := &ProblemSet{
		Title:  topic,
		Prompt: topic,
		MCQs:   mcqs,
		Coding: *coding,
	}
	if err := ValidateSet(set); err != nil {
		return nil, err
	}
	return set, nil
}

func mcqPrompt(topic string) string {
	return fmt.Sprintf(`Generate %d MCQ questions based on these topics: %s

Requirements:
1. All questions MUST be output-based (i.e., "What is the output of this code?")
2. Avoid nested loops and advanced concepts
3. Avoid inbuilt functions (sum(), len(), etc.) and user-defined functions
4. Keep implementation simple and beginner-friendly
5. Each question must include a 1-2 line explanation
6. Each question has exactly %d distinct options and the correct_answer must be one of them

Return ONLY a JSON object in this EXACT format:
{
    "mcq_questions": [
        {
            "question_text": "What is the output of this Python code:\nx = 5\ny = 2\nprint(x > y and y < 10)",
            "options": ["True", "False", "None", "Error"],
            "correct_answer": "True",
            "explanation": "Both conditions are True, so True and True equals True",
            "marks": 1
        }
    ]
}`, MCQPerSet, topic, OptionsPerMCQ)
}

func codingPrompt(topic string) string {
	return fmt.Sprintf(`Create 1 coding problem based on these topics: %s

Requirements:
1. Problem should use a for/while loop with an if condition
2. Avoid nested loops and advanced concepts
3. Avoid inbuilt functions (sum(), len(), etc.) and user-defined functions
4. Include a small real-world context
5. Keep implementation simple and beginner-friendly
6. Provide sample input/output that clearly demonstrates the logic
7. Focus on mathematical pattern questions (sum of factors, counting divisible numbers, even/odd differences)

Return ONLY a JSON object in this EXACT format:
{
    "coding_question": {
        "problem_statement": "Write a program to find the sum of all factors of 60.",
        "sample_input": "No input needed",
        "sample_output": "Sum of factors is 168",
        "solution": "num = 60\nsum = 0\nfor i in range(1, num + 1):\n    if num %% i == 0:\n        sum = sum + i\nprint('Sum of factors is', sum)",
        "explanation": "Loop through numbers 1 to 60, add number to sum if it divides 60 completely",
        "marks": 5
    }
}`, topic)
}

func parseMCQResponse(raw string) ([]MCQQuestion, error) {
	cleaned := extractJSONObject(raw)
	var payload struct {
		MCQQuestions []MCQQuestion `json:"mcq_questions"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("%w: decode mcq response: %v", ErrMalformedGeneration, err)
	}
	if len(payload.MCQQuestions) != MCQPerSet {
		return nil, fmt.Errorf("%w: expected %d mcq questions, got %d", ErrMalformedGeneration, MCQPerSet, len(payload.MCQQuestions))
	}
	for i := range payload.MCQQuestions {
		payload.MCQQuestions[i].Marks = MCQMarks
	}
	return payload.MCQQuestions, nil
}

func parseCodingResponse(raw string) (*CodingQuestion, error) {
	cleaned := extractJSONObject(raw)
	var payload struct {
		CodingQuestion CodingQuestion `json:"coding_question"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("%w: decode coding response: %v", ErrMalformedGeneration, err)
	}
	payload.CodingQuestion.Marks = CodingMarks
	return &payload.CodingQuestion, nil
}

// extractJSONObject trims anything outside the outermost braces. Models
// occasionally wrap the object in prose or a code fence.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}

// ValidateSet checks that a set (generated or admin-supplied) is complete and
// internally consistent before it is persisted.
func ValidateSet(set *ProblemSet) error {
	if set == nil {
		return fmt.Errorf("%w: empty set", ErrMalformedGeneration)
	}
	if strings.TrimSpace(set.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrMalformedGeneration)
	}
	if len(set.MCQs) != MCQPerSet {
		return fmt.Errorf("%w: expected %d mcq questions, got %d", ErrMalformedGeneration, MCQPerSet, len(set.MCQs))
	}
	for i, q := range set.MCQs {
		if strings.TrimSpace(q.QuestionText) == "" {
			return fmt.Errorf("%w: mcq %d has empty question text", ErrMalformedGeneration, i+1)
		}
		if len(q.Options) != OptionsPerMCQ {
			return fmt.Errorf("%w: mcq %d has %d options, expected %d", ErrMalformedGeneration, i+1, len(q.Options), OptionsPerMCQ)
		}
		seen := make(map[string]struct{}, len(q.Options))
		correctFound := false
		for _, opt := range q.Options {
			key := strings.TrimSpace(opt)
			if key == "" {
				return fmt.Errorf("%w: mcq %d has an empty option", ErrMalformedGeneration, i+1)
			}
			if _, dup := seen[key]; dup {
				return fmt.Errorf("%w: mcq %d has duplicate options", ErrMalformedGeneration, i+1)
			}
			seen[key] = struct{}{}
			if opt == q.CorrectAnswer {
				correctFound = true
			}
		}
		if !correctFound {
			return fmt.Errorf("%w: mcq %d correct answer is not among options", ErrMalformedGeneration, i+1)
		}
	}
	if strings.TrimSpace(set.Coding.ProblemStatement) == "" {
		return fmt.Errorf("%w: coding problem statement is required", ErrMalformedGeneration)
	}
	return nil
}
