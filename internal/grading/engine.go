package grading

import (
	"encoding/json"

	"quizdesk/internal/question"
)

// Item is one assigned question of a respondent's set. Question is nil when
// the definition it points to no longer exists.
type Item struct {
	QuestionID       string
	SourceQuestionID string
	Question         *question.Question
}

type Result struct {
	Answers     []EvaluatedAnswer `json:"answers"`
	Score       int               `json:"score"`
	MaxScore    int               `json:"max_score"`
	Correct     int               `json:"correct"`
	Wrong       int               `json:"wrong"`
	Unanswered  int               `json:"unanswered"`
	Unavailable int               `json:"unavailable"`
}

// GradeSet grades every assigned item against the answers keyed by assigned
// question id. It yields exactly one evaluated answer per item, in item
// order. Answers for ids outside the set are ignored.
func GradeSet(loc *Locale, items []Item, answers map[string]json.RawMessage) Result {
	res := Result{Answers: make([]EvaluatedAnswer, 0, len(items))}
	for _, it := range items {
		value := answers[it.QuestionID]

		if it.Question == nil {
			res.Unavailable++
			ev := EvaluatedAnswer{
				QuestionID:       it.QuestionID,
				SourceQuestionID: it.SourceQuestionID,
				Value:            cloneRaw(value),
				Reason:           ReasonQuestionUnavailable,
			}
			if text, status := parseText(value); status == "answered" {
				ev.AnswerText = text
			} else if sel, status := parseSelection(value); status == "answered" {
				ev.AnswerText = selectionText(sel)
			}
			res.Answers = append(res.Answers, ev)
			continue
		}

		q := *it.Question
		q.ID = it.QuestionID
		ev := ScoreAnswer(ScoreInput{Question: q, Value: value, Locale: loc})
		ev.SourceQuestionID = it.SourceQuestionID

		if q.Points > 0 {
			res.MaxScore += q.Points
		}
		switch {
		case ev.IsCorrect:
			res.Correct++
			res.Score += ev.Earned
		case ev.Reason == ReasonUnanswered:
			res.Unanswered++
		default:
			res.Wrong++
		}
		res.Answers = append(res.Answers, ev)
	}
	return res
}
