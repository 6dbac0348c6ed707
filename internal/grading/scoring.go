package grading

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"quizdesk/internal/question"
)

const (
	ReasonCorrect             = "correct"
	ReasonWrong               = "wrong"
	ReasonUnanswered          = "unanswered"
	ReasonOpenAccepted        = "open_accepted"
	ReasonMalformed           = "malformed_answer"
	ReasonUnknownType         = "unknown_type"
	ReasonQuestionUnavailable = "question_unavailable"
)

type ScoreInput struct {
	Question question.Question
	Value    json.RawMessage
	Locale   *Locale
}

type EvaluatedAnswer struct {
	QuestionID       string          `json:"question_id"`
	SourceQuestionID string          `json:"source_question_id,omitempty"`
	AnswerText       string          `json:"answer_text"`
	Value            json.RawMessage `json:"value,omitempty"`
	IsCorrect        bool            `json:"is_correct"`
	Earned           int             `json:"earned"`
	Reason           string          `json:"reason"`
}

// ScoreAnswer decides correctness of one answer. It never fails: absent,
// empty or wrongly typed values are graded incorrect.
func ScoreAnswer(in ScoreInput) EvaluatedAnswer {
	loc := in.Locale
	if loc == nil {
		loc = Latin
	}
	q := in.Question
	out := EvaluatedAnswer{
		QuestionID: q.ID,
		Value:      cloneRaw(in.Value),
	}
	points := q.Points
	if points < 0 {
		points = 0
	}

	typ := question.NormalizeType(q.Type)
	switch typ {
	case question.TypeCheckbox:
		selected, status := parseSelection(in.Value)
		if status != "answered" {
			out.Reason = reasonFor(status)
			return out
		}
		out.AnswerText = selectionText(selected)
		if len(q.CorrectAnswers) > 0 && equalSet(normalizeSet(loc, selected), normalizeSet(loc, q.CorrectAnswers)) {
			return markCorrect(out, points, ReasonCorrect)
		}
		out.Reason = ReasonWrong
		return out

	case question.TypeMultipleChoice, question.TypeTrueFalse, question.TypeText, question.TypeFillBlank:
		text, status := parseText(in.Value)
		out.AnswerText = text
		if status != "answered" {
			out.Reason = reasonFor(status)
			return out
		}
		if (typ == question.TypeText || typ == question.TypeFillBlank) && len(cleanList(q.CorrectAnswers)) == 0 {
			return markCorrect(out, points, ReasonOpenAccepted)
		}
		got := loc.Normalize(text)
		for _, c := range q.CorrectAnswers {
			if strings.TrimSpace(c) == "" {
				continue
			}
			if loc.Normalize(c) == got {
				return markCorrect(out, points, ReasonCorrect)
			}
		}
		out.Reason = ReasonWrong
		return out

	default:
		out.Reason = ReasonUnknownType
		return out
	}
}

func markCorrect(out EvaluatedAnswer, points int, reason string) EvaluatedAnswer {
	out.IsCorrect = true
	out.Earned = points
	out.Reason = reason
	return out
}

func reasonFor(status string) string {
	if status == "malformed" {
		return ReasonMalformed
	}
	return ReasonUnanswered
}

// parseText accepts a JSON string, a single-element string list, a boolean or
// a number. Anything else is malformed.
func parseText(raw json.RawMessage) (string, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", "unanswered"
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", "malformed"
	}
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return t, "unanswered"
		}
		return t, "answered"
	case bool:
		return strconv.FormatBool(t), "answered"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), "answered"
	case []interface{}:
		if len(t) == 0 {
			return "", "unanswered"
		}
		if len(t) > 1 {
			return "", "malformed"
		}
		s, ok := t[0].(string)
		if !ok {
			return "", "malformed"
		}
		if strings.TrimSpace(s) == "" {
			return s, "unanswered"
		}
		return s, "answered"
	default:
		return "", "malformed"
	}
}

// parseSelection accepts a JSON list of strings or a single string.
func parseSelection(raw json.RawMessage) ([]string, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, "unanswered"
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, "malformed"
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, "unanswered"
		}
		return []string{s}, "answered"
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, it := range t {
			s, ok := it.(string)
			if !ok {
				return nil, "malformed"
			}
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil, "unanswered"
		}
		return out, "answered"
	default:
		return nil, "malformed"
	}
}

func selectionText(selected []string) string {
	b, err := json.Marshal(selected)
	if err != nil {
		return strings.Join(selected, ", ")
	}
	return string(b)
}

func normalizeSet(loc *Locale, in []string) map[string]struct{} {
	set := make(map[string]struct{}, len(in))
	for _, v := range in {
		if strings.TrimSpace(v) == "" {
			continue
		}
		set[loc.Normalize(v)] = struct{}{}
	}
	return set
}

func equalSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		b, _ := json.Marshal(string(raw))
		return b
	}
	return append(json.RawMessage(nil), raw...)
}
