package question

import (
	"strings"
	"time"
)

const (
	TypeMultipleChoice = "multiple_choice"
	TypeCheckbox       = "checkbox"
	TypeTrueFalse      = "true_false"
	TypeText           = "text"
	TypeFillBlank      = "fill_blank"
)

// UncategorizedSection selects bank questions that have no section.
const UncategorizedSection = "uncategorized"

type Question struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id,omitempty"`
	Type           string    `json:"type"`
	Question       string    `json:"question"`
	Options        []string  `json:"options"`
	CorrectAnswers []string  `json:"correct_answers"`
	Points         int       `json:"points"`
	Explanation    string    `json:"explanation,omitempty"`
	Required       bool      `json:"required"`
	SectionID      string    `json:"section_id,omitempty"`
	Difficulty     string    `json:"difficulty,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

type Section struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// IsOpenText reports whether the question takes free text instead of options.
func (q Question) IsOpenText() bool {
	t := NormalizeType(q.Type)
	return t == TypeText || t == TypeFillBlank
}

// Uncategorized reports whether the question belongs to no section.
func (q Question) Uncategorized() bool {
	return strings.TrimSpace(q.SectionID) == ""
}

// PublicView strips the answer key and explanation before a question is sent
// to a respondent.
func (q Question) PublicView() Question {
	out := q
	out.CorrectAnswers = nil
	out.Explanation = ""
	out.OwnerID = ""
	return out
}

func NormalizeType(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	switch v {
	case "multiple_choice", "mcq", "single":
		return TypeMultipleChoice
	case "checkbox", "multiple", "multi":
		return TypeCheckbox
	case "true_false", "truefalse", "boolean":
		return TypeTrueFalse
	case "text", "short_answer", "paragraph":
		return TypeText
	case "fill_blank", "fill_in_blank", "blank":
		return TypeFillBlank
	default:
		return v
	}
}

func knownType(v string) bool {
	switch v {
	case TypeMultipleChoice, TypeCheckbox, TypeTrueFalse, TypeText, TypeFillBlank:
		return true
	}
	return false
}
