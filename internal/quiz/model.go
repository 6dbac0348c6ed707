package quiz

import (
	"encoding/json"
	"time"

	"quizdesk/internal/grading"
	"quizdesk/internal/question"
	"quizdesk/internal/selection"
)

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusExpired    = "expired"
)

// BankConfig switches a quiz from its fixed question list to per-respondent
// sampling from the owner's question bank.
type BankConfig struct {
	Enabled              bool             `json:"enabled"`
	SectionIDs           []string         `json:"section_ids"`
	IncludeUncategorized bool             `json:"include_uncategorized"`
	Difficulty           string           `json:"difficulty"`
	QuestionsPerUser     int              `json:"questions_per_user"`
	Distribution         []selection.Rule `json:"distribution"`
	StrictSupply         bool             `json:"strict_supply"`
}

func (b BankConfig) selectionConfig() selection.Config {
	return selection.Config{
		Rules:                b.Distribution,
		SectionIDs:           b.SectionIDs,
		IncludeUncategorized: b.IncludeUncategorized,
		Difficulty:           b.Difficulty,
		QuestionsPerUser:     b.QuestionsPerUser,
	}
}

type Quiz struct {
	ID               string              `json:"id"`
	OwnerID          string              `json:"owner_id"`
	Title            string              `json:"title"`
	Description      string              `json:"description"`
	Locale           string              `json:"locale"`
	TimeLimitMinutes int                 `json:"time_limit_minutes"`
	ShuffleQuestions bool                `json:"shuffle_questions"`
	ShowResults      bool                `json:"show_results"`
	IsPublished      bool                `json:"is_published"`
	Questions        []question.Question `json:"questions"`
	Bank             BankConfig          `json:"bank"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// QuizQuestionInput is a direct quiz question. ID names an existing question
// of the quiz to keep its identity across edits; unknown or empty ids get a
// fresh one.
type QuizQuestionInput struct {
	ID string `json:"id"`
	question.QuestionInput
}

type QuizInput struct {
	Title            string
	Description      string
	Locale           string
	TimeLimitMinutes int
	ShuffleQuestions bool
	ShowResults      *bool
	IsPublished      bool
	Questions        []QuizQuestionInput
	QuestionIDs      []string
	Bank             BankConfig
}

// QuizInfo is the public landing view of a published quiz.
type QuizInfo struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	TimeLimitMinutes int    `json:"time_limit_minutes"`
	QuestionCount    int    `json:"question_count"`
}

type Respondent struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Session is an in-flight attempt kept in the session store until it is
// graded.
type Session struct {
	ID               string                       `json:"id"`
	QuizID           string                       `json:"quiz_id"`
	OwnerID          string                       `json:"owner_id"`
	Title            string                       `json:"title"`
	Respondent       Respondent                   `json:"respondent"`
	Locale           string                       `json:"locale"`
	ShowResults      bool                         `json:"show_results"`
	Questions        []selection.AssignedQuestion `json:"questions"`
	Sections         []selection.SectionCount     `json:"sections"`
	MaxScore         int                          `json:"max_score"`
	Answers          map[string]json.RawMessage   `json:"answers"`
	StartedAt        time.Time                    `json:"started_at"`
	ExpiresAt        time.Time                    `json:"expires_at"`
	TimeLimitMinutes int                          `json:"time_limit_minutes"`
}

func (s *Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// PublicQuestion is what a respondent sees: no answer key, no explanation.
type PublicQuestion struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Points    int      `json:"points"`
	Required  bool     `json:"required"`
	SectionID string   `json:"section_id,omitempty"`
}

type SessionView struct {
	ID               string                     `json:"id"`
	QuizID           string                     `json:"quiz_id"`
	Title            string                     `json:"title"`
	Respondent       Respondent                 `json:"respondent"`
	Questions        []PublicQuestion           `json:"questions"`
	Sections         []selection.SectionCount   `json:"sections"`
	MaxScore         int                        `json:"max_score"`
	Answers          map[string]json.RawMessage `json:"answers"`
	StartedAt        time.Time                  `json:"started_at"`
	ExpiresAt        *time.Time                 `json:"expires_at,omitempty"`
	RemainingSeconds *int64                     `json:"remaining_seconds,omitempty"`
}

type SessionStatus struct {
	Status  string        `json:"status"`
	Session *SessionView  `json:"session,omitempty"`
	Result  *SubmitResult `json:"result,omitempty"`
}

type SubmitResult struct {
	SubmissionID      string                    `json:"submission_id"`
	Status            string                    `json:"status"`
	Score             int                       `json:"score"`
	MaxScore          int                       `json:"max_score"`
	Percentage        float64                   `json:"percentage"`
	Correct           int                       `json:"correct"`
	Wrong             int                       `json:"wrong"`
	Unanswered        int                       `json:"unanswered"`
	CompletionSeconds int                       `json:"completion_seconds"`
	Answers           []grading.EvaluatedAnswer `json:"answers,omitempty"`
}

type Submission struct {
	ID                string                       `json:"id"`
	QuizID            string                       `json:"quiz_id"`
	OwnerID           string                       `json:"owner_id"`
	Respondent        Respondent                   `json:"respondent"`
	Status            string                       `json:"status"`
	Locale            string                       `json:"locale"`
	AssignedQuestions []selection.AssignedQuestion `json:"assigned_questions"`
	Answers           []grading.EvaluatedAnswer    `json:"answers"`
	Score             int                          `json:"score"`
	MaxScore          int                          `json:"max_score"`
	CompletionSeconds int                          `json:"completion_seconds"`
	StartedAt         time.Time                    `json:"started_at"`
	CompletedAt       time.Time                    `json:"completed_at"`
	RecorrectedAt     *time.Time                   `json:"recorrected_at,omitempty"`
}

// AssignedQuestionIDs lists the snapshot ids in presentation order.
func (s *Submission) AssignedQuestionIDs() []string {
	out := make([]string, 0, len(s.AssignedQuestions))
	for _, q := range s.AssignedQuestions {
		out = append(out, q.ID)
	}
	return out
}

// RecorrectReport summarizes a bulk regrade of a quiz's submissions.
type RecorrectReport struct {
	Total   int `json:"total"`
	Changed int `json:"changed"`
}

func percentage(score, max int) float64 {
	if max <= 0 {
		return 0
	}
	p := float64(score) * 100 / float64(max)
	return float64(int(p*100+0.5)) / 100
}
