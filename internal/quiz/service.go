package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"quizdesk/internal/events"
	"quizdesk/internal/grading"
	"quizdesk/internal/question"
	"quizdesk/internal/selection"
	"quizdesk/internal/session"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrQuizNotFound          = errors.New("quiz not found")
	ErrQuizNotPublished      = errors.New("quiz is not published")
	ErrEmptySelection        = errors.New("quiz has no questions")
	ErrInsufficientSupply    = errors.New("question bank cannot supply the requested questions")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionClosed         = errors.New("session is closed")
	ErrQuestionNotInSession  = errors.New("question not in session")
	ErrSubmissionNotFound    = errors.New("submission not found")
	ErrBankQuestionsNotFound = errors.New("bank questions not found")
)

// SupplyError carries the per-rule shortfalls behind ErrInsufficientSupply.
type SupplyError struct {
	Shortfalls []selection.Shortfall
}

func (e *SupplyError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		id := s.SectionID
		if id == "" {
			id = "bank"
		}
		if s.Difficulty != "" {
			id += "/" + s.Difficulty
		}
		parts = append(parts, fmt.Sprintf("%s: requested %d, available %d", id, s.Requested, s.Available))
	}
	return ErrInsufficientSupply.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *SupplyError) Unwrap() error { return ErrInsufficientSupply }

// Bank is the read side of the question bank the quiz service depends on.
type Bank interface {
	ListBank(ctx context.Context, ownerID string, f question.BankFilter) ([]question.Question, error)
	ListSections(ctx context.Context, ownerID string) ([]question.Section, error)
	GetByIDs(ctx context.Context, ownerID string, ids []string) (map[string]question.Question, error)
}

type Service struct {
	db            *sql.DB
	bank          Bank
	sessions      session.Store
	events        events.Publisher
	selector      *selection.Selector
	grace         time.Duration
	retention     time.Duration
	defaultLocale string
	now           func() time.Time
}

type ServiceConfig struct {
	Bank          Bank
	Sessions      session.Store
	Events        events.Publisher
	Selector      *selection.Selector
	Grace         time.Duration
	Retention     time.Duration
	DefaultLocale string
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewMemoryStore()
	}
	if cfg.Events == nil {
		cfg.Events = events.NopPublisher{}
	}
	if cfg.Selector == nil {
		cfg.Selector = selection.New(nil)
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &Service{
		db:            db,
		bank:          cfg.Bank,
		sessions:      cfg.Sessions,
		events:        cfg.Events,
		selector:      cfg.Selector,
		grace:         cfg.Grace,
		retention:     cfg.Retention,
		defaultLocale: strings.TrimSpace(cfg.DefaultLocale),
		now:           time.Now,
	}
}

func (s *Service) CreateQuiz(ctx context.Context, ownerID string, in QuizInput) (*Quiz, error) {
	q, err := s.buildQuiz(ctx, ownerID, in, nil)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC().Truncate(time.Second)
	q.ID = uuid.NewString()
	q.OwnerID = ownerID
	q.CreatedAt = now
	q.UpdatedAt = now

	questionsJSON, bankJSON, err := encodeQuizBody(q)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quizzes (
			id, owner_id, title, description, locale, time_limit_minutes,
			shuffle_questions, show_results, is_published, questions_json, bank_json,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, q.ID, q.OwnerID, q.Title, q.Description, q.Locale, q.TimeLimitMinutes,
		q.ShuffleQuestions, q.ShowResults, q.IsPublished, questionsJSON, bankJSON,
		q.CreatedAt.Unix(), q.UpdatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert quiz: %w", err)
	}
	return q, nil
}

func (s *Service) UpdateQuiz(ctx context.Context, ownerID, id string, in QuizInput) (*Quiz, error) {
	current, err := s.GetQuiz(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(current.Questions))
	for _, item := range current.Questions {
		existing[item.ID] = true
	}
	q, err := s.buildQuiz(ctx, ownerID, in, existing)
	if err != nil {
		return nil, err
	}
	q.ID = current.ID
	q.OwnerID = ownerID
	q.CreatedAt = current.CreatedAt
	q.UpdatedAt = s.now().UTC().Truncate(time.Second)

	questionsJSON, bankJSON, err := encodeQuizBody(q)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE quizzes
		SET title = $1, description = $2, locale = $3, time_limit_minutes = $4,
			shuffle_questions = $5, show_results = $6, is_published = $7,
			questions_json = $8, bank_json = $9, updated_at = $10
		WHERE id = $11 AND owner_id = $12
	`, q.Title, q.Description, q.Locale, q.TimeLimitMinutes,
		q.ShuffleQuestions, q.ShowResults, q.IsPublished,
		questionsJSON, bankJSON, q.UpdatedAt.Unix(), q.ID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("update quiz: %w", err)
	}
	return q, nil
}

func (s *Service) DeleteQuiz(ctx context.Context, ownerID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete quiz tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE quiz_id = $1 AND owner_id = $2`, id, ownerID); err != nil {
		return fmt.Errorf("delete quiz submissions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM quizzes WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuizNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete quiz: %w", err)
	}
	return nil
}

func (s *Service) GetQuiz(ctx context.Context, ownerID, id string) (*Quiz, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1 AND owner_id = $2`, id, ownerID)
	return scanQuizRow(row)
}

func (s *Service) ListQuizzes(ctx context.Context, ownerID string) ([]Quiz, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE owner_id = $1 ORDER BY updated_at DESC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query quizzes: %w", err)
	}
	defer rows.Close()

	out := make([]Quiz, 0)
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quizzes: %w", err)
	}
	return out, nil
}

// PreviewSupply reports which bank rules the current bank cannot fill.
func (s *Service) PreviewSupply(ctx context.Context, ownerID, quizID string) ([]selection.Shortfall, error) {
	q, err := s.GetQuiz(ctx, ownerID, quizID)
	if err != nil {
		return nil, err
	}
	if !q.Bank.Enabled {
		return []selection.Shortfall{}, nil
	}
	bank, err := s.bank.ListBank(ctx, ownerID, question.BankFilter{})
	if err != nil {
		return nil, fmt.Errorf("load bank: %w", err)
	}
	out := selection.CheckSupply(bank, q.Bank.selectionConfig())
	if out == nil {
		out = []selection.Shortfall{}
	}
	return out, nil
}

func (s *Service) buildQuiz(ctx context.Context, ownerID string, in QuizInput, existing map[string]bool) (*Quiz, error) {
	q := &Quiz{
		Title:            strings.TrimSpace(in.Title),
		Description:      strings.TrimSpace(in.Description),
		Locale:           strings.TrimSpace(in.Locale),
		TimeLimitMinutes: in.TimeLimitMinutes,
		ShuffleQuestions: in.ShuffleQuestions,
		ShowResults:      true,
		IsPublished:      in.IsPublished,
		Questions:        make([]question.Question, 0, len(in.Questions)),
		Bank:             normalizeBank(in.Bank),
	}
	if in.ShowResults != nil {
		q.ShowResults = *in.ShowResults
	}
	if q.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if q.TimeLimitMinutes < 0 {
		return nil, fmt.Errorf("%w: time_limit_minutes must be >= 0", ErrInvalidInput)
	}

	used := map[string]bool{}
	for i, qi := range in.Questions {
		item, err := question.Validate(qi.QuestionInput)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, errors.Join(ErrInvalidInput, err))
		}
		item.ID = strings.TrimSpace(qi.ID)
		if !existing[item.ID] || used[item.ID] {
			item.ID = uuid.NewString()
		}
		used[item.ID] = true
		q.Questions = append(q.Questions, *item)
	}
	if len(in.QuestionIDs) > 0 {
		found, err := s.bank.GetByIDs(ctx, ownerID, in.QuestionIDs)
		if err != nil {
			return nil, fmt.Errorf("load bank questions: %w", err)
		}
		for _, id := range in.QuestionIDs {
			bq, ok := found[id]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrBankQuestionsNotFound, id)
			}
			bq.OwnerID = ""
			q.Questions = append(q.Questions, bq)
		}
	}

	seen := map[string]bool{}
	for i, r := range q.Bank.Distribution {
		key := selection.RuleKey(r)
		if seen[key] {
			return nil, fmt.Errorf("%w: distribution rule %d repeats section %s", ErrInvalidInput, i+1, strings.TrimSpace(r.SectionID))
		}
		seen[key] = true
		if r.Count < 0 {
			return nil, fmt.Errorf("%w: distribution rule %d has a negative count", ErrInvalidInput, i+1)
		}
		if strings.TrimSpace(r.SectionID) == "" {
			return nil, fmt.Errorf("%w: distribution rule %d needs a section_id", ErrInvalidInput, i+1)
		}
	}
	if q.Bank.Enabled && q.Bank.StrictSupply {
		bank, err := s.bank.ListBank(ctx, ownerID, question.BankFilter{})
		if err != nil {
			return nil, fmt.Errorf("load bank: %w", err)
		}
		if short := selection.CheckSupply(bank, q.Bank.selectionConfig()); len(short) > 0 {
			return nil, &SupplyError{Shortfalls: short}
		}
	}
	return q, nil
}

func normalizeBank(b BankConfig) BankConfig {
	out := b
	out.SectionIDs = make([]string, 0, len(b.SectionIDs))
	for _, id := range b.SectionIDs {
		if id = strings.TrimSpace(id); id != "" {
			out.SectionIDs = append(out.SectionIDs, id)
		}
	}
	out.Distribution = make([]selection.Rule, 0, len(b.Distribution))
	for _, r := range b.Distribution {
		r.SectionID = strings.TrimSpace(r.SectionID)
		r.Difficulty = strings.TrimSpace(r.Difficulty)
		out.Distribution = append(out.Distribution, r)
	}
	out.Difficulty = strings.TrimSpace(b.Difficulty)
	if out.QuestionsPerUser < 0 {
		out.QuestionsPerUser = 0
	}
	return out
}

// resolveLocale picks the normalization locale for a quiz: an explicit tag
// wins, then Arabic script in the questions, then the service default.
func (s *Service) resolveLocale(tag string, questions []question.Question) *grading.Locale {
	if strings.TrimSpace(tag) != "" {
		return grading.LocaleFor(tag)
	}
	samples := make([]string, 0, len(questions)*2)
	for _, q := range questions {
		samples = append(samples, q.Question)
		samples = append(samples, q.CorrectAnswers...)
	}
	if grading.DetectLocale(samples...) == grading.Arabic {
		return grading.Arabic
	}
	return grading.LocaleFor(s.defaultLocale)
}

const quizColumns = `id, owner_id, title, description, locale, time_limit_minutes, shuffle_questions, show_results, is_published, questions_json, bank_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuizRow(row rowScanner) (*Quiz, error) {
	q, err := scanQuiz(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQuizNotFound
	}
	return q, err
}

func scanQuiz(row rowScanner) (*Quiz, error) {
	var q Quiz
	var questionsJSON, bankJSON string
	var created, updated int64
	if err := row.Scan(&q.ID, &q.OwnerID, &q.Title, &q.Description, &q.Locale, &q.TimeLimitMinutes,
		&q.ShuffleQuestions, &q.ShowResults, &q.IsPublished, &questionsJSON, &bankJSON, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan quiz: %w", err)
	}
	if err := json.Unmarshal([]byte(questionsJSON), &q.Questions); err != nil {
		return nil, fmt.Errorf("decode quiz questions: %w", err)
	}
	if err := json.Unmarshal([]byte(bankJSON), &q.Bank); err != nil {
		return nil, fmt.Errorf("decode quiz bank: %w", err)
	}
	if q.Questions == nil {
		q.Questions = []question.Question{}
	}
	q.CreatedAt = time.Unix(created, 0).UTC()
	q.UpdatedAt = time.Unix(updated, 0).UTC()
	return &q, nil
}

func encodeQuizBody(q *Quiz) (string, string, error) {
	questionsJSON, err := json.Marshal(q.Questions)
	if err != nil {
		return "", "", fmt.Errorf("encode quiz questions: %w", err)
	}
	bankJSON, err := json.Marshal(q.Bank)
	if err != nil {
		return "", "", fmt.Errorf("encode quiz bank: %w", err)
	}
	return string(questionsJSON), string(bankJSON), nil
}
