package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuestionNotFound = errors.New("question not found")
	ErrSectionNotFound  = errors.New("section not found")
)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

type SectionInput struct {
	Name  string
	Color string
}

type QuestionInput struct {
	Type           string   `json:"type"`
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	CorrectAnswers []string `json:"correct_answers"`
	Points         *int     `json:"points"`
	Explanation    string   `json:"explanation"`
	Required       bool     `json:"required"`
	SectionID      string   `json:"section_id"`
	Difficulty     string   `json:"difficulty"`
}

// BankFilter narrows ListBank. SectionID accepts UncategorizedSection.
type BankFilter struct {
	SectionID  string
	Difficulty string
	Type       string
	Query      string
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

func (s *Service) CreateSection(ctx context.Context, ownerID string, in SectionInput) (*Section, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: section name is required", ErrInvalidInput)
	}
	sec := &Section{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Color:     strings.TrimSpace(in.Color),
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sections (id, owner_id, name, color, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sec.ID, sec.OwnerID, sec.Name, sec.Color, sec.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert section: %w", err)
	}
	return sec, nil
}

func (s *Service) ListSections(ctx context.Context, ownerID string) ([]Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, color, created_at
		FROM sections
		WHERE owner_id = $1
		ORDER BY name ASC, id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	out := make([]Section, 0)
	for rows.Next() {
		var sec Section
		var created int64
		if err := rows.Scan(&sec.ID, &sec.OwnerID, &sec.Name, &sec.Color, &created); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sec.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return out, nil
}

func (s *Service) UpdateSection(ctx context.Context, ownerID, id string, in SectionInput) (*Section, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: section name is required", ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sections SET name = $1, color = $2
		WHERE id = $3 AND owner_id = $4
	`, name, strings.TrimSpace(in.Color), id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("update section: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrSectionNotFound
	}
	return s.getSection(ctx, ownerID, id)
}

// DeleteSection removes a section. Its questions stay in the bank as
// uncategorized.
func (s *Service) DeleteSection(ctx context.Context, ownerID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete section tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete section: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSectionNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE bank_questions SET section_id = '', updated_at = $1
		WHERE owner_id = $2 AND section_id = $3
	`, s.now().Unix(), ownerID, id); err != nil {
		return fmt.Errorf("detach section questions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete section: %w", err)
	}
	return nil
}

func (s *Service) getSection(ctx context.Context, ownerID, id string) (*Section, error) {
	var sec Section
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, color, created_at
		FROM sections
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID).Scan(&sec.ID, &sec.OwnerID, &sec.Name, &sec.Color, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSectionNotFound
		}
		return nil, fmt.Errorf("query section: %w", err)
	}
	sec.CreatedAt = time.Unix(created, 0).UTC()
	return &sec, nil
}

func (s *Service) CreateQuestion(ctx context.Context, ownerID string, in QuestionInput) (*Question, error) {
	q, err := s.buildQuestion(ctx, ownerID, in)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC().Truncate(time.Second)
	q.ID = uuid.NewString()
	q.OwnerID = ownerID
	q.CreatedAt = now
	q.UpdatedAt = now

	if err := insertQuestion(ctx, s.db, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Service) UpdateQuestion(ctx context.Context, ownerID, id string, in QuestionInput) (*Question, error) {
	current, err := s.GetQuestion(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	q, err := s.buildQuestion(ctx, ownerID, in)
	if err != nil {
		return nil, err
	}
	q.ID = current.ID
	q.OwnerID = ownerID
	q.CreatedAt = current.CreatedAt
	q.UpdatedAt = s.now().UTC().Truncate(time.Second)

	optionsJSON, _ := json.Marshal(q.Options)
	correctJSON, _ := json.Marshal(q.CorrectAnswers)
	_, err = s.db.ExecContext(ctx, `
		UPDATE bank_questions
		SET section_id = $1, type = $2, question = $3, options_json = $4, correct_json = $5,
			points = $6, explanation = $7, required = $8, difficulty = $9, updated_at = $10
		WHERE id = $11 AND owner_id = $12
	`, q.SectionID, q.Type, q.Question, string(optionsJSON), string(correctJSON),
		q.Points, q.Explanation, q.Required, q.Difficulty, q.UpdatedAt.Unix(), q.ID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	return q, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bank_questions WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

func (s *Service) GetQuestion(ctx context.Context, ownerID, id string) (*Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM bank_questions WHERE id = $1 AND owner_id = $2`, id, ownerID)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	return q, nil
}

func (s *Service) ListBank(ctx context.Context, ownerID string, f BankFilter) ([]Question, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + questionColumns + ` FROM bank_questions WHERE owner_id = $1`)
	args := []interface{}{ownerID}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		fmt.Fprintf(&b, " AND "+clause, len(args))
	}

	switch sec := strings.TrimSpace(f.SectionID); sec {
	case "":
	case UncategorizedSection:
		b.WriteString(` AND section_id = ''`)
	default:
		add("section_id = $%d", sec)
	}
	if d := strings.TrimSpace(f.Difficulty); d != "" && !strings.EqualFold(d, "all") {
		add("LOWER(difficulty) = $%d", strings.ToLower(d))
	}
	if t := strings.TrimSpace(f.Type); t != "" {
		add("type = $%d", NormalizeType(t))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		add("LOWER(question) LIKE $%d", "%"+strings.ToLower(q)+"%")
	}
	b.WriteString(` ORDER BY created_at ASC, id ASC`)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query bank: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bank: %w", err)
	}
	return out, nil
}

// GetByIDs returns the owner's bank questions keyed by id. Unknown ids are
// absent from the map.
func (s *Service) GetByIDs(ctx context.Context, ownerID string, ids []string) (map[string]Question, error) {
	out := make(map[string]Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := []interface{}{ownerID}
	holders := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		args = append(args, id)
		holders = append(holders, fmt.Sprintf("$%d", len(args)))
	}
	if len(holders) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+questionColumns+` FROM bank_questions WHERE owner_id = $1 AND id IN (`+strings.Join(holders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query questions by id: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out[q.ID] = *q
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions by id: %w", err)
	}
	return out, nil
}

func (s *Service) buildQuestion(ctx context.Context, ownerID string, in QuestionInput) (*Question, error) {
	q, err := Validate(in)
	if err != nil {
		return nil, err
	}
	if q.SectionID != "" {
		if _, err := s.getSection(ctx, ownerID, q.SectionID); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Validate normalizes a question definition and checks its answer key
// against its type.
func Validate(in QuestionInput) (*Question, error) {
	q := &Question{
		Type:           NormalizeType(in.Type),
		Question:       strings.TrimSpace(in.Question),
		Options:        trimAll(in.Options),
		CorrectAnswers: trimAll(in.CorrectAnswers),
		Points:         1,
		Explanation:    strings.TrimSpace(in.Explanation),
		Required:       in.Required,
		SectionID:      strings.TrimSpace(in.SectionID),
		Difficulty:     strings.ToLower(strings.TrimSpace(in.Difficulty)),
	}
	if q.SectionID == UncategorizedSection {
		q.SectionID = ""
	}
	if in.Points != nil {
		q.Points = *in.Points
	}

	if !knownType(q.Type) {
		return nil, fmt.Errorf("%w: unknown question type %q", ErrInvalidInput, in.Type)
	}
	if q.Question == "" {
		return nil, fmt.Errorf("%w: question text is required", ErrInvalidInput)
	}
	if q.Points < 0 {
		return nil, fmt.Errorf("%w: points must be >= 0", ErrInvalidInput)
	}

	switch q.Type {
	case TypeMultipleChoice, TypeCheckbox:
		if len(q.Options) < 2 {
			return nil, fmt.Errorf("%w: at least two options are required", ErrInvalidInput)
		}
		if hasDuplicates(q.Options) {
			return nil, fmt.Errorf("%w: options must be unique", ErrInvalidInput)
		}
		for _, c := range q.CorrectAnswers {
			if !contains(q.Options, c) {
				return nil, fmt.Errorf("%w: correct answer %q is not an option", ErrInvalidInput, c)
			}
		}
		if q.Type == TypeMultipleChoice && len(q.CorrectAnswers) != 1 {
			return nil, fmt.Errorf("%w: multiple_choice needs exactly one correct answer", ErrInvalidInput)
		}
		if q.Type == TypeCheckbox && len(q.CorrectAnswers) == 0 {
			return nil, fmt.Errorf("%w: checkbox needs at least one correct answer", ErrInvalidInput)
		}
	case TypeTrueFalse:
		if len(q.Options) == 0 {
			q.Options = []string{"True", "False"}
		}
		if len(q.CorrectAnswers) != 1 {
			return nil, fmt.Errorf("%w: true_false needs exactly one correct answer", ErrInvalidInput)
		}
	case TypeText, TypeFillBlank:
		q.Options = []string{}
	}
	return q, nil
}

const questionColumns = `id, owner_id, section_id, type, question, options_json, correct_json, points, explanation, required, difficulty, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuestion(row rowScanner) (*Question, error) {
	var q Question
	var optionsJSON, correctJSON string
	var created, updated int64
	if err := row.Scan(&q.ID, &q.OwnerID, &q.SectionID, &q.Type, &q.Question, &optionsJSON, &correctJSON,
		&q.Points, &q.Explanation, &q.Required, &q.Difficulty, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan question: %w", err)
	}
	if err := json.Unmarshal([]byte(optionsJSON), &q.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal([]byte(correctJSON), &q.CorrectAnswers); err != nil {
		return nil, fmt.Errorf("decode correct answers: %w", err)
	}
	if q.Options == nil {
		q.Options = []string{}
	}
	if q.CorrectAnswers == nil {
		q.CorrectAnswers = []string{}
	}
	q.CreatedAt = time.Unix(created, 0).UTC()
	q.UpdatedAt = time.Unix(updated, 0).UTC()
	return &q, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertQuestion(ctx context.Context, db execer, q *Question) error {
	optionsJSON, _ := json.Marshal(q.Options)
	correctJSON, _ := json.Marshal(q.CorrectAnswers)
	_, err := db.ExecContext(ctx, `
		INSERT INTO bank_questions (
			id, owner_id, section_id, type, question, options_json, correct_json,
			points, explanation, required, difficulty, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, q.ID, q.OwnerID, q.SectionID, q.Type, q.Question, string(optionsJSON), string(correctJSON),
		q.Points, q.Explanation, q.Required, q.Difficulty, q.CreatedAt.Unix(), q.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, it := range list {
		if it == v {
			return true
		}
	}
	return false
}

func hasDuplicates(list []string) bool {
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		if seen[v] {
			return true
		}
		seen[v] = true
	}
	return false
}
