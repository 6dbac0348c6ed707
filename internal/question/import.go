package question

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportReport struct {
	TotalRows       int              `json:"total_rows"`
	SuccessRows     int              `json:"success_rows"`
	FailedRows      int              `json:"failed_rows"`
	CreatedSections []string         `json:"created_sections"`
	Errors          []ImportRowError `json:"errors"`
}

// ImportXLSX reads bank questions from the first sheet of a workbook.
// Options and correct answers are separated by "|". Sections are matched by
// name and created when missing.
func (s *Service) ImportXLSX(ctx context.Context, ownerID string, r io.Reader) (*ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open excel: %v", ErrInvalidInput, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: excel sheet is empty", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"type", "question"} {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, col)
		}
	}

	existing, err := s.ListSections(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	sectionByName := make(map[string]string, len(existing))
	for _, sec := range existing {
		sectionByName[strings.ToLower(sec.Name)] = sec.ID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	report := &ImportReport{CreatedSections: []string{}, Errors: make([]ImportRowError, 0)}
	now := s.now().UTC().Truncate(time.Second)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if get("type") == "" && get("question") == "" {
			continue
		}
		report.TotalRows++
		fail := func(msg string) {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: i + 1, Error: msg})
		}

		in := QuestionInput{
			Type:           get("type"),
			Question:       get("question"),
			Options:        splitCell(get("options")),
			CorrectAnswers: splitCell(get("correct_answers")),
			Explanation:    get("explanation"),
			Required:       parseBoolCell(get("required")),
			Difficulty:     get("difficulty"),
		}
		if p := get("points"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				fail("points must be an integer")
				continue
			}
			in.Points = &n
		}

		q, err := Validate(in)
		if err != nil {
			fail(strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": "))
			continue
		}

		if name := get("section"); name != "" && !strings.EqualFold(name, UncategorizedSection) {
			id, ok := sectionByName[strings.ToLower(name)]
			if !ok {
				id = uuid.NewString()
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO sections (id, owner_id, name, color, created_at)
					VALUES ($1, $2, $3, '', $4)
				`, id, ownerID, name, now.Unix()); err != nil {
					return nil, fmt.Errorf("insert section: %w", err)
				}
				sectionByName[strings.ToLower(name)] = id
				report.CreatedSections = append(report.CreatedSections, name)
			}
			q.SectionID = id
		}

		q.ID = uuid.NewString()
		q.OwnerID = ownerID
		q.CreatedAt = now
		q.UpdatedAt = now
		if err := insertQuestion(ctx, tx, q); err != nil {
			return nil, err
		}
		report.SuccessRows++
	}
	if report.TotalRows == 0 {
		return nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	return report, nil
}

// ImportTemplate returns an empty workbook with the import header row.
func ImportTemplate() ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	headers := []string{"type", "question", "options", "correct_answers", "points", "section", "difficulty", "explanation", "required"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	example := []interface{}{TypeMultipleChoice, "Capital of France?", "Paris|Rome|Berlin", "Paris", 2, "Geography", "easy", "", "true"}
	for i, v := range example {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheet, cell, v)
	}
	_ = f.SetColWidth(sheet, "A", "I", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write template: %w", err)
	}
	return buf.Bytes(), nil
}

func splitCell(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return trimAll(strings.Split(v, "|"))
}

func parseBoolCell(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
