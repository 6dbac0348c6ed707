package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"quizdesk/internal/grading"
	"quizdesk/internal/selection"
)

var ErrQuizNotFound = errors.New("quiz not found")

type Service struct {
	db *sql.DB
}

// QuestionStat aggregates answers by bank question, so every respondent
// who drew the same source question lands in the same bucket.
type QuestionStat struct {
	SourceQuestionID string  `json:"source_question_id"`
	Question         string  `json:"question"`
	Attempts         int     `json:"attempts"`
	Correct          int     `json:"correct"`
	Unanswered       int     `json:"unanswered"`
	CorrectRate      float64 `json:"correct_rate"`
}

type QuizSummary struct {
	QuizID                   string         `json:"quiz_id"`
	Participants             int            `json:"participants"`
	Completed                int            `json:"completed"`
	Expired                  int            `json:"expired"`
	AverageScore             float64        `json:"average_score"`
	HighestScore             int            `json:"highest_score"`
	LowestScore              int            `json:"lowest_score"`
	AveragePercentage        float64        `json:"average_percentage"`
	AverageCompletionSeconds float64        `json:"average_completion_seconds"`
	Questions                []QuestionStat `json:"questions"`
}

type submissionRow struct {
	Name              string
	Email             string
	Status            string
	Score             int
	MaxScore          int
	CompletionSeconds int
	CompletedAt       time.Time
	Assigned          []selection.AssignedQuestion
	Answers           []grading.EvaluatedAnswer
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) SummaryByQuiz(ctx context.Context, ownerID, quizID string) (*QuizSummary, error) {
	rows, err := s.load(ctx, ownerID, quizID)
	if err != nil {
		return nil, err
	}

	out := &QuizSummary{QuizID: quizID, Participants: len(rows), Questions: []QuestionStat{}}
	if len(rows) == 0 {
		return out, nil
	}

	var scoreSum, pctSum, secSum float64
	out.LowestScore = rows[0].Score
	stats := map[string]*QuestionStat{}
	for _, row := range rows {
		switch row.Status {
		case "completed":
			out.Completed++
		case "expired":
			out.Expired++
		}
		scoreSum += float64(row.Score)
		pctSum += percent(row.Score, row.MaxScore)
		secSum += float64(row.CompletionSeconds)
		if row.Score > out.HighestScore {
			out.HighestScore = row.Score
		}
		if row.Score < out.LowestScore {
			out.LowestScore = row.Score
		}

		text := make(map[string]string, len(row.Assigned))
		for _, aq := range row.Assigned {
			text[aq.ID] = aq.Question.Question
		}
		for _, a := range row.Answers {
			if a.Reason == grading.ReasonQuestionUnavailable {
				continue
			}
			key := a.SourceQuestionID
			if key == "" {
				key = a.QuestionID
			}
			st, ok := stats[key]
			if !ok {
				st = &QuestionStat{SourceQuestionID: key, Question: text[a.QuestionID]}
				stats[key] = st
			}
			st.Attempts++
			if a.IsCorrect {
				st.Correct++
			}
			if a.Reason == grading.ReasonUnanswered {
				st.Unanswered++
			}
		}
	}

	n := float64(len(rows))
	out.AverageScore = round2(scoreSum / n)
	out.AveragePercentage = round2(pctSum / n)
	out.AverageCompletionSeconds = round2(secSum / n)
	for _, st := range stats {
		st.CorrectRate = percent(st.Correct, st.Attempts)
		out.Questions = append(out.Questions, *st)
	}
	sort.Slice(out.Questions, func(i, j int) bool {
		if out.Questions[i].CorrectRate != out.Questions[j].CorrectRate {
			return out.Questions[i].CorrectRate < out.Questions[j].CorrectRate
		}
		return out.Questions[i].SourceQuestionID < out.Questions[j].SourceQuestionID
	})
	return out, nil
}

// ExportXLSX writes one row per submission.
func (s *Service) ExportXLSX(ctx context.Context, ownerID, quizID string) ([]byte, error) {
	rows, err := s.load(ctx, ownerID, quizID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := "Results"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	headers := []interface{}{"respondent", "email", "status", "score", "max_score", "percentage", "completion_seconds", "completed_at"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []interface{}{
			row.Name, row.Email, row.Status, row.Score, row.MaxScore,
			percent(row.Score, row.MaxScore), row.CompletionSeconds,
			row.CompletedAt.Format(time.RFC3339),
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(sheet, "A", "H", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write export: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) load(ctx context.Context, ownerID, quizID string) ([]submissionRow, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM quizzes WHERE id = $1 AND owner_id = $2`, quizID, ownerID).Scan(&n); err != nil {
		return nil, fmt.Errorf("check quiz: %w", err)
	}
	if n == 0 {
		return nil, ErrQuizNotFound
	}

	rs, err := s.db.QueryContext(ctx, `
		SELECT respondent_name, respondent_email, status, score, max_score,
			completion_seconds, completed_at, assigned_json, answers_json
		FROM submissions
		WHERE quiz_id = $1 AND owner_id = $2
		ORDER BY completed_at ASC, id ASC
	`, quizID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rs.Close()

	out := make([]submissionRow, 0)
	for rs.Next() {
		var row submissionRow
		var completed int64
		var assignedJSON, answersJSON string
		if err := rs.Scan(&row.Name, &row.Email, &row.Status, &row.Score, &row.MaxScore,
			&row.CompletionSeconds, &completed, &assignedJSON, &answersJSON); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if err := json.Unmarshal([]byte(assignedJSON), &row.Assigned); err != nil {
			return nil, fmt.Errorf("decode assigned questions: %w", err)
		}
		if err := json.Unmarshal([]byte(answersJSON), &row.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
		row.CompletedAt = time.Unix(completed, 0).UTC()
		out = append(out, row)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return round2(float64(part) * 100 / float64(whole))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
