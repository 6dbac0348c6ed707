package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"quizdesk/internal/db"
	"quizdesk/internal/grading"
	"quizdesk/internal/question"
	"quizdesk/internal/selection"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	stmts := []string{
		`INSERT INTO owners (id, email, name, password_hash, created_at) VALUES ('o1', 'o1@example.com', 'O1', 'x', 0)`,
		`INSERT INTO quizzes (id, owner_id, title, description, locale, time_limit_minutes, shuffle_questions, show_results, is_published, questions_json, bank_json, created_at, updated_at)
		 VALUES ('qz1', 'o1', 'Quiz', '', '', 0, false, true, true, '[]', '{}', 0, 0)`,
	}
	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return NewService(conn)
}

func insertSubmission(t *testing.T, svc *Service, id, name, status string, score, max, secs int, answers []grading.EvaluatedAnswer) {
	t.Helper()
	assigned := make([]selection.AssignedQuestion, 0, len(answers))
	for _, a := range answers {
		assigned = append(assigned, selection.AssignedQuestion{
			ID: a.QuestionID, SourceQuestionID: a.SourceQuestionID,
			Question: question.Question{ID: a.SourceQuestionID, Question: "text of " + a.SourceQuestionID},
		})
	}
	assignedJSON, _ := json.Marshal(assigned)
	answersJSON, _ := json.Marshal(answers)
	_, err := svc.db.ExecContext(context.Background(), `
		INSERT INTO submissions (id, quiz_id, owner_id, respondent_name, respondent_email, status, locale,
			assigned_json, answers_json, score, max_score, completion_seconds, started_at, completed_at)
		VALUES ($1, 'qz1', 'o1', $2, '', $3, '', $4, $5, $6, $7, $8, 0, $9)
	`, id, name, status, string(assignedJSON), string(answersJSON), score, max, secs, int64(len(id))*100)
	if err != nil {
		t.Fatalf("insert submission: %v", err)
	}
}

func TestSummaryByQuiz(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	empty, err := svc.SummaryByQuiz(ctx, "o1", "qz1")
	if err != nil || empty.Participants != 0 || len(empty.Questions) != 0 {
		t.Fatalf("empty summary: %+v %v", empty, err)
	}

	insertSubmission(t, svc, "s1", "Ana", "completed", 3, 4, 60, []grading.EvaluatedAnswer{
		{QuestionID: "a1", SourceQuestionID: "q1", IsCorrect: true, Earned: 1, Reason: grading.ReasonCorrect},
		{QuestionID: "a2", SourceQuestionID: "q2", IsCorrect: true, Earned: 2, Reason: grading.ReasonCorrect},
	})
	insertSubmission(t, svc, "s22", "Ben", "expired", 1, 4, 120, []grading.EvaluatedAnswer{
		{QuestionID: "b1", SourceQuestionID: "q1", IsCorrect: true, Earned: 1, Reason: grading.ReasonCorrect},
		{QuestionID: "b2", SourceQuestionID: "q2", Reason: grading.ReasonUnanswered},
		{QuestionID: "b3", SourceQuestionID: "q3", Reason: grading.ReasonQuestionUnavailable},
	})

	sum, err := svc.SummaryByQuiz(ctx, "o1", "qz1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Participants != 2 || sum.Completed != 1 || sum.Expired != 1 {
		t.Fatalf("unexpected counts: %+v", sum)
	}
	if sum.AverageScore != 2 || sum.HighestScore != 3 || sum.LowestScore != 1 {
		t.Fatalf("unexpected scores: %+v", sum)
	}
	if sum.AveragePercentage != 50 || sum.AverageCompletionSeconds != 90 {
		t.Fatalf("unexpected averages: %+v", sum)
	}
	if len(sum.Questions) != 2 {
		t.Fatalf("unavailable answers are not aggregated, got %+v", sum.Questions)
	}
	first := sum.Questions[0]
	if first.SourceQuestionID != "q2" || first.Attempts != 2 || first.Correct != 1 || first.Unanswered != 1 || first.CorrectRate != 50 {
		t.Fatalf("unexpected hardest question: %+v", first)
	}
	if sum.Questions[1].CorrectRate != 100 || sum.Questions[1].Question != "text of q1" {
		t.Fatalf("unexpected second question: %+v", sum.Questions[1])
	}

	if _, err := svc.SummaryByQuiz(ctx, "o2", "qz1"); !errors.Is(err, ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

func TestExportXLSX(t *testing.T) {
	svc := newTestService(t)
	insertSubmission(t, svc, "s1", "Ana", "completed", 3, 4, 60, nil)

	b, err := svc.ExportXLSX(context.Background(), "o1", "qz1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows("Results")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "respondent" || rows[1][0] != "Ana" || rows[1][5] != "75" {
		t.Fatalf("unexpected export rows: %v", rows)
	}
}
