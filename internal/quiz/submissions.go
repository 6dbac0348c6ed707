package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quizdesk/internal/events"
	"quizdesk/internal/grading"
	"quizdesk/internal/question"
)

const submissionColumns = `id, quiz_id, owner_id, respondent_name, respondent_email, status, locale, assigned_json, answers_json, score, max_score, completion_seconds, started_at, completed_at, recorrected_at`

func (s *Service) ListSubmissions(ctx context.Context, ownerID, quizID string) ([]Submission, error) {
	if _, err := s.GetQuiz(ctx, ownerID, quizID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE quiz_id = $1 AND owner_id = $2
		ORDER BY completed_at DESC, id ASC
	`, quizID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	out := make([]Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

func (s *Service) GetSubmission(ctx context.Context, ownerID, id string) (*Submission, error) {
	return s.getSubmission(ctx, `id = $1 AND owner_id = $2`, id, ownerID)
}

func (s *Service) DeleteSubmission(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

// Recorrect regrades a stored submission against the current definitions
// of the questions it was assigned. The assigned snapshots and raw answers
// are left untouched, so repeated calls converge on the same result.
func (s *Service) Recorrect(ctx context.Context, ownerID, submissionID string) (*Submission, error) {
	sub, err := s.GetSubmission(ctx, ownerID, submissionID)
	if err != nil {
		return nil, err
	}
	q, err := s.GetQuiz(ctx, ownerID, sub.QuizID)
	if err != nil {
		return nil, err
	}
	defs, err := s.currentDefinitions(ctx, q, []Submission{*sub})
	if err != nil {
		return nil, err
	}
	if _, err := s.regrade(ctx, q, sub, defs); err != nil {
		return nil, err
	}
	return sub, nil
}

// RecorrectQuiz regrades every submission of a quiz.
func (s *Service) RecorrectQuiz(ctx context.Context, ownerID, quizID string) (*RecorrectReport, error) {
	q, err := s.GetQuiz(ctx, ownerID, quizID)
	if err != nil {
		return nil, err
	}
	subs, err := s.ListSubmissions(ctx, ownerID, quizID)
	if err != nil {
		return nil, err
	}
	defs, err := s.currentDefinitions(ctx, q, subs)
	if err != nil {
		return nil, err
	}

	report := &RecorrectReport{Total: len(subs)}
	for i := range subs {
		changed, err := s.regrade(ctx, q, &subs[i], defs)
		if err != nil {
			return nil, fmt.Errorf("recorrect %s: %w", subs[i].ID, err)
		}
		if changed {
			report.Changed++
		}
	}
	return report, nil
}

// currentDefinitions maps source question ids to their live definitions,
// looking in the quiz's own list first and the bank second.
func (s *Service) currentDefinitions(ctx context.Context, q *Quiz, subs []Submission) (map[string]question.Question, error) {
	defs := make(map[string]question.Question, len(q.Questions))
	for _, item := range q.Questions {
		defs[item.ID] = item
	}

	var missing []string
	seen := map[string]bool{}
	for _, sub := range subs {
		for _, aq := range sub.AssignedQuestions {
			id := aq.SourceQuestionID
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			if _, ok := defs[id]; !ok {
				missing = append(missing, id)
			}
		}
	}
	if len(missing) == 0 {
		return defs, nil
	}
	found, err := s.bank.GetByIDs(ctx, q.OwnerID, missing)
	if err != nil {
		return nil, fmt.Errorf("load bank questions: %w", err)
	}
	for id, item := range found {
		defs[id] = item
	}
	return defs, nil
}

func (s *Service) regrade(ctx context.Context, q *Quiz, sub *Submission, defs map[string]question.Question) (bool, error) {
	values := make(map[string]json.RawMessage, len(sub.Answers))
	for _, a := range sub.Answers {
		if len(a.Value) > 0 {
			values[a.QuestionID] = a.Value
		}
	}

	items := make([]grading.Item, 0, len(sub.AssignedQuestions))
	for _, aq := range sub.AssignedQuestions {
		it := grading.Item{QuestionID: aq.ID, SourceQuestionID: aq.SourceQuestionID}
		if def, ok := defs[aq.SourceQuestionID]; ok {
			it.Question = &def
		}
		items = append(items, it)
	}

	loc := grading.LocaleFor(sub.Locale)
	if sub.Locale == "" {
		picked := make([]question.Question, 0, len(sub.AssignedQuestions))
		for _, aq := range sub.AssignedQuestions {
			picked = append(picked, aq.Question)
		}
		loc = s.resolveLocale(q.Locale, picked)
	}
	res := grading.GradeSet(loc, items, values)

	changed := res.Score != sub.Score || res.MaxScore != sub.MaxScore || verdictsDiffer(res.Answers, sub.Answers)
	answersJSON, err := json.Marshal(res.Answers)
	if err != nil {
		return false, fmt.Errorf("encode answers: %w", err)
	}
	now := s.now().UTC().Truncate(time.Second)
	_, err = s.db.ExecContext(ctx, `
		UPDATE submissions
		SET answers_json = $1, score = $2, max_score = $3, recorrected_at = $4
		WHERE id = $5 AND owner_id = $6
	`, string(answersJSON), res.Score, res.MaxScore, now.Unix(), sub.ID, sub.OwnerID)
	if err != nil {
		return false, fmt.Errorf("update submission: %w", err)
	}

	sub.Answers = res.Answers
	sub.Score = res.Score
	sub.MaxScore = res.MaxScore
	sub.RecorrectedAt = &now
	s.publish(ctx, events.TypeSubmissionRecorrected, sub)
	return changed, nil
}

func (s *Service) getSubmission(ctx context.Context, where string, args ...interface{}) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE `+where, args...)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubmissionNotFound
	}
	return sub, err
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var sub Submission
	var assignedJSON, answersJSON string
	var started, completed, recorrected int64
	err := row.Scan(&sub.ID, &sub.QuizID, &sub.OwnerID, &sub.Respondent.Name, &sub.Respondent.Email,
		&sub.Status, &sub.Locale, &assignedJSON, &answersJSON, &sub.Score, &sub.MaxScore,
		&sub.CompletionSeconds, &started, &completed, &recorrected)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	if err := json.Unmarshal([]byte(assignedJSON), &sub.AssignedQuestions); err != nil {
		return nil, fmt.Errorf("decode assigned questions: %w", err)
	}
	if err := json.Unmarshal([]byte(answersJSON), &sub.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	sub.StartedAt = time.Unix(started, 0).UTC()
	sub.CompletedAt = time.Unix(completed, 0).UTC()
	if recorrected > 0 {
		t := time.Unix(recorrected, 0).UTC()
		sub.RecorrectedAt = &t
	}
	return &sub, nil
}

func verdictsDiffer(a, b []grading.EvaluatedAnswer) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i].QuestionID != b[i].QuestionID || a[i].IsCorrect != b[i].IsCorrect ||
			a[i].Earned != b[i].Earned || a[i].Reason != b[i].Reason {
			return true
		}
	}
	return false
}
