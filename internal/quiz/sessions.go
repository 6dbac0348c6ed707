package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"quizdesk/internal/events"
	"quizdesk/internal/grading"
	"quizdesk/internal/question"
	"quizdesk/internal/selection"
	"quizdesk/internal/session"
)

// PublicQuiz returns the landing view of a published quiz.
func (s *Service) PublicQuiz(ctx context.Context, quizID string) (*QuizInfo, error) {
	q, err := s.getPublished(ctx, quizID)
	if err != nil {
		return nil, err
	}
	count := len(q.Questions)
	if q.Bank.Enabled {
		bank, err := s.bank.ListBank(ctx, q.OwnerID, question.BankFilter{})
		if err != nil {
			return nil, fmt.Errorf("load bank: %w", err)
		}
		count = selection.ExpectedCount(bank, q.Bank.selectionConfig())
	}
	return &QuizInfo{
		ID:               q.ID,
		Title:            q.Title,
		Description:      q.Description,
		TimeLimitMinutes: q.TimeLimitMinutes,
		QuestionCount:    count,
	}, nil
}

// StartSession assigns a question set to a respondent and opens a session.
func (s *Service) StartSession(ctx context.Context, quizID string, who Respondent) (*SessionView, error) {
	who.Name = strings.TrimSpace(who.Name)
	who.Email = strings.TrimSpace(who.Email)
	if who.Name == "" {
		return nil, fmt.Errorf("%w: respondent name is required", ErrInvalidInput)
	}

	q, err := s.getPublished(ctx, quizID)
	if err != nil {
		return nil, err
	}
	sections, err := s.bank.ListSections(ctx, q.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load sections: %w", err)
	}

	var assigned selection.Result
	if q.Bank.Enabled {
		bank, err := s.bank.ListBank(ctx, q.OwnerID, question.BankFilter{})
		if err != nil {
			return nil, fmt.Errorf("load bank: %w", err)
		}
		cfg := q.Bank.selectionConfig()
		if q.Bank.StrictSupply {
			if short := selection.CheckSupply(bank, cfg); len(short) > 0 {
				return nil, &SupplyError{Shortfalls: short}
			}
		}
		assigned = s.selector.Select(bank, sections, cfg)
	} else {
		fixed := append([]question.Question(nil), q.Questions...)
		if q.ShuffleQuestions {
			s.selector.Order(fixed)
		}
		assigned = selection.Assign(fixed, sections)
	}
	if len(assigned.Questions) == 0 {
		return nil, ErrEmptySelection
	}

	picked := make([]question.Question, 0, len(assigned.Questions))
	for _, aq := range assigned.Questions {
		picked = append(picked, aq.Question)
	}

	now := s.now().UTC().Truncate(time.Second)
	sess := &Session{
		ID:               uuid.NewString(),
		QuizID:           q.ID,
		OwnerID:          q.OwnerID,
		Title:            q.Title,
		Respondent:       who,
		Locale:           s.resolveLocale(q.Locale, picked).Name,
		ShowResults:      q.ShowResults,
		Questions:        assigned.Questions,
		Sections:         assigned.Sections,
		MaxScore:         assigned.MaxScore,
		Answers:          map[string]json.RawMessage{},
		StartedAt:        now,
		TimeLimitMinutes: q.TimeLimitMinutes,
	}
	if q.TimeLimitMinutes > 0 {
		sess.ExpiresAt = now.Add(time.Duration(q.TimeLimitMinutes) * time.Minute)
	}
	if err := s.saveSession(ctx, sess); err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// GetSession reports the state of a session. A session whose deadline and
// grace period have passed is graded on the spot with its saved answers.
func (s *Service) GetSession(ctx context.Context, id string) (*SessionStatus, error) {
	sess, err := s.loadSession(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return s.closedStatus(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if s.pastGrace(sess) {
		res, err := s.finalize(ctx, sess, sess.Answers, StatusExpired)
		if errors.Is(err, ErrSessionClosed) {
			return s.closedStatus(ctx, id)
		}
		if err != nil {
			return nil, err
		}
		return &SessionStatus{Status: StatusExpired, Result: res}, nil
	}
	return &SessionStatus{Status: StatusInProgress, Session: s.view(sess)}, nil
}

// SaveAnswer records one answer against an assigned question.
func (s *Service) SaveAnswer(ctx context.Context, sessionID, questionID string, value json.RawMessage) (*SessionView, error) {
	sess, err := s.openSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.expired(s.now()) {
		return nil, ErrSessionClosed
	}
	if !sess.hasQuestion(questionID) {
		return nil, ErrQuestionNotInSession
	}
	if len(value) == 0 || string(value) == "null" {
		delete(sess.Answers, questionID)
	} else {
		sess.Answers[questionID] = append(json.RawMessage(nil), value...)
	}
	if err := s.saveSession(ctx, sess); err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// Submit grades the session. Answers passed here override saved ones for
// the same question. After the deadline and grace period only saved
// answers count and the submission is marked expired.
func (s *Service) Submit(ctx context.Context, sessionID string, answers map[string]json.RawMessage) (*SubmitResult, error) {
	sess, err := s.openSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	status := StatusCompleted
	merged := make(map[string]json.RawMessage, len(sess.Answers)+len(answers))
	for k, v := range sess.Answers {
		merged[k] = v
	}
	if s.pastGrace(sess) {
		status = StatusExpired
	} else {
		for k, v := range answers {
			if sess.hasQuestion(k) {
				merged[k] = v
			}
		}
	}
	return s.finalize(ctx, sess, merged, status)
}

func (s *Service) finalize(ctx context.Context, sess *Session, answers map[string]json.RawMessage, status string) (*SubmitResult, error) {
	res := grading.GradeSet(grading.LocaleFor(sess.Locale), sessionItems(sess.Questions), answers)

	now := s.now().UTC().Truncate(time.Second)
	elapsed := int(now.Sub(sess.StartedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if limit := sess.TimeLimitMinutes * 60; limit > 0 && elapsed > limit {
		elapsed = limit
	}

	sub := &Submission{
		ID:                sess.ID,
		QuizID:            sess.QuizID,
		OwnerID:           sess.OwnerID,
		Respondent:        sess.Respondent,
		Status:            status,
		Locale:            sess.Locale,
		AssignedQuestions: sess.Questions,
		Answers:           res.Answers,
		Score:             res.Score,
		MaxScore:          res.MaxScore,
		CompletionSeconds: elapsed,
		StartedAt:         sess.StartedAt,
		CompletedAt:       now,
	}
	if err := s.insertSubmission(ctx, sub); err != nil {
		return nil, err
	}
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		log.Printf("quiz: drop session %s: %v", sess.ID, err)
	}
	s.publish(ctx, events.TypeSubmissionCreated, sub)

	out := &SubmitResult{
		SubmissionID:      sub.ID,
		Status:            status,
		Score:             res.Score,
		MaxScore:          res.MaxScore,
		Percentage:        percentage(res.Score, res.MaxScore),
		Correct:           res.Correct,
		Wrong:             res.Wrong,
		Unanswered:        res.Unanswered,
		CompletionSeconds: elapsed,
	}
	if sess.ShowResults {
		out.Answers = res.Answers
	}
	return out, nil
}

func (s *Service) insertSubmission(ctx context.Context, sub *Submission) error {
	if exists, err := s.submissionExists(ctx, sub.ID); err != nil {
		return err
	} else if exists {
		return ErrSessionClosed
	}

	assignedJSON, err := json.Marshal(sub.AssignedQuestions)
	if err != nil {
		return fmt.Errorf("encode assigned questions: %w", err)
	}
	answersJSON, err := json.Marshal(sub.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (
			id, quiz_id, owner_id, respondent_name, respondent_email, status, locale,
			assigned_json, answers_json, score, max_score, completion_seconds,
			started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, sub.ID, sub.QuizID, sub.OwnerID, sub.Respondent.Name, sub.Respondent.Email, sub.Status, sub.Locale,
		string(assignedJSON), string(answersJSON), sub.Score, sub.MaxScore, sub.CompletionSeconds,
		sub.StartedAt.Unix(), sub.CompletedAt.Unix())
	if err != nil {
		if exists, _ := s.submissionExists(ctx, sub.ID); exists {
			return ErrSessionClosed
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *Service) submissionExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM submissions WHERE id = $1`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check submission: %w", err)
	}
	return n > 0, nil
}

// closedStatus describes a session that is no longer in the store.
func (s *Service) closedStatus(ctx context.Context, id string) (*SessionStatus, error) {
	sub, err := s.getSubmission(ctx, `id = $1`, id)
	if errors.Is(err, ErrSubmissionNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	res := &SubmitResult{
		SubmissionID:      sub.ID,
		Status:            sub.Status,
		Score:             sub.Score,
		MaxScore:          sub.MaxScore,
		Percentage:        percentage(sub.Score, sub.MaxScore),
		CompletionSeconds: sub.CompletionSeconds,
	}
	for _, a := range sub.Answers {
		switch {
		case a.IsCorrect:
			res.Correct++
		case a.Reason == grading.ReasonUnanswered:
			res.Unanswered++
		case a.Reason != grading.ReasonQuestionUnavailable:
			res.Wrong++
		}
	}
	if q, err := s.getQuizByID(ctx, sub.QuizID); err == nil && q.ShowResults {
		res.Answers = sub.Answers
	}
	return &SessionStatus{Status: sub.Status, Result: res}, nil
}

// openSession loads a session that can still accept writes.
func (s *Service) openSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.loadSession(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		if exists, xerr := s.submissionExists(ctx, id); xerr == nil && exists {
			return nil, ErrSessionClosed
		}
	}
	return sess, err
}

func (s *Service) loadSession(ctx context.Context, id string) (*Session, error) {
	raw, err := s.sessions.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Answers == nil {
		sess.Answers = map[string]json.RawMessage{}
	}
	return &sess, nil
}

func (s *Service) saveSession(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := s.retention
	if !sess.ExpiresAt.IsZero() {
		ttl = sess.ExpiresAt.Add(s.grace + s.retention).Sub(s.now())
	}
	if err := s.sessions.Put(ctx, sess.ID, raw, ttl); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *Service) pastGrace(sess *Session) bool {
	if sess.ExpiresAt.IsZero() {
		return false
	}
	return s.now().After(sess.ExpiresAt.Add(s.grace))
}

func (s *Service) view(sess *Session) *SessionView {
	v := &SessionView{
		ID:         sess.ID,
		QuizID:     sess.QuizID,
		Title:      sess.Title,
		Respondent: sess.Respondent,
		Questions:  make([]PublicQuestion, 0, len(sess.Questions)),
		Sections:   sess.Sections,
		MaxScore:   sess.MaxScore,
		Answers:    sess.Answers,
		StartedAt:  sess.StartedAt,
	}
	for _, aq := range sess.Questions {
		opts := append([]string{}, aq.Question.Options...)
		v.Questions = append(v.Questions, PublicQuestion{
			ID:        aq.ID,
			Type:      aq.Question.Type,
			Question:  aq.Question.Question,
			Options:   opts,
			Points:    aq.Question.Points,
			Required:  aq.Question.Required,
			SectionID: aq.Question.SectionID,
		})
	}
	if !sess.ExpiresAt.IsZero() {
		exp := sess.ExpiresAt
		remaining := int64(exp.Sub(s.now()) / time.Second)
		if remaining < 0 {
			remaining = 0
		}
		v.ExpiresAt = &exp
		v.RemainingSeconds = &remaining
	}
	return v
}

func (s *Service) getPublished(ctx context.Context, id string) (*Quiz, error) {
	q, err := s.getQuizByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !q.IsPublished {
		return nil, ErrQuizNotPublished
	}
	return q, nil
}

func (s *Service) getQuizByID(ctx context.Context, id string) (*Quiz, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, id)
	return scanQuizRow(row)
}

func (s *Service) publish(ctx context.Context, kind string, sub *Submission) {
	err := s.events.Publish(ctx, events.Event{
		Type:         kind,
		OwnerID:      sub.OwnerID,
		QuizID:       sub.QuizID,
		SubmissionID: sub.ID,
		Score:        sub.Score,
		MaxScore:     sub.MaxScore,
		OccurredAt:   s.now().UTC(),
	})
	if err != nil {
		log.Printf("quiz: publish %s for %s: %v", kind, sub.ID, err)
	}
}

func (sess *Session) hasQuestion(id string) bool {
	for _, q := range sess.Questions {
		if q.ID == id {
			return true
		}
	}
	return false
}

func sessionItems(assigned []selection.AssignedQuestion) []grading.Item {
	items := make([]grading.Item, 0, len(assigned))
	for i := range assigned {
		q := assigned[i].Question
		items = append(items, grading.Item{
			QuestionID:       assigned[i].ID,
			SourceQuestionID: assigned[i].SourceQuestionID,
			Question:         &q,
		})
	}
	return items
}
