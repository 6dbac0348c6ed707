package quiz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"quizdesk/internal/auth"
	"quizdesk/internal/selection"

	"github.com/go-chi/chi/v5"
)

type mockQuizService struct {
	createQuizFn       func(ctx context.Context, ownerID string, in QuizInput) (*Quiz, error)
	updateQuizFn       func(ctx context.Context, ownerID, id string, in QuizInput) (*Quiz, error)
	deleteQuizFn       func(ctx context.Context, ownerID, id string) error
	getQuizFn          func(ctx context.Context, ownerID, id string) (*Quiz, error)
	listQuizzesFn      func(ctx context.Context, ownerID string) ([]Quiz, error)
	previewSupplyFn    func(ctx context.Context, ownerID, quizID string) ([]selection.Shortfall, error)
	publicQuizFn       func(ctx context.Context, quizID string) (*QuizInfo, error)
	startSessionFn     func(ctx context.Context, quizID string, who Respondent) (*SessionView, error)
	getSessionFn       func(ctx context.Context, id string) (*SessionStatus, error)
	saveAnswerFn       func(ctx context.Context, sessionID, questionID string, value json.RawMessage) (*SessionView, error)
	submitFn           func(ctx context.Context, sessionID string, answers map[string]json.RawMessage) (*SubmitResult, error)
	listSubmissionsFn  func(ctx context.Context, ownerID, quizID string) ([]Submission, error)
	getSubmissionFn    func(ctx context.Context, ownerID, id string) (*Submission, error)
	deleteSubmissionFn func(ctx context.Context, ownerID, id string) error
	recorrectFn        func(ctx context.Context, ownerID, submissionID string) (*Submission, error)
	recorrectQuizFn    func(ctx context.Context, ownerID, quizID string) (*RecorrectReport, error)
}

func (m *mockQuizService) CreateQuiz(ctx context.Context, ownerID string, in QuizInput) (*Quiz, error) {
	if m.createQuizFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createQuizFn(ctx, ownerID, in)
}

func (m *mockQuizService) UpdateQuiz(ctx context.Context, ownerID, id string, in QuizInput) (*Quiz, error) {
	if m.updateQuizFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateQuizFn(ctx, ownerID, id, in)
}

func (m *mockQuizService) DeleteQuiz(ctx context.Context, ownerID, id string) error {
	if m.deleteQuizFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteQuizFn(ctx, ownerID, id)
}

func (m *mockQuizService) GetQuiz(ctx context.Context, ownerID, id string) (*Quiz, error) {
	if m.getQuizFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getQuizFn(ctx, ownerID, id)
}

func (m *mockQuizService) ListQuizzes(ctx context.Context, ownerID string) ([]Quiz, error) {
	if m.listQuizzesFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listQuizzesFn(ctx, ownerID)
}

func (m *mockQuizService) PreviewSupply(ctx context.Context, ownerID, quizID string) ([]selection.Shortfall, error) {
	if m.previewSupplyFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.previewSupplyFn(ctx, ownerID, quizID)
}

func (m *mockQuizService) PublicQuiz(ctx context.Context, quizID string) (*QuizInfo, error) {
	if m.publicQuizFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.publicQuizFn(ctx, quizID)
}

func (m *mockQuizService) StartSession(ctx context.Context, quizID string, who Respondent) (*SessionView, error) {
	if m.startSessionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.startSessionFn(ctx, quizID, who)
}

func (m *mockQuizService) GetSession(ctx context.Context, id string) (*SessionStatus, error) {
	if m.getSessionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getSessionFn(ctx, id)
}

func (m *mockQuizService) SaveAnswer(ctx context.Context, sessionID, questionID string, value json.RawMessage) (*SessionView, error) {
	if m.saveAnswerFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.saveAnswerFn(ctx, sessionID, questionID, value)
}

func (m *mockQuizService) Submit(ctx context.Context, sessionID string, answers map[string]json.RawMessage) (*SubmitResult, error) {
	if m.submitFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.submitFn(ctx, sessionID, answers)
}

func (m *mockQuizService) ListSubmissions(ctx context.Context, ownerID, quizID string) ([]Submission, error) {
	if m.listSubmissionsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listSubmissionsFn(ctx, ownerID, quizID)
}

func (m *mockQuizService) GetSubmission(ctx context.Context, ownerID, id string) (*Submission, error) {
	if m.getSubmissionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getSubmissionFn(ctx, ownerID, id)
}

func (m *mockQuizService) DeleteSubmission(ctx context.Context, ownerID, id string) error {
	if m.deleteSubmissionFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteSubmissionFn(ctx, ownerID, id)
}

func (m *mockQuizService) Recorrect(ctx context.Context, ownerID, submissionID string) (*Submission, error) {
	if m.recorrectFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.recorrectFn(ctx, ownerID, submissionID)
}

func (m *mockQuizService) RecorrectQuiz(ctx context.Context, ownerID, quizID string) (*RecorrectReport, error) {
	if m.recorrectQuizFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.recorrectQuizFn(ctx, ownerID, quizID)
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func asOwner(r *http.Request, id string) *http.Request {
	return r.WithContext(auth.ContextWithOwner(r.Context(), &auth.Owner{ID: id}))
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeMap(t, rr)
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestCreateQuizUnauthorized(t *testing.T) {
	h := &Handler{svc: &mockQuizService{}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/quizzes", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	h.CreateQuiz(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateQuizDecodesBankConfig(t *testing.T) {
	h := &Handler{svc: &mockQuizService{
		createQuizFn: func(ctx context.Context, ownerID string, in QuizInput) (*Quiz, error) {
			if ownerID != "o1" || in.Title != "Mid-term" || !in.Bank.Enabled || len(in.Bank.Distribution) != 2 {
				t.Fatalf("unexpected input: %+v", in)
			}
			if in.Bank.Distribution[1].SectionID != "uncategorized" || in.Bank.Distribution[1].Count != 3 {
				t.Fatalf("unexpected rule: %+v", in.Bank.Distribution[1])
			}
			if in.ShowResults == nil || *in.ShowResults || len(in.Questions) != 1 || len(in.Questions[0].CorrectAnswers) != 1 {
				t.Fatalf("unexpected flags or questions: %+v", in)
			}
			return &Quiz{ID: "qz1", Title: in.Title}, nil
		},
	}}
	payload := []byte(`{"title":"Mid-term","show_results":false,
		"questions":[{"type":"true_false","question":"Sky is blue","correct_answers":["True"]}],
		"bank":{"enabled":true,"distribution":[{"section_id":"s1","questions_count":2},{"section_id":"uncategorized","questions_count":3}]}}`)
	req := asOwner(httptest.NewRequest(http.MethodPost, "/api/v1/quizzes", bytes.NewReader(payload)), "o1")
	w := httptest.NewRecorder()

	h.CreateQuiz(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateQuizInsufficientSupply(t *testing.T) {
	h := &Handler{svc: &mockQuizService{
		createQuizFn: func(ctx context.Context, ownerID string, in QuizInput) (*Quiz, error) {
			return nil, &SupplyError{Shortfalls: []selection.Shortfall{{SectionID: "s1", Requested: 5, Available: 2}}}
		},
	}}
	req := asOwner(httptest.NewRequest(http.MethodPost, "/api/v1/quizzes", bytes.NewReader([]byte(`{"title":"x"}`))), "o1")
	w := httptest.NewRecorder()

	h.CreateQuiz(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	body := decodeMap(t, w)
	errObj := body["error"].(map[string]any)
	details, _ := errObj["details"].([]any)
	if errObj["code"] != "insufficient_supply" || len(details) != 1 {
		t.Fatalf("unexpected error payload: %+v", errObj)
	}
}

func TestStartSessionErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "not published", err: ErrQuizNotPublished, status: http.StatusNotFound, code: "not_found"},
		{name: "empty selection", err: ErrEmptySelection, status: http.StatusUnprocessableEntity, code: "empty_selection"},
		{name: "missing name", err: ErrInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "store down", err: errors.New("redis: connection refused"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := &Handler{svc: &mockQuizService{
				startSessionFn: func(ctx context.Context, quizID string, who Respondent) (*SessionView, error) {
					if quizID != "qz1" || who.Name != "Ana" {
						t.Fatalf("unexpected call: %s %+v", quizID, who)
					}
					return nil, tc.err
				},
			}}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/public/quizzes/qz1/sessions", bytes.NewReader([]byte(`{"name":"Ana"}`)))
			req = withParam(req, "id", "qz1")
			w := httptest.NewRecorder()

			h.StartSession(w, req)

			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			if got := errorCode(t, w); got != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, got)
			}
		})
	}
}

func TestSaveAnswerPassesRawValue(t *testing.T) {
	h := &Handler{svc: &mockQuizService{
		saveAnswerFn: func(ctx context.Context, sessionID, questionID string, value json.RawMessage) (*SessionView, error) {
			if sessionID != "ses1" || questionID != "aq1" || string(value) != `["2","3"]` {
				t.Fatalf("unexpected call: %s %s %s", sessionID, questionID, value)
			}
			return &SessionView{ID: sessionID}, nil
		},
	}}
	req := httptest.NewRequest(http.MethodPut, "/api/v1/public/sessions/ses1/answers/aq1", bytes.NewReader([]byte(`{"value":["2","3"]}`)))
	req = withParam(withParam(req, "sessionID", "ses1"), "questionID", "aq1")
	w := httptest.NewRecorder()

	h.SaveAnswer(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestSaveAnswerRequiresQuestionID(t *testing.T) {
	h := &Handler{svc: &mockQuizService{}}
	req := httptest.NewRequest(http.MethodPut, "/api/v1/public/sessions/ses1/answers/", bytes.NewReader([]byte(`{"value":"x"}`)))
	w := httptest.NewRecorder()

	h.SaveAnswer(w, withParam(req, "sessionID", "ses1"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSubmitClosedSession(t *testing.T) {
	h := &Handler{svc: &mockQuizService{
		submitFn: func(ctx context.Context, sessionID string, answers map[string]json.RawMessage) (*SubmitResult, error) {
			if len(answers) != 1 || string(answers["aq1"]) != `"Paris"` {
				t.Fatalf("unexpected answers: %v", answers)
			}
			return nil, ErrSessionClosed
		},
	}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/sessions/ses1/submit", bytes.NewReader([]byte(`{"answers":{"aq1":"Paris"}}`)))
	w := httptest.NewRecorder()

	h.Submit(w, withParam(req, "sessionID", "ses1"))

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if got := errorCode(t, w); got != "session_closed" {
		t.Fatalf("expected session_closed, got %s", got)
	}
}

func TestSubmitWithoutBody(t *testing.T) {
	h := &Handler{svc: &mockQuizService{
		submitFn: func(ctx context.Context, sessionID string, answers map[string]json.RawMessage) (*SubmitResult, error) {
			return &SubmitResult{SubmissionID: sessionID, Status: StatusCompleted, Score: 1, MaxScore: 2, Percentage: 50}, nil
		},
	}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/sessions/ses1/submit", nil)
	w := httptest.NewRecorder()

	h.Submit(w, withParam(req, "sessionID", "ses1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data := decodeMap(t, w)["data"].(map[string]any)
	if data["percentage"] != float64(50) || data["status"] != StatusCompleted {
		t.Fatalf("unexpected data: %+v", data)
	}
}

func TestRecorrectScopesToOwner(t *testing.T) {
	h := &Handler{svc: &mockQuizService{
		recorrectFn: func(ctx context.Context, ownerID, submissionID string) (*Submission, error) {
			if ownerID != "o1" || submissionID != "sub1" {
				t.Fatalf("unexpected call: %s %s", ownerID, submissionID)
			}
			return nil, ErrSubmissionNotFound
		},
	}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/sub1/recorrect", nil)
	req = asOwner(withParam(req, "submissionID", "sub1"), "o1")
	w := httptest.NewRecorder()

	h.Recorrect(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestPreviewSupply(t *testing.T) {
	h := &Handler{svc: &mockQuizService{
		previewSupplyFn: func(ctx context.Context, ownerID, quizID string) ([]selection.Shortfall, error) {
			return []selection.Shortfall{}, nil
		},
	}}
	req := asOwner(withParam(httptest.NewRequest(http.MethodGet, "/api/v1/quizzes/qz1/supply", nil), "id", "qz1"), "o1")
	w := httptest.NewRecorder()

	h.PreviewSupply(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data := decodeMap(t, w)["data"].(map[string]any)
	if data["sufficient"] != true {
		t.Fatalf("expected sufficient=true, got %+v", data)
	}
}
