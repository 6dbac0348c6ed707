package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"quizdesk/internal/app/apiresp"
	"quizdesk/internal/auth"
	"quizdesk/internal/question"
	"quizdesk/internal/selection"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc quizService
}

type quizService interface {
	CreateQuiz(ctx context.Context, ownerID string, in QuizInput) (*Quiz, error)
	UpdateQuiz(ctx context.Context, ownerID, id string, in QuizInput) (*Quiz, error)
	DeleteQuiz(ctx context.Context, ownerID, id string) error
	GetQuiz(ctx context.Context, ownerID, id string) (*Quiz, error)
	ListQuizzes(ctx context.Context, ownerID string) ([]Quiz, error)
	PreviewSupply(ctx context.Context, ownerID, quizID string) ([]selection.Shortfall, error)
	PublicQuiz(ctx context.Context, quizID string) (*QuizInfo, error)
	StartSession(ctx context.Context, quizID string, who Respondent) (*SessionView, error)
	GetSession(ctx context.Context, id string) (*SessionStatus, error)
	SaveAnswer(ctx context.Context, sessionID, questionID string, value json.RawMessage) (*SessionView, error)
	Submit(ctx context.Context, sessionID string, answers map[string]json.RawMessage) (*SubmitResult, error)
	ListSubmissions(ctx context.Context, ownerID, quizID string) ([]Submission, error)
	GetSubmission(ctx context.Context, ownerID, id string) (*Submission, error)
	DeleteSubmission(ctx context.Context, ownerID, id string) error
	Recorrect(ctx context.Context, ownerID, submissionID string) (*Submission, error)
	RecorrectQuiz(ctx context.Context, ownerID, quizID string) (*RecorrectReport, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type quizRequest struct {
	Title            string              `json:"title"`
	Description      string              `json:"description"`
	Locale           string              `json:"locale"`
	TimeLimitMinutes int                 `json:"time_limit_minutes"`
	ShuffleQuestions bool                `json:"shuffle_questions"`
	ShowResults      *bool               `json:"show_results"`
	IsPublished      bool                `json:"is_published"`
	Questions        []QuizQuestionInput `json:"questions"`
	QuestionIDs      []string            `json:"question_ids"`
	Bank             BankConfig          `json:"bank"`
}

func (req quizRequest) input() QuizInput {
	return QuizInput{
		Title:            req.Title,
		Description:      req.Description,
		Locale:           req.Locale,
		TimeLimitMinutes: req.TimeLimitMinutes,
		ShuffleQuestions: req.ShuffleQuestions,
		ShowResults:      req.ShowResults,
		IsPublished:      req.IsPublished,
		Questions:        req.Questions,
		QuestionIDs:      req.QuestionIDs,
		Bank:             req.Bank,
	}
}

type startRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type answerRequest struct {
	Value json.RawMessage `json:"value"`
}

type submitRequest struct {
	Answers map[string]json.RawMessage `json:"answers"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	var req quizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	item, err := h.svc.CreateQuiz(r.Context(), owner.ID, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) UpdateQuiz(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	var req quizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	item, err := h.svc.UpdateQuiz(r.Context(), owner.ID, chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteQuiz(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	if err := h.svc.DeleteQuiz(r.Context(), owner.ID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]bool{"deleted": true}})
}

func (h *Handler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	item, err := h.svc.GetQuiz(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) ListQuizzes(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	items, err := h.svc.ListQuizzes(r.Context(), owner.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) PreviewSupply(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	items, err := h.svc.PreviewSupply(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]interface{}{
		"sufficient": len(items) == 0,
		"shortfalls": items,
	}})
}

func (h *Handler) PublicQuiz(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.PublicQuiz(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	view, err := h.svc.StartSession(r.Context(), chi.URLParam(r, "id"), Respondent{Name: req.Name, Email: req.Email})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: view})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: status})
}

func (h *Handler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	questionID := chi.URLParam(r, "questionID")
	if questionID == "" {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "question id is required"})
		return
	}
	view, err := h.svc.SaveAnswer(r.Context(), chi.URLParam(r, "sessionID"), questionID, req.Value)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: view})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	res, err := h.svc.Submit(r.Context(), chi.URLParam(r, "sessionID"), req.Answers)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: res})
}

func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	items, err := h.svc.ListSubmissions(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	item, err := h.svc.GetSubmission(r.Context(), owner.ID, chi.URLParam(r, "submissionID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteSubmission(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	if err := h.svc.DeleteSubmission(r.Context(), owner.ID, chi.URLParam(r, "submissionID")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]bool{"deleted": true}})
}

func (h *Handler) Recorrect(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	item, err := h.svc.Recorrect(r.Context(), owner.ID, chi.URLParam(r, "submissionID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) RecorrectQuiz(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	report, err := h.svc.RecorrectQuiz(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: report})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var supply *SupplyError
	switch {
	case errors.As(err, &supply):
		apiresp.WriteErrorCode(w, r, http.StatusUnprocessableEntity, "insufficient_supply", ErrInsufficientSupply.Error(), supply.Shortfalls)
	case errors.Is(err, ErrEmptySelection):
		apiresp.WriteErrorCode(w, r, http.StatusUnprocessableEntity, "empty_selection", err.Error(), nil)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, question.ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrQuestionNotInSession):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrQuizNotFound), errors.Is(err, ErrQuizNotPublished),
		errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSubmissionNotFound),
		errors.Is(err, ErrBankQuestionsNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrSessionClosed):
		apiresp.WriteErrorCode(w, r, http.StatusConflict, "session_closed", err.Error(), nil)
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
