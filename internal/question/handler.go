package question

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"quizdesk/internal/app/apiresp"
	"quizdesk/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc questionService
}

type questionService interface {
	CreateSection(ctx context.Context, ownerID string, in SectionInput) (*Section, error)
	ListSections(ctx context.Context, ownerID string) ([]Section, error)
	UpdateSection(ctx context.Context, ownerID, id string, in SectionInput) (*Section, error)
	DeleteSection(ctx context.Context, ownerID, id string) error
	CreateQuestion(ctx context.Context, ownerID string, in QuestionInput) (*Question, error)
	UpdateQuestion(ctx context.Context, ownerID, id string, in QuestionInput) (*Question, error)
	DeleteQuestion(ctx context.Context, ownerID, id string) error
	GetQuestion(ctx context.Context, ownerID, id string) (*Question, error)
	ListBank(ctx context.Context, ownerID string, f BankFilter) ([]Question, error)
	ImportXLSX(ctx context.Context, ownerID string, r io.Reader) (*ImportReport, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type sectionRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type questionRequest struct {
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

func (req questionRequest) input() QuestionInput {
	return QuestionInput{
		Type:           req.Type,
		Question:       req.Question,
		Options:        req.Options,
		CorrectAnswers: req.CorrectAnswers,
		Points:         req.Points,
		Explanation:    req.Explanation,
		Required:       req.Required,
		SectionID:      req.SectionID,
		Difficulty:     req.Difficulty,
	}
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateSection(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	var req sectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.CreateSection(r.Context(), owner.ID, SectionInput{Name: req.Name, Color: req.Color})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) ListSections(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	items, err := h.svc.ListSections(r.Context(), owner.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) UpdateSection(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	var req sectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.UpdateSection(r.Context(), owner.ID, chi.URLParam(r, "id"), SectionInput{Name: req.Name, Color: req.Color})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteSection(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	if err := h.svc.DeleteSection(r.Context(), owner.ID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.CreateQuestion(r.Context(), owner.ID, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	item, err := h.svc.GetQuestion(r.Context(), owner.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.UpdateQuestion(r.Context(), owner.ID, chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	if err := h.svc.DeleteQuestion(r.Context(), owner.ID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) ListBank(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	q := r.URL.Query()
	items, err := h.svc.ListBank(r.Context(), owner.ID, BankFilter{
		SectionID:  strings.TrimSpace(q.Get("section_id")),
		Difficulty: strings.TrimSpace(q.Get("difficulty")),
		Type:       strings.TrimSpace(q.Get("type")),
		Query:      strings.TrimSpace(q.Get("q")),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) ImportXLSX(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.CurrentOwner(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid multipart form"})
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "file field is required"})
		return
	}
	defer file.Close()

	report, err := h.svc.ImportXLSX(r.Context(), owner.ID, file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]any{
		"filename": hdr.Filename,
		"report":   report,
	}})
}

func (h *Handler) ImportTemplate(w http.ResponseWriter, r *http.Request) {
	b, err := ImportTemplate()
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="question_bank_template.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrQuestionNotFound), errors.Is(err, ErrSectionNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
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
