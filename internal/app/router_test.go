package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quizdesk/internal/db"
	"quizdesk/internal/events"
	"quizdesk/internal/session"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	conn, err := db.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewRouter(Config{
		AuthRateLimitPerMin: 60,
		JWTSecret:           "test-secret",
		JWTTTL:              time.Hour,
		BootstrapToken:      "boot",
		SessionGrace:        time.Minute,
	}, conn, session.NewMemoryStore(), events.NopPublisher{})
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func call(t *testing.T, h http.Handler, method, target, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v", method, target, err)
		}
	}
	return w.Code, env
}

func TestRouterHealthAndAuthGate(t *testing.T) {
	h := newTestRouter(t)

	if code, env := call(t, h, http.MethodGet, "/healthz", "", nil); code != http.StatusOK || !env.OK {
		t.Fatalf("healthz: %d %+v", code, env)
	}
	if code, _ := call(t, h, http.MethodGet, "/api/v1/quizzes", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code, _ := call(t, h, http.MethodGet, "/metrics", "", nil); code != http.StatusOK {
		t.Fatalf("metrics: %d", code)
	}
}

func TestRouterQuizFlow(t *testing.T) {
	h := newTestRouter(t)

	code, _ := call(t, h, http.MethodPost, "/api/v1/bootstrap/init", "", map[string]string{
		"token": "boot", "email": "owner@example.com", "password": "password123", "name": "Owner",
	})
	if code != http.StatusCreated {
		t.Fatalf("bootstrap: %d", code)
	}
	code, env := call(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "owner@example.com", "password": "password123",
	})
	if code != http.StatusOK {
		t.Fatalf("login: %d", code)
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal(env.Data, &login)
	if login.AccessToken == "" {
		t.Fatalf("missing access token")
	}

	code, env = call(t, h, http.MethodPost, "/api/v1/quizzes", login.AccessToken, map[string]any{
		"title":        "Capitals",
		"is_published": true,
		"questions": []map[string]any{
			{"type": "multiple_choice", "question": "Capital of France?", "options": []string{"Paris", "Rome"}, "correct_answers": []string{"Paris"}, "points": 2},
		},
	})
	if code != http.StatusCreated {
		t.Fatalf("create quiz: %d %+v", code, env)
	}
	var qz struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(env.Data, &qz)

	code, env = call(t, h, http.MethodPost, "/api/v1/public/quizzes/"+qz.ID+"/sessions", "", map[string]string{"name": "Ana"})
	if code != http.StatusCreated {
		t.Fatalf("start session: %d %+v", code, env)
	}
	var sess struct {
		ID        string `json:"id"`
		Questions []struct {
			ID string `json:"id"`
		} `json:"questions"`
	}
	_ = json.Unmarshal(env.Data, &sess)
	if len(sess.Questions) != 1 {
		t.Fatalf("expected one question, got %+v", sess)
	}

	code, _ = call(t, h, http.MethodPut, "/api/v1/public/sessions/"+sess.ID+"/answers/"+sess.Questions[0].ID, "", map[string]string{"value": "b) Paris"})
	if code != http.StatusOK {
		t.Fatalf("save answer: %d", code)
	}
	code, env = call(t, h, http.MethodPost, "/api/v1/public/sessions/"+sess.ID+"/submit", "", map[string]any{})
	if code != http.StatusOK {
		t.Fatalf("submit: %d %+v", code, env)
	}
	var res struct {
		Score    int `json:"score"`
		MaxScore int `json:"max_score"`
	}
	_ = json.Unmarshal(env.Data, &res)
	if res.Score != 2 || res.MaxScore != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	code, env = call(t, h, http.MethodPost, "/api/v1/public/sessions/"+sess.ID+"/submit", "", map[string]any{})
	if code != http.StatusConflict || env.Error == nil || env.Error.Code != "session_closed" {
		t.Fatalf("double submit: %d %+v", code, env)
	}

	code, env = call(t, h, http.MethodGet, "/api/v1/quizzes/"+qz.ID+"/report", login.AccessToken, nil)
	if code != http.StatusOK {
		t.Fatalf("report: %d", code)
	}
	var sum struct {
		Participants int `json:"participants"`
	}
	_ = json.Unmarshal(env.Data, &sum)
	if sum.Participants != 1 {
		t.Fatalf("expected one participant, got %+v", sum)
	}
}
