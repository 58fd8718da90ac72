package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/courier/dm-server/internal/auth"
	"github.com/courier/dm-server/internal/message"
	"github.com/courier/dm-server/internal/ratelimit"
)

type fakeService struct {
	sendMsg  *message.Message
	sendErr  error
	lastSend [3]string // sender, receiver, body

	hist    *message.History
	histErr error
}

func (f *fakeService) Send(ctx context.Context, senderID, receiverID, body string) (*message.Message, error) {
	f.lastSend = [3]string{senderID, receiverID, body}
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sendMsg, nil
}

func (f *fakeService) History(ctx context.Context, requesterID, counterpartID string) (*message.History, error) {
	if f.histErr != nil {
		return nil, f.histErr
	}
	return f.hist, nil
}

type fakeVerifier struct {
	tokens map[string]string
}

func (f *fakeVerifier) Verify(ctx context.Context, token string) (string, error) {
	if id, ok := f.tokens[token]; ok {
		return id, nil
	}
	return "", auth.ErrInvalidToken
}

type fakePresence struct {
	online map[string]bool
	err    error
}

func (f *fakePresence) Online(ctx context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.online[userID], nil
}

type fakeLimiter struct {
	allowed bool
	lastID  string
}

func (f *fakeLimiter) Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error) {
	f.lastID = identifier
	return f.allowed, nil
}

func newTestAPI(svc *fakeService, opts ...func(*API)) *http.ServeMux {
	api := New(svc, &fakePresence{online: map[string]bool{}},
		&fakeVerifier{tokens: map[string]string{"tok-alice": "alice"}}, nil)
	for _, opt := range opts {
		opt(api)
	}
	return api.Routes()
}

func authedRequest(method, target string, body string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "tok-alice"})
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return out
}

func TestSendSuccess(t *testing.T) {
	svc := &fakeService{
		sendMsg: &message.Message{
			ID:             "m1",
			ConversationID: "c1",
			SenderID:       "alice",
			ReceiverID:     "bob",
			Body:           "hello",
			CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
	mux := newTestAPI(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest("POST", "/api/message/send/bob", `{"message":"hello"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", rec.Code, rec.Body.String())
	}
	out := decodeBody(t, rec)
	if out["message"] != "Message sent successfully" {
		t.Errorf("message = %v", out["message"])
	}
	nm, ok := out["newMessage"].(map[string]interface{})
	if !ok {
		t.Fatalf("newMessage missing: %v", out)
	}
	if nm["senderId"] != "alice" || nm["receiverId"] != "bob" || nm["message"] != "hello" {
		t.Errorf("newMessage = %v", nm)
	}
	if svc.lastSend != [3]string{"alice", "bob", "hello"} {
		t.Errorf("service called with %v", svc.lastSend)
	}
}

func TestSendBearerToken(t *testing.T) {
	svc := &fakeService{sendMsg: &message.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob"}}
	mux := newTestAPI(svc)

	r := httptest.NewRequest("POST", "/api/message/send/bob", strings.NewReader(`{"message":"hi"}`))
	r.Header.Set("Authorization", "Bearer tok-alice")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSendUnauthenticated(t *testing.T) {
	mux := newTestAPI(&fakeService{})

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"no token", func(r *http.Request) {}},
		{"bad cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "nope"})
		}},
		{"bad bearer", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer nope")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/message/send/bob", strings.NewReader(`{"message":"hi"}`))
			tt.setup(r)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, r)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestSendValidationError(t *testing.T) {
	svc := &fakeService{sendErr: &message.ValidationError{Field: "message", Reason: "empty"}}
	mux := newTestAPI(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest("POST", "/api/message/send/bob", `{"message":"   "}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendInvalidBody(t *testing.T) {
	mux := newTestAPI(&fakeService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest("POST", "/api/message/send/bob", `{not json`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendStoreFailure(t *testing.T) {
	svc := &fakeService{sendErr: &message.PersistenceError{Op: "create message", Err: errors.New("db down")}}
	mux := newTestAPI(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest("POST", "/api/message/send/bob", `{"message":"hi"}`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	out := decodeBody(t, rec)
	if out["message"] != "Internal server error" {
		t.Errorf("error body leaks detail: %v", out)
	}
}

func TestSendRateLimited(t *testing.T) {
	lim := &fakeLimiter{allowed: false}
	mux := newTestAPI(&fakeService{}, func(a *API) { a.limiter = lim })

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest("POST", "/api/message/send/bob", `{"message":"hi"}`))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if lim.lastID != "alice" {
		t.Errorf("limiter keyed on %q, want sender id", lim.lastID)
	}
}

func TestHistoryPartition(t *testing.T) {
	svc := &fakeService{
		hist: &message.History{
			ConversationID: "c1",
			Sent: []*message.Message{
				{ID: "m1", SenderID: "alice", ReceiverID: "bob", Body: "hi"},
			},
			Received: []*message.Message{
				{ID: "m2", SenderID: "bob", ReceiverID: "alice", Body: "yo"},
			},
		},
	}
	mux := newTestAPI(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest("GET", "/api/message/get/bob", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", rec.Code, rec.Body.String())
	}
	out := decodeBody(t, rec)
	if out["conversationId"] != "c1" || out["senderId"] != "alice" || out["receiverId"] != "bob" {
		t.Errorf("identifiers = %v", out)
	}
	sent, _ := out["senderMessages"].([]interface{})
	recv, _ := out["receiverMessages"].([]interface{})
	if len(sent) != 1 || len(recv) != 1 {
		t.Fatalf("partition sizes = %d/%d, want 1/1", len(sent), len(recv))
	}
}

func TestHistoryNoConversation(t *testing.T) {
	svc := &fakeService{histErr: message.ErrNoConversation}
	mux := newTestAPI(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest("GET", "/api/message/get/stranger", ""))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	out := decodeBody(t, rec)
	if out["message"] != "Conversation not found" {
		t.Errorf("body = %v", out)
	}
}

func TestPresenceEndpoint(t *testing.T) {
	api := New(&fakeService{},
		&fakePresence{online: map[string]bool{"bob": true}},
		&fakeVerifier{tokens: map[string]string{"tok-alice": "alice"}}, nil)
	mux := api.Routes()

	for _, tt := range []struct {
		user string
		want bool
	}{
		{"bob", true},
		{"carol", false},
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, authedRequest("GET", "/api/presence/"+tt.user, ""))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		out := decodeBody(t, rec)
		if out["online"] != tt.want {
			t.Errorf("online for %s = %v, want %v", tt.user, out["online"], tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	mux := newTestAPI(&fakeService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
