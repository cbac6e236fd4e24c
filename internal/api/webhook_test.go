package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	svix "github.com/svix/svix-webhooks/go"
	"go.uber.org/zap"

	"github.com/sharkyai/sharky/internal/core"
	"github.com/sharkyai/sharky/internal/store"
)

var testWebhookSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("sharky-webhook-signing-secret-32"))

type memGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemGuard() *memGuard { return &memGuard{seen: map[string]bool{}} }

func (g *memGuard) Claim(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[id] {
		return false, nil
	}
	g.seen[id] = true
	return true, nil
}

func (g *memGuard) Release(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, id)
	return nil
}

func signedRequest(t *testing.T, msgID string, payload []byte) *http.Request {
	t.Helper()
	wh, err := svix.NewWebhook(testWebhookSecret)
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	now := time.Now()
	signature, err := wh.Sign(msgID, now, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", bytes.NewReader(payload))
	req.Header.Set("svix-id", msgID)
	req.Header.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("svix-signature", signature)
	return req
}

func userEvent(t *testing.T, eventType, id, email string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"type": eventType,
		"data": map[string]interface{}{
			"id":                       id,
			"primary_email_address_id": "idn_primary",
			"email_addresses": []map[string]string{
				{"id": "idn_other", "email_address": "other@example.com"},
				{"id": "idn_primary", "email_address": email},
			},
			"first_name": "Ada",
			"last_name":  nil,
			"image_url":  "https://img.example/ada.png",
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_UserLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := serve(env.handler, signedRequest(t, "msg_1", userEvent(t, "user.created", "user_1", "ada@example.com")))
	if rec.Code != http.StatusOK || rec.Body.String() != "Webhook processed successfully" {
		t.Fatalf("created: %d %q", rec.Code, rec.Body)
	}
	u, err := env.db.FindUser(ctx, "user_1")
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	if u.Email != "ada@example.com" || u.FirstName != "Ada" || u.LastName != "" {
		t.Errorf("user = %+v", u)
	}

	rec = serve(env.handler, signedRequest(t, "msg_2", userEvent(t, "user.updated", "user_1", "lovelace@example.com")))
	if rec.Code != http.StatusOK {
		t.Fatalf("updated: %d", rec.Code)
	}
	u, _ = env.db.FindUser(ctx, "user_1")
	if u.Email != "lovelace@example.com" {
		t.Errorf("email = %q", u.Email)
	}

	rec = serve(env.handler, signedRequest(t, "msg_3", []byte(`{"type":"session.created","data":{"id":"sess_1"}}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown event: %d", rec.Code)
	}

	rec = serve(env.handler, signedRequest(t, "msg_4", []byte(`{"type":"user.deleted","data":{"id":"user_1","deleted":true}}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("deleted: %d", rec.Code)
	}
	if _, err := env.db.FindUser(ctx, "user_1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("user still present: %v", err)
	}
}

func TestWebhook_ReplayIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload := userEvent(t, "user.created", "user_1", "ada@example.com")
	if rec := serve(env.handler, signedRequest(t, "msg_1", payload)); rec.Code != http.StatusOK {
		t.Fatalf("first delivery: %d", rec.Code)
	}
	if err := env.db.DeleteUser(ctx, "user_1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	rec := serve(env.handler, signedRequest(t, "msg_1", payload))
	if rec.Code != http.StatusOK || rec.Body.String() != "Webhook already processed" {
		t.Fatalf("replay: %d %q", rec.Code, rec.Body)
	}
	if _, err := env.db.FindUser(ctx, "user_1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("replayed delivery should not write: %v", err)
	}
}

func TestWebhook_RejectsUnverifiedRequests(t *testing.T) {
	env := newTestEnv(t)
	payload := userEvent(t, "user.created", "user_1", "ada@example.com")

	tests := []struct {
		name   string
		mutate func(r *http.Request)
	}{
		{"missing id", func(r *http.Request) { r.Header.Del("svix-id") }},
		{"missing timestamp", func(r *http.Request) { r.Header.Del("svix-timestamp") }},
		{"missing signature", func(r *http.Request) { r.Header.Del("svix-signature") }},
		{"bad signature", func(r *http.Request) { r.Header.Set("svix-signature", "v1,bm90LWEtc2lnbmF0dXJl") }},
		{"stale timestamp", func(r *http.Request) {
			r.Header.Set("svix-timestamp", strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signedRequest(t, "msg_"+tt.name, payload)
			tt.mutate(req)
			rec := serve(env.handler, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if _, err := env.db.FindUser(context.Background(), "user_1"); !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("unverified event wrote a user: %v", err)
			}
		})
	}

	t.Run("tampered body", func(t *testing.T) {
		req := signedRequest(t, "msg_tampered", payload)
		forged := userEvent(t, "user.created", "user_evil", "evil@example.com")
		req.Body = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(forged)).Body
		if rec := serve(env.handler, req); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if _, err := env.db.FindUser(context.Background(), "user_evil"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("tampered event wrote a user: %v", err)
		}
	})
}

func TestWebhook_MissingSecretFailsClosed(t *testing.T) {
	identity := &recordingIdentity{}
	h, err := NewWebhookHandler("", identity, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWebhookHandler: %v", err)
	}

	rec := serve(h, signedRequest(t, "msg_1", userEvent(t, "user.created", "user_1", "a@example.com")))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if identity.calls != 0 {
		t.Errorf("identity handler called %d times", identity.calls)
	}
}

func TestNewWebhookHandler_RejectsMalformedSecret(t *testing.T) {
	if _, err := NewWebhookHandler("whsec_%%%not-base64", &recordingIdentity{}, nil, zap.NewNop()); err == nil {
		t.Fatal("expected error for malformed secret")
	}
}

type recordingIdentity struct {
	calls int
	err   error
}

func (r *recordingIdentity) HandleEvent(context.Context, core.IdentityEvent) error {
	r.calls++
	return r.err
}

func TestWebhook_FailedProcessingReleasesClaim(t *testing.T) {
	identity := &recordingIdentity{err: errors.New("database is down")}
	guard := newMemGuard()
	h, err := NewWebhookHandler(testWebhookSecret, identity, guard, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWebhookHandler: %v", err)
	}
	payload := userEvent(t, "user.created", "user_1", "a@example.com")

	if rec := serve(h, signedRequest(t, "msg_1", payload)); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	identity.err = nil
	rec := serve(h, signedRequest(t, "msg_1", payload))
	if rec.Code != http.StatusOK || rec.Body.String() != "Webhook processed successfully" {
		t.Fatalf("retry: %d %q", rec.Code, rec.Body)
	}
	if identity.calls != 2 {
		t.Errorf("identity handler called %d times, want 2", identity.calls)
	}
}
