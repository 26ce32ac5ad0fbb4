package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jo-hoe/audioscribe/internal/common"
	"github.com/jo-hoe/audioscribe/internal/config"
	"github.com/jo-hoe/audioscribe/internal/transcriber"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestLogin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != common.RemotePathLogin {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body loginRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Email != "a@b.c" || body.Password != "pw" {
			t.Errorf("body = %+v", body)
		}
		_, _ = io.WriteString(w, `{"success":true,"data":{"token":"tok-1","user":{"id":"u1","email":"a@b.c"}}}`)
	}))
	defer srv.Close()

	tok, user, err := NewClient(config.AuthConfig{BaseURL: srv.URL, Timeout: time.Second}).Login(context.Background(), "a@b.c", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tok != "tok-1" || user.ID != "u1" {
		t.Fatalf("tok=%q user=%+v", tok, user)
	}
}

func TestLogin_StatusMessages(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   transcriber.Kind
		msg    string
	}{
		{http.StatusBadRequest, `{}`, transcriber.KindClientInput, MsgMissingFields},
		{http.StatusUnauthorized, `{"message":"nope"}`, transcriber.KindClientInput, MsgInvalidCredentials},
		{http.StatusInternalServerError, ``, transcriber.KindServerFault, MsgLoginServerError},
		{http.StatusForbidden, `{"message":"account locked"}`, transcriber.KindClientInput, "account locked"},
		{http.StatusOK, `{"success":false,"message":"try again"}`, transcriber.KindInvalidResponse, "try again"},
		{http.StatusOK, `not json`, transcriber.KindInvalidResponse, MsgLoginFailed},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
			_, _ = io.WriteString(w, c.body)
		}))
		_, _, err := NewClient(config.AuthConfig{BaseURL: srv.URL}).Login(context.Background(), "a@b.c", "pw")
		srv.Close()

		var te *transcriber.Error
		if !errors.As(err, &te) {
			t.Fatalf("status %d: err = %v", c.status, err)
		}
		if te.Kind != c.kind || te.Message != c.msg || te.Op != transcriber.OpLogin {
			t.Fatalf("status %d: got %s %q", c.status, te.Kind, te.Message)
		}
	}
}

func TestLogin_MissingFieldsSkipsRequest(t *testing.T) {
	_, _, err := NewClient(config.AuthConfig{BaseURL: "http://127.0.0.1:1"}).Login(context.Background(), " ", "")
	if transcriber.KindOf(err) != transcriber.KindClientInput {
		t.Fatalf("err = %v", err)
	}
}

func TestTokenSource_CachesUntilExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var logins atomic.Int32
	var next atomic.Value
	next.Store(signedToken(t, now.Add(time.Hour)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{"token": next.Load().(string)}})
	}))
	defer srv.Close()

	cfg := config.AuthConfig{BaseURL: srv.URL, Email: "a@b.c", Password: "pw"}
	clock := now
	ts := NewTokenSource(discardLogger(), NewClient(cfg), cfg).WithClock(func() time.Time { return clock })

	first, err := ts.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if again, _ := ts.Token(context.Background()); again != first || logins.Load() != 1 {
		t.Fatalf("token not cached: logins=%d", logins.Load())
	}

	// Inside the renewal window the source signs in again.
	clock = now.Add(time.Hour - 10*time.Second)
	next.Store(signedToken(t, now.Add(2*time.Hour)))
	renewed, err := ts.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if renewed == first || logins.Load() != 2 {
		t.Fatalf("expected renewal, logins=%d", logins.Load())
	}

	if !ts.Invalidate() {
		t.Fatalf("Invalidate with credentials should allow renewal")
	}
	if _, err := ts.Token(context.Background()); err != nil || logins.Load() != 3 {
		t.Fatalf("Invalidate should force sign in: err=%v logins=%d", err, logins.Load())
	}
}

func TestTokenSource_StaticToken(t *testing.T) {
	ts := NewTokenSource(discardLogger(), nil, config.AuthConfig{Token: "opaque"})
	tok, err := ts.Token(context.Background())
	if err != nil || tok != "opaque" {
		t.Fatalf("tok=%q err=%v", tok, err)
	}
	if ts.Invalidate() {
		t.Fatalf("static token cannot be renewed")
	}
	if tok, err := ts.Token(context.Background()); err != nil || tok != "opaque" {
		t.Fatalf("static token dropped by Invalidate: tok=%q err=%v", tok, err)
	}

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expired := NewTokenSource(discardLogger(), nil, config.AuthConfig{Token: signedToken(t, now.Add(-time.Minute))}).
		WithClock(func() time.Time { return now })
	if _, err := expired.Token(context.Background()); err == nil {
		t.Fatalf("expired static token without credentials should fail")
	}
}

func TestExpiry(t *testing.T) {
	exp := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	if got := Expiry(signedToken(t, exp)); !got.Equal(exp) {
		t.Fatalf("Expiry = %v", got)
	}
	if got := Expiry("not-a-jwt"); !got.IsZero() {
		t.Fatalf("opaque token expiry = %v", got)
	}
}
