// Package auth signs in to the transcription service and hands out bearer tokens.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jo-hoe/audioscribe/internal/common"
	"github.com/jo-hoe/audioscribe/internal/config"
	"github.com/jo-hoe/audioscribe/internal/transcriber"
)

// Login failure messages.
const (
	MsgMissingFields      = "please complete all fields"
	MsgInvalidCredentials = "incorrect email or password"
	MsgLoginServerError   = "server error, please try again later"
	MsgLoginFailed        = "sign in failed"
	MsgLoginUnreachable   = "could not connect to the sign in service"
)

// expirySkew renews tokens slightly before they expire.
const expirySkew = 30 * time.Second

// User is the account returned on a successful sign in.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	} `json:"data"`
}

// Client performs email/password sign in.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
}

func NewClient(cfg config.AuthConfig) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
	}
}

// WithHTTPClient allows tests to inject a custom HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpClient = h
	return c
}

// Login exchanges credentials for a token. Failures are *transcriber.Error with Op login.
func (c *Client) Login(ctx context.Context, email, password string) (string, User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return "", User{}, &transcriber.Error{Op: transcriber.OpLogin, Kind: transcriber.KindClientInput, Message: MsgMissingFields}
	}
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return "", User{}, fmt.Errorf("marshal login: %w", err)
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+common.RemotePathLogin, bytes.NewReader(body))
	if err != nil {
		return "", User{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)
	req.Header.Set(common.HeaderAccept, common.ContentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", User{}, ctx.Err()
		}
		return "", User{}, &transcriber.Error{Op: transcriber.OpLogin, Kind: transcriber.KindConnectivity, Message: MsgLoginUnreachable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var lr loginResponse
	decodeErr := json.Unmarshal(raw, &lr)

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return "", User{}, loginError(resp.StatusCode, MsgMissingFields, raw)
	case resp.StatusCode == http.StatusUnauthorized:
		return "", User{}, loginError(resp.StatusCode, MsgInvalidCredentials, raw)
	case resp.StatusCode >= http.StatusInternalServerError:
		return "", User{}, loginError(resp.StatusCode, MsgLoginServerError, raw)
	case resp.StatusCode >= http.StatusMultipleChoices:
		msg := MsgLoginFailed
		if decodeErr == nil && lr.Message != "" {
			msg = lr.Message
		}
		return "", User{}, loginError(resp.StatusCode, msg, raw)
	}
	if decodeErr != nil || !lr.Success || lr.Data.Token == "" {
		msg := MsgLoginFailed
		if decodeErr == nil && lr.Message != "" {
			msg = lr.Message
		}
		return "", User{}, &transcriber.Error{Op: transcriber.OpLogin, Kind: transcriber.KindInvalidResponse, Status: resp.StatusCode, Message: msg, Detail: string(raw), Err: decodeErr}
	}
	return lr.Data.Token, lr.Data.User, nil
}

func loginError(status int, msg string, raw []byte) error {
	return &transcriber.Error{Op: transcriber.OpLogin, Kind: transcriber.KindForStatus(status), Status: status, Message: msg, Detail: string(raw)}
}

// TokenSource caches a bearer token in memory and signs in again when it expires.
// Expiry is read from the token's exp claim without verifying the signature;
// tokens without one are reused until the process exits.
type TokenSource struct {
	log      *slog.Logger
	client   *Client
	email    string
	password string
	now      func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

var (
	_ transcriber.TokenSource      = (*TokenSource)(nil)
	_ transcriber.TokenInvalidator = (*TokenSource)(nil)
)

func NewTokenSource(log *slog.Logger, client *Client, cfg config.AuthConfig) *TokenSource {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ts := &TokenSource{log: log, client: client, email: cfg.Email, password: cfg.Password, now: time.Now}
	if cfg.Token != "" {
		ts.store(cfg.Token)
	}
	return ts
}

// WithClock replaces the clock used for expiry checks.
func (s *TokenSource) WithClock(now func() time.Time) *TokenSource {
	s.now = now
	return s
}

func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && (s.expiry.IsZero() || s.now().Add(expirySkew).Before(s.expiry)) {
		return s.token, nil
	}
	if s.email == "" {
		if s.token != "" {
			return "", errors.New("configured token has expired and no credentials are set")
		}
		return "", errors.New("no token or credentials configured")
	}

	tok, user, err := s.client.Login(ctx, s.email, s.password)
	if err != nil {
		return "", err
	}
	s.store(tok)
	s.log.Info("signed in", "user", user.Email, "expires", s.expiry)
	return s.token, nil
}

// Invalidate drops the cached token so the next call signs in again.
// It reports false, keeping the token, when no credentials are configured.
func (s *TokenSource) Invalidate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.email == "" {
		return false
	}
	s.token = ""
	s.expiry = time.Time{}
	return true
}

func (s *TokenSource) store(tok string) {
	s.token = tok
	s.expiry = Expiry(tok)
}

// Expiry returns the exp claim of a JWT, or the zero time for opaque tokens.
func Expiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
