package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jo-hoe/audioscribe/internal/common"
	"github.com/jo-hoe/audioscribe/internal/config"
)

const (
	// Response bodies larger than this are cut off; completed transcripts of long audio fit comfortably.
	maxResponseBytes = 32 << 20
	detailLimit      = 4096
)

// TokenSource yields a bearer token for authenticated requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenInvalidator is implemented by token sources that can replace a rejected token.
// Invalidate reports whether the next Token call may return a different token.
type TokenInvalidator interface {
	Invalidate() bool
}

// Client talks to the asynchronous transcription service.
// Every call carries its own deadline; cancelling the parent context aborts it as well.
type Client struct {
	log           *slog.Logger
	httpClient    *http.Client
	baseURL       string
	wakeTimeout   time.Duration
	uploadTimeout time.Duration
	pollTimeout   time.Duration
	tokens        TokenSource
}

// New creates a client for the configured service.
func New(log *slog.Logger, cfg config.ServiceConfig) *Client {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		log:           log,
		httpClient:    &http.Client{},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		wakeTimeout:   cfg.WakeTimeout,
		uploadTimeout: cfg.UploadTimeout,
		pollTimeout:   cfg.PollTimeout,
	}
}

// WithHTTPClient allows tests to inject a custom HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpClient = h
	return c
}

// WithTokenSource makes upload and status calls send a bearer token.
func (c *Client) WithTokenSource(ts TokenSource) *Client {
	c.tokens = ts
	return c
}

// Wake issues a liveness probe so a sleeping service starts spinning up.
// Failures are logged and swallowed: the service may be reachable anyway.
func (c *Client) Wake(ctx context.Context) {
	callCtx, cancel := withDeadline(ctx, c.wakeTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+common.RemotePathHealth, nil)
	if err != nil {
		c.log.Warn("wake probe: build request", "err", err)
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("wake probe failed, continuing", "err", err, "duration", time.Since(start))
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, detailLimit))
	_ = resp.Body.Close()
	c.log.Info("service awake", "status", resp.StatusCode, "duration", time.Since(start))
}

type submitResponse struct {
	TranscriptID string `json:"transcript_id"`
	Message      string `json:"message"`
}

// Submit uploads audio and returns the job identifier assigned by the service.
// Failures are returned as *Error and are never retried here.
func (c *Client) Submit(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", &Error{Op: OpUpload, Kind: KindClientInput, Message: "audio file is empty"}
	}
	body, contentType, err := buildUploadBody(audio, filename)
	if err != nil {
		return "", fmt.Errorf("build upload body: %w", err)
	}

	callCtx, cancel := withDeadline(ctx, c.uploadTimeout)
	defer cancel()

	start := time.Now()
	c.log.Info("uploading audio", "file", filename, "size", humanize.Bytes(uint64(len(audio))))
	resp, err := c.send(ctx, callCtx, OpUpload, MsgUploadTimeout, MsgUploadUnreachable, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+common.RemotePathTranscribe, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set(common.HeaderContentType, contentType)
		req.Header.Set(common.HeaderAccept, common.ContentTypeJSON)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", transportError(OpUpload, callCtx, err, MsgUploadTimeout, MsgUploadUnreachable)
	}
	c.log.Info("upload finished", "status", resp.StatusCode, "duration", time.Since(start))

	var sr submitResponse
	decodeErr := json.Unmarshal(raw, &sr)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		kind := KindForStatus(resp.StatusCode)
		msg := MsgServerFault
		if kind == KindClientInput {
			msg = fmt.Sprintf("%s (status %d)", MsgUploadRejected, resp.StatusCode)
			if decodeErr == nil && strings.TrimSpace(sr.Message) != "" {
				msg = sr.Message
			}
		}
		return "", &Error{Op: OpUpload, Kind: kind, Status: resp.StatusCode, Message: msg, Detail: truncate(string(raw), detailLimit)}
	}
	if decodeErr != nil || strings.TrimSpace(sr.TranscriptID) == "" {
		msg := MsgStartFailed
		if decodeErr == nil && strings.TrimSpace(sr.Message) != "" {
			msg = sr.Message
		}
		return "", &Error{Op: OpUpload, Kind: KindInvalidResponse, Status: resp.StatusCode, Message: msg, Detail: truncate(string(raw), detailLimit), Err: decodeErr}
	}
	return sr.TranscriptID, nil
}

// Status queries the state of a submitted job.
func (c *Client) Status(ctx context.Context, transcriptID string) (Status, error) {
	callCtx, cancel := withDeadline(ctx, c.pollTimeout)
	defer cancel()

	u := c.baseURL + common.RemotePathStatus + "/" + url.PathEscape(transcriptID)
	resp, err := c.send(ctx, callCtx, OpStatus, MsgPollUnreachable, MsgPollUnreachable, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(common.HeaderAccept, common.ContentTypeJSON)
		return req, nil
	})
	if err != nil {
		return Status{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return Status{}, ctx.Err()
		}
		return Status{}, transportError(OpStatus, callCtx, err, MsgPollUnreachable, MsgPollUnreachable)
	}

	st, err := ParseStatus(raw)
	if err != nil {
		kind := KindInvalidResponse
		msg := MsgInvalidStatus
		if resp.StatusCode >= http.StatusBadRequest {
			kind = KindForStatus(resp.StatusCode)
			if kind == KindServerFault {
				msg = MsgServerFault
			}
		}
		return Status{}, &Error{Op: OpStatus, Kind: kind, Status: resp.StatusCode, Message: msg, Detail: truncate(string(raw), detailLimit), Err: err}
	}
	return st, nil
}

// send performs an authorized round trip built by newReq. A 401 answer is retried
// once when the token source can supply a fresh token. Transport failures are
// classified with transportError; a cancelled parent context is returned as is.
func (c *Client) send(ctx, callCtx context.Context, op, timeoutMsg, unreachableMsg string, newReq func() (*http.Request, error)) (*http.Response, error) {
	for retried := false; ; retried = true {
		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		if err := c.authorize(ctx, req); err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, transportError(op, callCtx, err, timeoutMsg, unreachableMsg)
		}
		if resp.StatusCode != http.StatusUnauthorized || retried || !c.renewToken() {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, detailLimit))
		_ = resp.Body.Close()
		c.log.Info("token rejected, signing in again", "op", op)
	}
}

func (c *Client) renewToken() bool {
	inv, ok := c.tokens.(TokenInvalidator)
	return ok && inv.Invalidate()
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set(common.HeaderAuthorization, common.AuthSchemeBearer+" "+tok)
	return nil
}

func buildUploadBody(audio []byte, filename string) ([]byte, string, error) {
	if strings.TrimSpace(filename) == "" {
		filename = "audio"
	}
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile(common.RemoteAudioField, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return b.Bytes(), w.FormDataContentType(), nil
}

// transportError classifies a failed round trip. callCtx is the per-call context,
// so an expired deadline there means this call timed out rather than the job being cancelled.
func transportError(op string, callCtx context.Context, err error, timeoutMsg, unreachableMsg string) *Error {
	msg := unreachableMsg
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		msg = timeoutMsg
	}
	return &Error{Op: op, Kind: KindConnectivity, Message: msg, Err: err}
}

func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
