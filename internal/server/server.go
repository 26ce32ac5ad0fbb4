package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/audioscribe/internal/common"
	"github.com/jo-hoe/audioscribe/internal/config"
	"github.com/jo-hoe/audioscribe/internal/export"
	"github.com/jo-hoe/audioscribe/internal/jobs"
	"github.com/jo-hoe/audioscribe/internal/storage"
	"github.com/jo-hoe/audioscribe/internal/util"
)

const (
	formFieldAudio    = "audio"
	formFieldCallback = "callback_url"
)

type Service struct {
	Log       *slog.Logger
	Cfg       *config.Config
	Store     jobs.Store
	Queue     *jobs.Queue
	Uploader  *storage.Uploader
	Exporter  *export.Exporter
	Processor jobs.Processor
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(http.MethodPost+" "+common.PathTranscriptions, svc.withCommon(svc.handleCreateTranscription))
	// /v1/transcriptions/{id} and /v1/transcriptions/{id}/export/{format}
	mux.HandleFunc(http.MethodGet+" "+common.PathTranscriptions+"/", svc.withCommon(svc.handleGetTranscriptionByPrefix))

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux, svc.Log), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Enforce API key if configured
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		// Enforce max body size, leaving room for the multipart envelope
		max := safeInt64(svc.Cfg.Server.MaxUploadSize)
		if max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max+1<<20)
		}
		next.ServeHTTP(w, r)
	}
}

type createResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

func (svc *Service) handleCreateTranscription(w http.ResponseWriter, r *http.Request) {
	maxUpload := safeInt64(svc.Cfg.Server.MaxUploadSize)
	if err := r.ParseMultipartForm(min(maxUpload, 32<<20)); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	fileHeader := r.MultipartForm.File[formFieldAudio]
	if len(fileHeader) == 0 {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	uploaded := fileHeader[0]

	callbackURLPtr, err := parseOptionalURL(r.FormValue(formFieldCallback))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid callback_url")
		return
	}

	upload, err := svc.Uploader.SaveMultipartAudio(uploaded, maxUpload)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, storage.ErrUnsupportedType):
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
		default:
			writeError(w, http.StatusBadRequest, "upload failed: "+err.Error())
		}
		return
	}
	cleanup := upload.Cleanup
	// The worker takes over cleanup once the job is enqueued.
	defer func() {
		if cleanup != nil {
			_ = cleanup()
		}
	}()

	jobID := util.NewID()
	job := jobs.Job{
		ID:          jobID,
		FileName:    path.Base(strings.ReplaceAll(uploaded.Filename, "\\", "/")),
		AudioPath:   upload.Path,
		MimeType:    upload.MimeType,
		SizeBytes:   upload.Size,
		CallbackURL: callbackURLPtr,
		State:       jobs.StateQueued,
		CreatedAt:   time.Now().UTC(),
	}

	if err := svc.Store.CreateJob(&job); err != nil {
		svc.logger().Error("persist job", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	svc.logger().Info("job created", "job_id", jobID, "file", job.FileName, "mime", job.MimeType)

	prefer := strings.ToLower(strings.TrimSpace(r.Header.Get(common.HeaderPrefer)))
	async := strings.Contains(prefer, common.PreferRespondAsync)

	if async {
		err = svc.Queue.Enqueue(jobs.WorkItem{
			Job:     job,
			Cleanup: cleanup,
		})
		if err != nil {
			svc.logger().Warn("enqueue failed", "job_id", jobID, "err", err)
			writeError(w, http.StatusServiceUnavailable, "queue full, try later")
			return
		}
		svc.logger().Info("job enqueued", "job_id", jobID, "pending", svc.Queue.Pending())
		cleanup = nil

		writeJSON(w, http.StatusAccepted, createResponse{
			JobID:     jobID,
			StatusURL: path.Join(common.PathTranscriptions, jobID),
		})
		return
	}

	// Synchronous path: run the whole lifecycle inline and return the final job view.
	if err := svc.Processor.Process(r.Context(), jobs.WorkItem{Job: job}); err != nil {
		svc.logger().Warn("processing ended with error", "job_id", jobID, "error", err)
	}
	final, err := svc.Store.GetJob(jobID)
	if err != nil {
		svc.logger().Error("load job", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, jobToOut(final, false))
}

var (
	idPattern     = regexp.MustCompile(fmt.Sprintf("^%s/([a-f0-9-]+)$", common.PathTranscriptions))
	exportPattern = regexp.MustCompile(fmt.Sprintf("^%s/([a-f0-9-]+)/%s/([A-Za-z]+)$", common.PathTranscriptions, common.PathExportSegment))
)

func (svc *Service) handleGetTranscriptionByPrefix(w http.ResponseWriter, r *http.Request) {
	if m := exportPattern.FindStringSubmatch(r.URL.Path); len(m) == 3 {
		svc.handleExport(w, r, m[1], m[2])
		return
	}
	m := idPattern.FindStringSubmatch(r.URL.Path)
	if len(m) != 2 || !util.IsID(m[1]) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	job, ok := svc.loadJob(w, m[1])
	if !ok {
		return
	}
	details, _ := strconv.ParseBool(r.URL.Query().Get("details"))
	writeJSON(w, http.StatusOK, jobToOut(job, details))
}

func (svc *Service) handleExport(w http.ResponseWriter, r *http.Request, id, formatName string) {
	f, err := export.ParseFormat(formatName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !util.IsID(id) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	job, ok := svc.loadJob(w, id)
	if !ok {
		return
	}
	if job.State != jobs.StateCompleted || job.Result == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("transcription is %s, not completed", job.State))
		return
	}
	art, err := svc.Exporter.Export(r.Context(), f, export.DocumentFrom(job.FileName, *job.Result))
	if err != nil {
		svc.logger().Error("export", "job_id", id, "format", f, "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set(common.HeaderContentType, art.MimeType)
	w.Header().Set(common.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", art.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Bytes)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Bytes)
}

func (svc *Service) loadJob(w http.ResponseWriter, id string) (*jobs.Job, bool) {
	job, err := svc.Store.GetJob(id)
	if errors.Is(err, jobs.ErrNotFound) || (err == nil && job == nil) {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	if err != nil {
		svc.logger().Error("load job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return job, true
}

func (svc *Service) logger() *slog.Logger {
	if svc.Log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return svc.Log
}

type errorOut struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type resultOut struct {
	Text            string   `json:"text"`
	LanguageCode    *string  `json:"language_code"`
	Confidence      *float64 `json:"confidence"`
	DurationSeconds float64  `json:"duration_seconds"`
	Words           int      `json:"words"`
}

type jobOut struct {
	JobID        string     `json:"job_id"`
	TranscriptID string     `json:"transcript_id,omitempty"`
	FileName     string     `json:"file_name"`
	State        string     `json:"state"`
	Attempts     int        `json:"attempts"`
	Progress     float64    `json:"progress"`
	CreatedAt    time.Time  `json:"created_at"`
	SubmittedAt  *time.Time `json:"submitted_at"`
	LastPolledAt *time.Time `json:"last_polled_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	Error        *errorOut  `json:"error"`
	Result       *resultOut `json:"result,omitempty"`
	Exports      []string   `json:"exports,omitempty"`
}

// jobToOut renders the public job view. Raw service payloads are only included with details.
func jobToOut(job *jobs.Job, details bool) jobOut {
	out := jobOut{
		JobID:        job.ID,
		TranscriptID: job.TranscriptID,
		FileName:     job.FileName,
		State:        string(job.State),
		Attempts:     job.Attempts,
		Progress:     job.Progress,
		CreatedAt:    job.CreatedAt,
		SubmittedAt:  job.SubmittedAt,
		LastPolledAt: job.LastPolledAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.Error != nil {
		out.Error = &errorOut{Kind: string(job.Error.Kind), Message: job.Error.Message}
		if details {
			out.Error.Detail = job.Error.Detail
		}
	}
	if job.State == jobs.StateCompleted && job.Result != nil {
		out.Result = &resultOut{
			Text:            job.Result.Text,
			LanguageCode:    job.Result.LanguageCode,
			Confidence:      job.Result.Confidence,
			DurationSeconds: job.Result.DurationSeconds,
			Words:           len(strings.Fields(job.Result.Text)),
		}
		for _, f := range export.Formats {
			out.Exports = append(out.Exports, path.Join(common.PathTranscriptions, job.ID, common.PathExportSegment, string(f)))
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(common.HeaderContentType, common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func parseOptionalURL(s string) (*string, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil, nil
	}
	u, err := url.ParseRequestURI(v)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return &v, nil
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	// Fallback to a discard logger if none provided to avoid nil deref in tests or minimal setups.
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if log != nil {
					log.Error("panic in handler", "path", r.URL.Path, "panic", rec)
				}
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
