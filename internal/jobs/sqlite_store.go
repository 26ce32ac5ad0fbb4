package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jo-hoe/audioscribe/internal/common"
	"github.com/jo-hoe/audioscribe/internal/transcriber"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by GetJob for unknown ids.
var ErrNotFound = errors.New("job not found")

// terminalStates is the SQL list literal matching State.Terminal.
const terminalStates = `('completed','failed','timed_out','cancelled')`

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		transcript_id TEXT,
		file_name TEXT NOT NULL,
		audio_path TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		callback_url TEXT,
		state TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		progress REAL NOT NULL DEFAULT 0,
		result_json TEXT,
		error_kind TEXT,
		error_message TEXT,
		error_detail TEXT,
		created_at TEXT NOT NULL,
		submitted_at TEXT,
		last_polled_at TEXT,
		completed_at TEXT
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateJob(job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job.ID is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.State == "" {
		job.State = StateQueued
	}
	var cb *string
	if job.CallbackURL != nil && *job.CallbackURL != "" {
		cb = job.CallbackURL
	}

	_, err := s.db.Exec(
		`INSERT INTO jobs (id, file_name, audio_path, mime_type, size_bytes, callback_url, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.FileName, job.AudioPath, job.MimeType, job.SizeBytes, cb, string(job.State), formatTime(job.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// MarkSubmitted records the service-assigned id. The id can only be set once.
func (s *SQLiteStore) MarkSubmitted(id, transcriptID string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE jobs SET transcript_id = ?, state = ?, submitted_at = ?
		WHERE id = ? AND state = ? AND transcript_id IS NULL`,
		transcriptID, string(StateSubmitted), formatTime(at), id, string(StateQueued),
	)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	return expectOneRow(res, "mark submitted")
}

func (s *SQLiteStore) SaveProgress(id string, state State, attempts int, progress float64, polledAt time.Time) error {
	if state.Terminal() {
		return fmt.Errorf("save progress: %s is terminal", state)
	}
	// MAX keeps progress monotonic even if writes arrive out of order.
	res, err := s.db.Exec(`UPDATE jobs SET state = ?, attempts = ?, progress = MAX(progress, ?), last_polled_at = ?
		WHERE id = ? AND state NOT IN `+terminalStates,
		string(state), attempts, progress, formatTime(polledAt), id,
	)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return expectOneRow(res, "save progress")
}

func (s *SQLiteStore) SaveResult(id string, result transcriber.Transcript, attempts int, completedAt time.Time) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	res, err := s.db.Exec(`UPDATE jobs
		SET result_json = ?, state = ?, attempts = ?, progress = 100, error_kind = NULL, error_message = NULL, error_detail = NULL, completed_at = ?
		WHERE id = ? AND state NOT IN `+terminalStates,
		string(b), string(StateCompleted), attempts, formatTime(completedAt), id,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return expectOneRow(res, "save result")
}

func (s *SQLiteStore) SaveError(id string, state State, jobErr JobError, attempts int, completedAt time.Time) error {
	if !state.Terminal() || state == StateCompleted {
		return fmt.Errorf("save error: %s is not a failure state", state)
	}
	res, err := s.db.Exec(`UPDATE jobs
		SET error_kind = ?, error_message = ?, error_detail = ?, state = ?, attempts = MAX(attempts, ?), completed_at = ?
		WHERE id = ? AND state NOT IN `+terminalStates,
		string(jobErr.Kind), jobErr.Message, jobErr.Detail, string(state), attempts, formatTime(completedAt), id,
	)
	if err != nil {
		return fmt.Errorf("save error: %w", err)
	}
	return expectOneRow(res, "save error")
}

func (s *SQLiteStore) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT id, transcript_id, file_name, audio_path, mime_type, size_bytes, callback_url, state,
		attempts, progress, result_json, error_kind, error_message, error_detail,
		created_at, submitted_at, last_polled_at, completed_at
		FROM jobs WHERE id = ?`, id)

	var job Job
	var transcriptID, cb, result, errKind, errMsg, errDetail, created, submitted, polled, completed sql.NullString
	var state string

	if err := row.Scan(
		&job.ID,
		&transcriptID,
		&job.FileName,
		&job.AudioPath,
		&job.MimeType,
		&job.SizeBytes,
		&cb,
		&state,
		&job.Attempts,
		&job.Progress,
		&result,
		&errKind,
		&errMsg,
		&errDetail,
		&created,
		&submitted,
		&polled,
		&completed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.State = State(state)
	job.TranscriptID = transcriptID.String
	if cb.Valid {
		v := cb.String
		job.CallbackURL = &v
	}
	if result.Valid && result.String != "" {
		var tr transcriber.Transcript
		if err := json.Unmarshal([]byte(result.String), &tr); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &tr
	}
	if errKind.Valid || errMsg.Valid {
		job.Error = &JobError{
			Kind:    transcriber.Kind(errKind.String),
			Message: errMsg.String,
			Detail:  errDetail.String,
		}
	}
	if t := parseTime(created); t != nil {
		job.CreatedAt = *t
	}
	job.SubmittedAt = parseTime(submitted)
	job.LastPolledAt = parseTime(polled)
	job.CompletedAt = parseTime(completed)

	return &job, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w or already finished", op, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}
