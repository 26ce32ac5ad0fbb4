package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jo-hoe/audioscribe/internal/common"
)

var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrTooLarge        = errors.New("upload too large")
	ErrEmpty           = errors.New("upload is empty")
)

// Uploader handles spooling audio uploads on disk until the job has been submitted.
type Uploader struct {
	baseDir string
}

var allowedAudioMimes = map[string]string{
	common.MimeAudioMPEG: ".mp3",
	common.MimeAudioMP3:  ".mp3",
	common.MimeAudioWAV:  ".wav",
	common.MimeAudioXWAV: ".wav",
	common.MimeAudioMP4:  ".m4a",
	common.MimeAudioM4A:  ".m4a",
	common.MimeAudioFLAC: ".flac",
	common.MimeAudioOGG:  ".ogg",
	common.MimeAudioWEBM: ".webm",
}

// mime.TypeByExtension does not know most audio types without a system mime table.
var audioExtensions = map[string]string{
	".mp3":  common.MimeAudioMPEG,
	".wav":  common.MimeAudioWAV,
	".m4a":  common.MimeAudioM4A,
	".mp4":  common.MimeAudioMP4,
	".flac": common.MimeAudioFLAC,
	".ogg":  common.MimeAudioOGG,
	".oga":  common.MimeAudioOGG,
	".webm": common.MimeAudioWEBM,
}

// NewUploader creates an uploader that stores to baseDir/uploads.
func NewUploader(baseDir string) *Uploader {
	return &Uploader{baseDir: filepath.Join(baseDir, common.UploadsDirName)}
}

// Upload is an audio file spooled to disk.
type Upload struct {
	Path     string
	MimeType string
	Size     int64
	Cleanup  func() error
}

// SaveMultipartAudio validates and stores an uploaded audio file.
// The caller should always invoke Cleanup when the file is no longer needed.
func (u *Uploader) SaveMultipartAudio(fileHeader *multipart.FileHeader, maxBytes int64) (Upload, error) {
	if fileHeader == nil {
		return Upload{}, fmt.Errorf("no file provided")
	}
	mimeType := DetectAudioMime(fileHeader.Header.Get(common.HeaderContentType), fileHeader.Filename)
	if mimeType == "" {
		return Upload{}, fmt.Errorf("%w: %s", ErrUnsupportedType, fileHeader.Header.Get(common.HeaderContentType))
	}

	if err := os.MkdirAll(u.baseDir, 0o755); err != nil {
		return Upload{}, fmt.Errorf("ensure uploads dir: %w", err)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return Upload{}, fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() { _ = src.Close() }()

	filename := randomHex(16) + allowedAudioMimes[mimeType]
	dstPath := filepath.Join(u.baseDir, filename)

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return Upload{}, fmt.Errorf("create tmp file: %w", err)
	}
	defer func() {
		_ = dst.Close()
	}()

	// One extra byte tells a file of exactly maxBytes apart from a larger one.
	n, err := io.Copy(dst, io.LimitReader(src, maxBytes+1))
	if err != nil {
		_ = os.Remove(dstPath)
		return Upload{}, fmt.Errorf("copy upload: %w", err)
	}
	if n > maxBytes {
		_ = os.Remove(dstPath)
		return Upload{}, fmt.Errorf("%w: limit is %s", ErrTooLarge, humanize.IBytes(uint64(maxBytes)))
	}
	if n == 0 {
		_ = os.Remove(dstPath)
		return Upload{}, ErrEmpty
	}

	return Upload{
		Path:     dstPath,
		MimeType: mimeType,
		Size:     n,
		Cleanup:  func() error { return os.Remove(dstPath) },
	}, nil
}

// DetectAudioMime returns the normalized audio media type for an upload, or ""
// when it is not a supported audio format. Generic or missing content types fall
// back to the file extension.
func DetectAudioMime(contentType, filename string) string {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if mt == "" || mt == "application/octet-stream" {
		mt = audioExtensions[strings.ToLower(filepath.Ext(filename))]
	}
	if _, ok := allowedAudioMimes[mt]; !ok {
		return ""
	}
	return mt
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
