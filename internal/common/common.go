package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey             = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderPrefer             = "Prefer"
	HeaderAccept             = "Accept"
	HeaderContentType        = "Content-Type"
	HeaderContentDisposition = "Content-Disposition"
	HeaderAuthorization      = "Authorization"
	PreferRespondAsync       = "respond-async"
	ContentTypeJSON          = "application/json"
	AuthSchemeBearer         = "Bearer"
)

// Local API paths
const (
	PathHealthz        = "/healthz"
	PathTranscriptions = "/v1/transcriptions"
	PathExportSegment  = "export"
)

// Remote transcription service paths
const (
	RemotePathHealth     = "/health"
	RemotePathTranscribe = "/transcribe-async"
	RemotePathStatus     = "/status"
	RemotePathLogin      = "/auth/login"
	RemoteAudioField     = "audio"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 128
	DefaultWorkerCount   = 1
	SQLiteBusyTimeoutMS  = 5000
)

// Audio MIME types accepted for upload
const (
	MimeAudioMPEG = "audio/mpeg"
	MimeAudioMP3  = "audio/mp3"
	MimeAudioWAV  = "audio/wav"
	MimeAudioXWAV = "audio/x-wav"
	MimeAudioMP4  = "audio/mp4"
	MimeAudioM4A  = "audio/x-m4a"
	MimeAudioFLAC = "audio/flac"
	MimeAudioOGG  = "audio/ogg"
	MimeAudioWEBM = "audio/webm"
)

// Subdirectory names
const (
	UploadsDirName = "uploads"
	ExportsDirName = "exports"
)

// Callback status strings
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)
