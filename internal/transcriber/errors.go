package transcriber

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures of the remote job lifecycle.
type Kind string

const (
	// KindConnectivity covers transport failures and expired deadlines.
	KindConnectivity Kind = "connectivity"
	// KindClientInput is a 4xx answer from the service.
	KindClientInput Kind = "client_input"
	// KindServerFault is a 5xx answer from the service.
	KindServerFault Kind = "server_fault"
	// KindRemoteJob means the service reported the job itself as failed.
	KindRemoteJob Kind = "remote_job"
	// KindBudgetExceeded means the attempt budget ran out while still processing.
	KindBudgetExceeded Kind = "budget_exceeded"
	// KindInvalidResponse is a payload that could not be parsed into a known shape.
	KindInvalidResponse Kind = "invalid_response"
	// KindCancelled means the job was stopped before reaching a remote terminal state.
	KindCancelled Kind = "cancelled"
)

// Operation names used in Error.Op.
const (
	OpWake   = "wake"
	OpUpload = "upload"
	OpStatus = "status"
	OpPoll   = "poll"
	OpLogin  = "login"
)

// User-facing messages.
const (
	MsgUploadTimeout     = "the transcription service took too long to respond; it may be starting up, try again in 30 seconds"
	MsgUploadUnreachable = "could not connect to the transcription service; it may be starting up, wait 30 seconds and try again"
	MsgServerFault       = "the transcription service reported a server error, try again later"
	MsgUploadRejected    = "the transcription service rejected the upload"
	MsgStartFailed       = "the transcription could not be started"
	MsgRemoteJobFailed   = "the transcription failed"
	MsgPollUnreachable   = "timed out: could not connect to the transcription service"
	MsgBudgetExceeded    = "timed out: the transcription is taking too long, try again with a shorter audio file"
	MsgInvalidStatus     = "could not check the transcription status"
	MsgCancelled         = "the transcription was cancelled"
)

// Error is a classified failure with a human readable message.
// Detail carries the raw service payload, if any, for on-demand diagnostics.
type Error struct {
	Op      string
	Kind    Kind
	Status  int
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsConnectivity reports whether err is a transport-level failure.
func IsConnectivity(err error) bool {
	return KindOf(err) == KindConnectivity
}

// KindForStatus maps an HTTP status code to a failure kind.
func KindForStatus(status int) Kind {
	switch {
	case status >= http.StatusInternalServerError:
		return KindServerFault
	case status >= http.StatusBadRequest:
		return KindClientInput
	default:
		return KindInvalidResponse
	}
}
