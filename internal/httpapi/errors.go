package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/chaz8081/gostt-server/internal/audio"
	"github.com/chaz8081/gostt-server/internal/dispatch"
	"github.com/chaz8081/gostt-server/internal/transcribe"
)

const (
	codeBadRequest          = "BAD_REQUEST"
	codeUnsupportedFormat   = "UNSUPPORTED_FORMAT"
	codeCorruptAudio        = "CORRUPT_AUDIO"
	codePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	codeUnsupportedLanguage = "UNSUPPORTED_LANGUAGE"
	codeOverloaded          = "OVERLOADED"
	codeShuttingDown        = "SHUTTING_DOWN"
	codeTimeout             = "TRANSCRIPTION_TIMEOUT"
	codeInferenceFailure    = "INFERENCE_FAILURE"
	codeInternal            = "INTERNAL_ERROR"
	codeUnauthorized        = "UNAUTHORIZED"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
}

// requestError is a client mistake caught by a handler before decoding.
type requestError struct {
	status int
	code   string
	detail string
}

func (e *requestError) Error() string { return e.detail }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, code: codeBadRequest, detail: fmt.Sprintf(format, args...)}
}

func tooLarge(maxBytes int64) error {
	limit := fmt.Sprintf("%d bytes", maxBytes)
	if maxBytes >= 1<<20 && maxBytes%(1<<20) == 0 {
		limit = fmt.Sprintf("%d MB", maxBytes>>20)
	}
	return &requestError{
		status: http.StatusRequestEntityTooLarge,
		code:   codePayloadTooLarge,
		detail: "File too large. Maximum allowed size is " + limit + ".",
	}
}

// classify maps a pipeline error to its HTTP status and body.
func (r *Router) classify(err error) (int, errorBody) {
	var reqErr *requestError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status, errorBody{Detail: reqErr.detail, ErrorCode: reqErr.code}
	case errors.As(err, &maxErr):
		return tooLargeStatus(r.cfg.MaxUploadBytes)
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, errorBody{Detail: err.Error(), ErrorCode: codeUnsupportedFormat}
	case errors.Is(err, audio.ErrCorruptAudio):
		return http.StatusUnprocessableEntity, errorBody{Detail: err.Error(), ErrorCode: codeCorruptAudio}
	case errors.Is(err, transcribe.ErrUnsupportedLanguage):
		return http.StatusBadRequest, errorBody{Detail: err.Error(), ErrorCode: codeUnsupportedLanguage}
	case errors.Is(err, dispatch.ErrOverloaded):
		return http.StatusServiceUnavailable, errorBody{Detail: "Server is busy. Retry shortly.", ErrorCode: codeOverloaded}
	case errors.Is(err, dispatch.ErrClosed):
		return http.StatusServiceUnavailable, errorBody{Detail: "Server is shutting down.", ErrorCode: codeShuttingDown}
	case errors.Is(err, dispatch.ErrTimeout):
		return http.StatusGatewayTimeout, errorBody{Detail: err.Error(), ErrorCode: codeTimeout}
	case errors.Is(err, dispatch.ErrInferenceFailure):
		return http.StatusInternalServerError, errorBody{Detail: "Transcription failed.", ErrorCode: codeInferenceFailure}
	default:
		return http.StatusInternalServerError, errorBody{Detail: "An internal server error occurred.", ErrorCode: codeInternal}
	}
}

func tooLargeStatus(maxBytes int64) (int, errorBody) {
	return http.StatusRequestEntityTooLarge, errorBody{Detail: tooLarge(maxBytes).Error(), ErrorCode: codePayloadTooLarge}
}

// writeError logs err, reports server faults to Sentry and writes the JSON
// error body. A request whose client has gone away gets no response.
func (r *Router) writeError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, context.Canceled) && req.Context().Err() != nil {
		r.logger.Debug("client went away", "request_id", RequestID(req.Context()))
		return
	}
	status, body := r.classify(err)
	r.logFailure(req, status, err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}

func (r *Router) logFailure(req *http.Request, status int, err error) {
	attrs := []any{"status", status, "error", err, "request_id", RequestID(req.Context())}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusGatewayTimeout {
		r.logger.Error("transcription failed", attrs...)
		captureError(req, err, "transcription failed")
		return
	}
	r.logger.Warn("request rejected", attrs...)
}
