// Package httpapi exposes the transcription pipeline over HTTP and WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/websocket"

	"github.com/chaz8081/gostt-server/internal/audio"
	"github.com/chaz8081/gostt-server/internal/dispatch"
	"github.com/chaz8081/gostt-server/internal/transcribe"
	"github.com/chaz8081/gostt-server/internal/transcript"
)

const defaultMaxUploadBytes = 25 << 20

// RouterConfig holds the settings the handlers read. It is fixed at startup.
type RouterConfig struct {
	Version        string
	AllowedOrigins []string

	// JWTSecret enables bearer auth on the transcription routes when set.
	JWTSecret string

	// MaxUploadBytes caps the raw audio size of one request.
	MaxUploadBytes int64
}

// Decoder turns uploaded bytes into a normalized buffer.
type Decoder interface {
	Normalize(ctx context.Context, raw []byte, filename string) (*audio.Buffer, error)
}

// Dispatcher runs decoded buffers through the model.
type Dispatcher interface {
	Submit(ctx context.Context, buf *audio.Buffer, lang transcribe.Language) (transcript.Transcript, error)
	Stats() dispatch.Stats
}

type Router struct {
	cfg        RouterConfig
	logger     *slog.Logger
	decoder    Decoder
	dispatcher Dispatcher
	info       transcribe.Info
	upgrader   websocket.Upgrader
	mux        *http.ServeMux
}

// NewRouter wires the routes and middleware. info is the immutable model
// description served by /health.
func NewRouter(cfg RouterConfig, logger *slog.Logger, dec Decoder, disp Dispatcher, info transcribe.Info) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	r := &Router{
		cfg:        cfg,
		logger:     logger,
		decoder:    dec,
		dispatcher: disp,
		info:       info,
		mux:        http.NewServeMux(),
	}
	r.upgrader = websocket.Upgrader{CheckOrigin: r.checkOrigin}

	r.routes()
	return withSentryRecovery(withRequestID(r.withLogging(r.withCORS(r.mux))))
}

func (r *Router) routes() {
	r.mux.HandleFunc("GET /{$}", r.handleRoot)
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /models", r.handleModels)
	r.mux.HandleFunc("GET /stats", r.handleStats)

	// Transcription routes are mounted unversioned and under /api/v1.
	for _, prefix := range []string{"", "/api/v1"} {
		r.mux.HandleFunc("POST "+prefix+"/transcribe", r.withAuth(r.handleTranscribe))
		r.mux.HandleFunc("POST "+prefix+"/transcribe/{$}", r.withAuth(r.handleTranscribe))
		r.mux.HandleFunc("POST "+prefix+"/transcribe/base64", r.withAuth(r.handleTranscribeBase64))
		r.mux.HandleFunc("GET "+prefix+"/ws/transcribe", r.withAuth(r.handleTranscribeWS))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				writeJSON(w, http.StatusInternalServerError, errorBody{
					Detail:    "An internal server error occurred.",
					ErrorCode: codeInternal,
				})
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func (r *Router) withCORS(next http.Handler) http.Handler {
	wildcard := slices.Contains(r.cfg.AllowedOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		switch {
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(r.cfg.AllowedOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID,Retry-After")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// checkOrigin applies the CORS origin list to WebSocket upgrades. Clients
// that send no Origin header are not browsers and are let through.
func (r *Router) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(r.cfg.AllowedOrigins, "*") || slices.Contains(r.cfg.AllowedOrigins, origin)
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetTag("request_id", RequestID(req.Context()))
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
