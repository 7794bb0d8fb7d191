package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/chaz8081/gostt-server/internal/audio"
	"github.com/chaz8081/gostt-server/internal/transcribe"
	"github.com/chaz8081/gostt-server/internal/transcript"
)

const (
	defaultFilename = "audio.wav"

	// formOverhead is allowed on top of the upload cap for multipart
	// boundaries and the other form fields.
	formOverhead = 1 << 20
	// multipartMemory is how much of a form is kept in memory before
	// spilling to temp files.
	multipartMemory = 32 << 20
)

// languagePattern accepts BCP-47 style codes such as "en" or "pt-BR".
var languagePattern = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)

// parseLanguage maps a request language field to a model language. Empty and
// "auto" request detection; region subtags are dropped.
func parseLanguage(s string) (transcribe.Language, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return transcribe.Auto(), nil
	}
	if !languagePattern.MatchString(s) {
		return transcribe.Language{}, badRequest("Invalid language code %q.", s)
	}
	primary, _, _ := strings.Cut(s, "-")
	return transcribe.Force(primary), nil
}

// transcribe decodes raw and runs it through the dispatcher. Decoding errors
// are returned before any dispatcher capacity is used.
func (r *Router) transcribe(ctx context.Context, raw []byte, filename, language string) (transcript.Transcript, error) {
	lang, err := parseLanguage(language)
	if err != nil {
		return transcript.Transcript{}, err
	}
	if filename == "" {
		filename = defaultFilename
	}

	r.logger.Info("received audio",
		"filename", filename,
		"bytes", len(raw),
		"language", lang,
		"request_id", RequestID(ctx),
	)

	buf, err := r.decoder.Normalize(ctx, raw, filename)
	if err != nil {
		return transcript.Transcript{}, err
	}
	return r.dispatcher.Submit(ctx, buf, lang)
}

func (r *Router) handleTranscribe(w http.ResponseWriter, req *http.Request) {
	maxBytes := r.cfg.MaxUploadBytes
	req.Body = http.MaxBytesReader(w, req.Body, maxBytes+formOverhead)

	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			r.writeError(w, req, tooLarge(maxBytes))
			return
		}
		r.writeError(w, req, badRequest("Invalid multipart form: %v.", err))
		return
	}
	defer func() { _ = req.MultipartForm.RemoveAll() }()

	file, header, err := req.FormFile("audio")
	if err != nil {
		r.writeError(w, req, badRequest("'audio' file field is required."))
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); !audio.IsSupportedMIME(ct) {
		r.writeError(w, req, &requestError{
			status: http.StatusUnsupportedMediaType,
			code:   codeUnsupportedFormat,
			detail: "Unsupported audio type '" + ct + "'. Supported: " + supportedTypes() + ".",
		})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		r.writeError(w, req, badRequest("Could not read upload: %v.", err))
		return
	}
	if int64(len(raw)) > maxBytes {
		r.writeError(w, req, tooLarge(maxBytes))
		return
	}
	if len(raw) == 0 {
		r.writeError(w, req, badRequest("Uploaded file is empty."))
		return
	}

	tr, err := r.transcribe(req.Context(), raw, header.Filename, req.FormValue("language"))
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

type base64Request struct {
	AudioBase64 string `json:"audio_base64"`
	Filename    string `json:"filename"`
	Language    string `json:"language"`
}

func (r *Router) handleTranscribeBase64(w http.ResponseWriter, req *http.Request) {
	maxBytes := r.cfg.MaxUploadBytes
	req.Body = http.MaxBytesReader(w, req.Body, int64(base64.StdEncoding.EncodedLen(int(maxBytes)))+formOverhead)

	var body base64Request
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			r.writeError(w, req, tooLarge(maxBytes))
			return
		}
		r.writeError(w, req, badRequest("Invalid JSON body."))
		return
	}
	if body.AudioBase64 == "" {
		r.writeError(w, req, badRequest("'audio_base64' field is required."))
		return
	}

	raw, err := base64.StdEncoding.DecodeString(body.AudioBase64)
	if err != nil {
		r.writeError(w, req, badRequest("Invalid base64 encoding in 'audio_base64'."))
		return
	}
	if int64(len(raw)) > maxBytes {
		r.writeError(w, req, tooLarge(maxBytes))
		return
	}

	tr, err := r.transcribe(req.Context(), raw, body.Filename, body.Language)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func supportedTypes() string {
	types := make([]string, 0, len(audio.SupportedMIMETypes))
	for ct := range audio.SupportedMIMETypes {
		types = append(types, ct)
	}
	sort.Strings(types)
	return strings.Join(types, ", ")
}
