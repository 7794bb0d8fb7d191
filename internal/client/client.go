// Package client talks to a running gostt-server.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chaz8081/gostt-server/internal/dispatch"
	"github.com/chaz8081/gostt-server/internal/transcript"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gostt: http %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("gostt: http %d %s: %s", e.StatusCode, e.Code, e.Detail)
}

// Overloaded reports whether the server rejected the request for lack of
// capacity.
func (e *APIError) Overloaded() bool {
	return e.StatusCode == http.StatusServiceUnavailable && e.Code == "OVERLOADED"
}

// Health mirrors the server's /health document.
type Health struct {
	Status       string `json:"status"`
	ModelLoaded  bool   `json:"model_loaded"`
	WhisperModel string `json:"whisper_model"`
	Version      string `json:"version"`
	Backend      string `json:"backend"`
}

// ModelList mirrors the server's /models document.
type ModelList struct {
	Models       []string          `json:"models"`
	CurrentModel string            `json:"current_model"`
	Description  map[string]string `json:"description"`
}

// Client is a gostt-server API client. The zero value is not usable; call New.
type Client struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// Retries is how many times an overloaded request is retried, waiting
	// for the server's Retry-After between attempts.
	Retries int
	HTTP    *http.Client
}

// New returns a client for the server at baseURL.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Minute},
	}
}

// TranscribeFile uploads the file at path. An empty language asks the
// server to detect it.
func (c *Client) TranscribeFile(ctx context.Context, path, language string) (transcript.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return transcript.Transcript{}, fmt.Errorf("gostt: reading %s: %w", path, err)
	}
	return c.Transcribe(ctx, data, filepath.Base(path), language)
}

// Transcribe uploads data as a multipart form.
func (c *Client) Transcribe(ctx context.Context, data []byte, filename, language string) (transcript.Transcript, error) {
	var tr transcript.Transcript
	err := c.withRetry(ctx, func() error {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("audio", filename)
		if err != nil {
			return err
		}
		if _, err := fw.Write(data); err != nil {
			return err
		}
		if language != "" {
			if err := mw.WriteField("language", language); err != nil {
				return err
			}
		}
		if err := mw.Close(); err != nil {
			return err
		}
		return c.do(ctx, http.MethodPost, "/transcribe/", mw.FormDataContentType(), &body, &tr)
	})
	return tr, err
}

// TranscribeBase64 sends data through the JSON base64 endpoint.
func (c *Client) TranscribeBase64(ctx context.Context, data []byte, filename, language string) (transcript.Transcript, error) {
	payload, err := json.Marshal(map[string]string{
		"audio_base64": base64.StdEncoding.EncodeToString(data),
		"filename":     filename,
		"language":     language,
	})
	if err != nil {
		return transcript.Transcript{}, err
	}
	var tr transcript.Transcript
	err = c.withRetry(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/transcribe/base64", "application/json", bytes.NewReader(payload), &tr)
	})
	return tr, err
}

// Health fetches /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/health", "", nil, &h)
	return h, err
}

// Models fetches /models.
func (c *Client) Models(ctx context.Context) (ModelList, error) {
	var m ModelList
	err := c.do(ctx, http.MethodGet, "/models", "", nil, &m)
	return m, err
}

// Stats fetches the dispatcher snapshot from /stats.
func (c *Client) Stats(ctx context.Context) (dispatch.Stats, error) {
	var s dispatch.Stats
	err := c.do(ctx, http.MethodGet, "/stats", "", nil, &s)
	return s, err
}

func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Overloaded() || attempt >= c.Retries {
			return err
		}
		select {
		case <-time.After(apiErr.RetryAfter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("gostt: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gostt: decoding %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Detail    string `json:"detail"`
		ErrorCode string `json:"error_code"`
	}
	if json.Unmarshal(b, &body) == nil && body.Detail != "" {
		apiErr.Detail = body.Detail
		apiErr.Code = body.ErrorCode
	} else {
		apiErr.Detail = strings.TrimSpace(string(b))
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	} else if resp.StatusCode == http.StatusServiceUnavailable {
		apiErr.RetryAfter = time.Second
	}
	return apiErr
}
