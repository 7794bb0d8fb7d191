package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBaseURL hosts the ggml conversions of the whisper weights.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// Downloader fetches model weights into a models directory.
type Downloader struct {
	BaseURL string
	Client  *http.Client
	// Progress receives human-readable progress lines; nil discards them.
	Progress io.Writer
}

// NewDownloader returns a Downloader against the default mirror.
func NewDownloader(progress io.Writer) *Downloader {
	return &Downloader{BaseURL: DefaultBaseURL, Client: http.DefaultClient, Progress: progress}
}

// Download fetches the weights for id into dir unless they are already
// present, and returns the file path. The file is written to a temp name and
// renamed into place so a partial download is never mistaken for a model.
func (d *Downloader) Download(ctx context.Context, dir, id string) (string, error) {
	m, ok := Lookup(id)
	if !ok {
		return "", fmt.Errorf("models: %q: %w", id, ErrUnknownModel)
	}
	out := d.Progress
	if out == nil {
		out = io.Discard
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("models: creating models dir: %w", err)
	}
	destPath := filepath.Join(dir, m.File)

	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		fmt.Fprintf(out, "  Model %s already exists: %s (%.0f MB)\n", id, destPath, float64(info.Size())/(1024*1024))
		return destPath, nil
	}

	url := strings.TrimRight(d.BaseURL, "/") + "/" + m.File
	fmt.Fprintf(out, "  Downloading %s (~%d MB)\n", id, m.SizeMB)
	fmt.Fprintf(out, "  URL: %s\n", url)
	fmt.Fprintf(out, "  Destination: %s\n", destPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("models: building request: %w", err)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("models: downloading %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("models: download %s failed: HTTP %d", id, resp.StatusCode)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("models: creating temp file: %w", err)
	}

	pw := &progressWriter{writer: f, out: out, total: resp.ContentLength, label: m.File}
	written, err := io.Copy(pw, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("models: writing %s: %w", m.File, err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(tmpPath)
		return "", fmt.Errorf("models: short download for %s: %d of %d bytes", m.File, written, resp.ContentLength)
	}

	fmt.Fprintf(out, "\n  Downloaded %.1f MB\n", float64(written)/(1024*1024))

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("models: moving model file: %w", err)
	}
	return destPath, nil
}

// progressWriter wraps an io.Writer and reports download progress to out.
type progressWriter struct {
	writer  io.Writer
	out     io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB / %.1f MB (%.0f%%)",
			pw.label,
			float64(pw.written)/(1024*1024),
			float64(pw.total)/(1024*1024),
			pct)
	} else {
		fmt.Fprintf(pw.out, "\r  %s: %.1f MB downloaded",
			pw.label,
			float64(pw.written)/(1024*1024))
	}
	return n, err
}
