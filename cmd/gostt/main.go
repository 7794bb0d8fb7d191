// Command gostt is a command-line client for gostt-server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/chaz8081/gostt-server/internal/audio"
	"github.com/chaz8081/gostt-server/internal/client"
	"github.com/chaz8081/gostt-server/internal/config"
	"github.com/chaz8081/gostt-server/internal/models"
	"github.com/chaz8081/gostt-server/internal/transcribe"
	"github.com/chaz8081/gostt-server/internal/transcript"
)

const usage = `usage: gostt <command> [flags]

commands:
  transcribe <file>...   send audio files to the server
  record                 capture from the microphone and transcribe
  eval <manifest.tsv>    transcribe a labelled set and report word error rate
  health                 show server health and queue stats
  models                 list model variants and which are installed
  download <model>       fetch a whisper model into the models directory
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "transcribe":
		err = runTranscribe(ctx, args)
	case "record":
		err = runRecord(ctx, args)
	case "eval":
		err = runEval(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "models":
		err = runModels(args)
	case "download":
		err = runDownload(ctx, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

// serverFlags registers the flags shared by every command that talks to the
// server.
func serverFlags(fs *flag.FlagSet) func() *client.Client {
	server := fs.String("server", envOr("GOSTT_SERVER", "http://localhost:8000"), "server base URL")
	token := fs.String("token", os.Getenv("GOSTT_TOKEN"), "bearer token")
	retries := fs.Int("retries", 2, "retries when the server is overloaded")
	return func() *client.Client {
		c := client.New(*server, *token)
		c.Retries = *retries
		return c
	}
}

func runTranscribe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	newClient := serverFlags(fs)
	language := fs.String("language", "", "force a language code (default: detect)")
	asJSON := fs.Bool("json", false, "print the full JSON response")
	segments := fs.Bool("segments", false, "print timed segments")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("transcribe: no input files")
	}

	c := newClient()
	for _, path := range fs.Args() {
		start := time.Now()
		tr, err := c.TranscribeFile(ctx, path, *language)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		printTranscript(path, tr, time.Since(start), *asJSON, *segments)
	}
	return nil
}

func runRecord(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	newClient := serverFlags(fs)
	language := fs.String("language", "", "force a language code (default: detect)")
	duration := fs.Duration("duration", 0, "stop after this long (default: press Enter)")
	out := fs.String("out", "", "also save the recording as a WAV file")
	rate := fs.Uint("rate", 16000, "capture sample rate")
	channels := fs.Uint("channels", 1, "capture channels")
	_ = fs.Parse(args)

	rec, err := audio.NewRecorder(uint32(*rate), uint32(*channels))
	if err != nil {
		return fmt.Errorf("%w\n\nEnsure microphone access is granted for this terminal.", err)
	}
	defer rec.Close()

	if err := rec.Start(); err != nil {
		return err
	}
	if *duration > 0 {
		color.Cyan("Recording for %s...", *duration)
	} else {
		color.Cyan("Recording... press Enter to stop.")
	}
	waitForStop(ctx, *duration)

	buf, err := rec.Stop()
	if err != nil {
		return err
	}
	if buf.Duration() < 300*time.Millisecond {
		return fmt.Errorf("recording too short (%s)", buf.Duration().Round(time.Millisecond))
	}

	wav, err := audio.EncodeWAV(buf)
	if err != nil {
		return err
	}
	if *out != "" {
		if err := os.WriteFile(*out, wav, 0o644); err != nil {
			return err
		}
		fmt.Println("Saved", *out)
	}

	fmt.Printf("Captured %.1fs, transcribing...\n", buf.Duration().Seconds())
	start := time.Now()
	tr, err := newClient().Transcribe(context.WithoutCancel(ctx), wav, "recording.wav", *language)
	if err != nil {
		return err
	}
	printTranscript("recording", tr, time.Since(start), false, false)
	return nil
}

// waitForStop blocks until Enter is pressed, d elapses (when non-zero) or
// ctx ends.
func waitForStop(ctx context.Context, d time.Duration) {
	enter := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(enter)
	}()
	var timeout <-chan time.Time
	if d > 0 {
		timeout = time.After(d)
	}
	select {
	case <-enter:
	case <-timeout:
	case <-ctx.Done():
	}
}

// runEval reads a tab-separated manifest of "audio path<TAB>reference text"
// lines, relative paths resolved against the manifest's directory.
func runEval(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	newClient := serverFlags(fs)
	language := fs.String("language", "", "force a language code (default: detect)")
	maxWER := fs.Float64("max-wer", 0, "fail when corpus WER exceeds this (0 disables)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("eval: expected one manifest file")
	}

	manifest := fs.Arg(0)
	f, err := os.Open(manifest)
	if err != nil {
		return err
	}
	defer f.Close()

	c := newClient()
	base := filepath.Dir(manifest)
	var pairs [][2]string
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		path, ref, ok := strings.Cut(text, "\t")
		if !ok {
			return fmt.Errorf("%s:%d: expected <path>\\t<reference>", manifest, line)
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(base, path)
		}

		tr, err := c.TranscribeFile(ctx, path, *language)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		res := transcribe.ComputeWER(ref, tr.Text)
		pairs = append(pairs, [2]string{ref, tr.Text})

		status := color.GreenString("%5.1f%%", res.WER*100)
		if res.WER > 0.2 {
			status = color.YellowString("%5.1f%%", res.WER*100)
		}
		fmt.Printf("%s  %s\n", status, filepath.Base(path))
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(pairs) == 0 {
		return errors.New("eval: manifest has no entries")
	}

	total := transcribe.CorpusWER(pairs)
	fmt.Printf("\n%d files, corpus %s\n", len(pairs), total)
	if *maxWER > 0 && total.WER > *maxWER {
		return fmt.Errorf("corpus WER %.3f exceeds %.3f", total.WER, *maxWER)
	}
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	newClient := serverFlags(fs)
	_ = fs.Parse(args)

	c := newClient()
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	loaded := color.RedString("not loaded")
	if h.ModelLoaded {
		loaded = color.GreenString("loaded")
	}
	fmt.Printf("status:  %s (version %s)\n", h.Status, h.Version)
	fmt.Printf("model:   %s via %s, %s\n", h.WhisperModel, h.Backend, loaded)

	s, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("workers: %d busy of %d, %d queued of %d\n", s.Busy, s.Workers, s.Queued, s.QueueDepth)
	fmt.Printf("totals:  %d accepted, %d rejected, %d completed, %d failed, %d timed out\n",
		s.Accepted, s.Rejected, s.Completed, s.Failed, s.TimedOut)
	return nil
}

func runModels(args []string) error {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	dir := fs.String("dir", config.DefaultModelsDir(), "models directory")
	_ = fs.Parse(args)

	for _, m := range models.Catalog {
		mark := "  "
		if models.Installed(*dir, m.ID) {
			mark = color.GreenString("✓ ")
		}
		fmt.Printf("%s%-9s %6d MB  %s\n", mark, m.ID, m.SizeMB, m.Description)
	}
	return nil
}

func runDownload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	dir := fs.String("dir", config.DefaultModelsDir(), "models directory")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("download: expected one of %s", strings.Join(models.IDs(), ", "))
	}

	path, err := models.NewDownloader(os.Stderr).Download(ctx, *dir, fs.Arg(0))
	if err != nil {
		return err
	}
	color.Green("Model ready at %s", path)
	return nil
}

func printTranscript(name string, tr transcript.Transcript, elapsed time.Duration, asJSON, segments bool) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(tr)
		return
	}
	color.New(color.FgHiBlack).Printf("%s  [%s, %.1fs audio, %s]\n",
		name, tr.Language, tr.Duration, elapsed.Round(time.Millisecond))
	if segments {
		for _, s := range tr.Segments {
			fmt.Printf("  [%7.2f → %7.2f] %s\n", s.Start, s.End, s.Text)
		}
		return
	}
	if tr.Text == "" {
		color.Yellow("(no speech detected)")
		return
	}
	fmt.Println(tr.Text)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
