package engine

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"audiomate/internal/domain"
)

//go:embed assets/whisper_worker.py
var workerScript []byte

// WorkerConfig configures the faster-whisper worker process.
type WorkerConfig struct {
	Python      string
	CacheDir    string
	LoadTimeout time.Duration
}

// workerRequest is one transcription request line.
type workerRequest struct {
	ID        string `json:"id"`
	Audio     string `json:"audio"`
	Language  string `json:"language,omitempty"`
	BeamSize  int    `json:"beamSize"`
	VADFilter bool   `json:"vadFilter"`
}

// workerEvent is one line emitted by the worker.
type workerEvent struct {
	Event               string  `json:"event"`
	ID                  string  `json:"id,omitempty"`
	Start               float64 `json:"start,omitempty"`
	End                 float64 `json:"end,omitempty"`
	Text                string  `json:"text,omitempty"`
	Language            string  `json:"language,omitempty"`
	LanguageProbability float64 `json:"languageProbability,omitempty"`
	Duration            float64 `json:"duration,omitempty"`
	Kind                string  `json:"kind,omitempty"`
	Message             string  `json:"message,omitempty"`
}

// FasterWhisper is a loaded faster-whisper model served by a Python worker.
// One stream may be open at a time.
type FasterWhisper struct {
	profile Profile
	logger  zerolog.Logger

	stdin  io.WriteCloser
	events chan workerEvent
	done   chan struct{}
	stderr *tailBuffer
	wait   func() error
	kill   func() error

	mu      sync.Mutex
	busy    bool
	dead    bool
	seq     int
	cleanup func()
	once    sync.Once
}

// NewFasterWhisperLoader returns a Loader that starts one worker per profile.
func NewFasterWhisperLoader(cfg WorkerConfig) Loader {
	return func(ctx context.Context, p Profile) (Engine, error) {
		return StartFasterWhisper(ctx, cfg, p)
	}
}

// StartFasterWhisper launches the worker and waits until the model is loaded.
func StartFasterWhisper(ctx context.Context, cfg WorkerConfig, p Profile) (*FasterWhisper, error) {
	python := cfg.Python
	if strings.TrimSpace(python) == "" {
		python = "python3"
	}

	scriptDir, err := os.MkdirTemp("", "audiomate-worker-*")
	if err != nil {
		return nil, fmt.Errorf("create worker dir: %w", err)
	}
	scriptPath := filepath.Join(scriptDir, "whisper_worker.py")
	if err := os.WriteFile(scriptPath, workerScript, 0o644); err != nil {
		_ = os.RemoveAll(scriptDir)
		return nil, fmt.Errorf("write worker script: %w", err)
	}

	args := []string{
		scriptPath,
		"--model", p.Model,
		"--device", p.Device,
		"--compute-type", p.ComputeType,
	}
	if cfg.CacheDir != "" {
		args = append(args, "--download-root", cfg.CacheDir)
	}

	// The worker outlives the request context that first loads it.
	cmd := exec.Command(python, args...)
	stderr := newTailBuffer(64 * 1024)
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = os.RemoveAll(scriptDir)
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = os.RemoveAll(scriptDir)
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(scriptDir)
		return nil, fmt.Errorf("start %s: %w", python, err)
	}

	w := newFasterWhisper(p, stdin, stdout, stderr, cmd.Wait, func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	})
	w.cleanup = func() { _ = os.RemoveAll(scriptDir) }

	loadCtx := ctx
	if cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, cfg.LoadTimeout)
		defer cancel()
	}
	if err := w.awaitReady(loadCtx); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// newFasterWhisper wires a worker over arbitrary pipes.
func newFasterWhisper(p Profile, stdin io.WriteCloser, stdout io.Reader, stderr *tailBuffer, wait, kill func() error) *FasterWhisper {
	w := &FasterWhisper{
		profile: p,
		logger:  log.With().Str("component", "faster-whisper").Str("profile", p.String()).Logger(),
		stdin:   stdin,
		events:  make(chan workerEvent),
		done:    make(chan struct{}),
		stderr:  stderr,
		wait:    wait,
		kill:    kill,
	}
	go w.readLoop(stdout)
	return w
}

// readLoop forwards decoded events. The channel is unbuffered so the worker
// is never read ahead of the consumer beyond the pipe buffer.
func (w *FasterWhisper) readLoop(stdout io.Reader) {
	defer close(w.events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var ev workerEvent
		if err := json.Unmarshal(line, &ev); err != nil || ev.Event == "" {
			w.logger.Debug().Bytes("line", line).Msg("ignoring non-event worker output")
			continue
		}
		select {
		case w.events <- ev:
		case <-w.done:
			return
		}
	}
}

func (w *FasterWhisper) awaitReady(ctx context.Context) error {
	for {
		ev, err := w.recv(ctx)
		if err != nil {
			return err
		}
		switch ev.Event {
		case "ready":
			w.logger.Info().Msg("speech model ready")
			return nil
		case "error":
			return w.eventError(ev)
		}
	}
}

// recv waits for the next event. Cancellation kills the worker since its
// position in the protocol can no longer be trusted.
func (w *FasterWhisper) recv(ctx context.Context) (workerEvent, error) {
	select {
	case <-ctx.Done():
		w.markDead()
		_ = w.kill()
		return workerEvent{}, ctx.Err()
	case ev, ok := <-w.events:
		if !ok {
			w.markDead()
			return workerEvent{}, w.exitError()
		}
		return ev, nil
	}
}

func (w *FasterWhisper) exitError() error {
	tail := ""
	if w.stderr != nil {
		tail = w.stderr.String()
	}
	if strings.TrimSpace(tail) == "" {
		return fmt.Errorf("%w: worker exited", ErrEngineClosed)
	}
	return classifyFailure(w.profile.Device, tail, ErrEngineClosed)
}

func (w *FasterWhisper) eventError(ev workerEvent) error {
	if ev.Kind == "device_fault" {
		w.markDead()
		return &DeviceFaultError{Device: w.profile.Device, Detail: ev.Message}
	}
	return errors.New(ev.Message)
}

func (w *FasterWhisper) markDead() {
	w.mu.Lock()
	w.dead = true
	w.mu.Unlock()
}

// Alive reports whether the worker can still serve requests.
func (w *FasterWhisper) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.dead
}

// Profile returns the loaded configuration.
func (w *FasterWhisper) Profile() Profile {
	return w.profile
}

// Transcribe sends one request and returns once language detection is known.
func (w *FasterWhisper) Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, LanguageInfo, error) {
	w.mu.Lock()
	if w.dead {
		w.mu.Unlock()
		return nil, LanguageInfo{}, ErrEngineClosed
	}
	if w.busy {
		w.mu.Unlock()
		return nil, LanguageInfo{}, ErrEngineBusy
	}
	w.busy = true
	w.seq++
	id := fmt.Sprintf("req-%d", w.seq)
	w.mu.Unlock()

	req, err := json.Marshal(workerRequest{
		ID:        id,
		Audio:     audioPath,
		Language:  normalizeLanguage(opts.Language),
		BeamSize:  opts.BeamSize,
		VADFilter: opts.VADFilter,
	})
	if err != nil {
		w.release()
		return nil, LanguageInfo{}, err
	}
	if _, err := w.stdin.Write(append(req, '\n')); err != nil {
		w.release()
		w.markDead()
		return nil, LanguageInfo{}, fmt.Errorf("send request: %w", err)
	}

	stream := &workerStream{w: w, id: id}
	for {
		ev, err := w.recv(ctx)
		if err != nil {
			stream.finish()
			return nil, LanguageInfo{}, err
		}
		if ev.ID != id {
			continue
		}
		switch ev.Event {
		case "info":
			return stream, LanguageInfo{Language: ev.Language, Probability: ev.LanguageProbability}, nil
		case "done":
			stream.finish()
			return stream, LanguageInfo{}, nil
		case "error":
			stream.finish()
			return nil, LanguageInfo{}, w.eventError(ev)
		}
	}
}

func (w *FasterWhisper) release() {
	w.mu.Lock()
	w.busy = false
	w.mu.Unlock()
}

// Close stops the worker process.
func (w *FasterWhisper) Close() error {
	var err error
	w.once.Do(func() {
		w.markDead()
		close(w.done)
		_ = w.stdin.Close()
		if w.kill != nil {
			_ = w.kill()
		}
		if w.wait != nil {
			if waitErr := w.wait(); waitErr != nil && !isKilled(waitErr) {
				err = waitErr
			}
		}
		if w.cleanup != nil {
			w.cleanup()
		}
	})
	return err
}

func isKilled(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// workerStream is the segment stream of one request.
type workerStream struct {
	w        *FasterWhisper
	id       string
	finished bool
}

func (s *workerStream) finish() {
	if s.finished {
		return
	}
	s.finished = true
	s.w.release()
}

// Next pulls one segment from the worker.
func (s *workerStream) Next(ctx context.Context) (domain.Segment, error) {
	if s.finished {
		return domain.Segment{}, io.EOF
	}
	for {
		ev, err := s.w.recv(ctx)
		if err != nil {
			s.finish()
			return domain.Segment{}, err
		}
		if ev.ID != s.id {
			continue
		}
		switch ev.Event {
		case "segment":
			return domain.Segment{Start: ev.Start, End: ev.End, Text: ev.Text}, nil
		case "done":
			s.finish()
			return domain.Segment{}, io.EOF
		case "error":
			s.finish()
			return domain.Segment{}, s.w.eventError(ev)
		}
	}
}

// Close abandons the request. A worker still producing segments for it is
// stopped, and the cache will start a fresh one on next use.
func (s *workerStream) Close() error {
	if s.finished {
		return nil
	}
	s.finish()
	s.w.markDead()
	return s.w.kill()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = append([]byte(nil), t.buf[len(t.buf)-t.max:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
