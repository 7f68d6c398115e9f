package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"

	"github.com/italolelis/model_downloader/internal/catalog"
	"github.com/italolelis/model_downloader/internal/cleanup"
	"github.com/italolelis/model_downloader/internal/event"
	"github.com/italolelis/model_downloader/internal/logctx"
	"github.com/italolelis/model_downloader/internal/telemetry"
	"github.com/italolelis/model_downloader/internal/transfer"
	"github.com/italolelis/model_downloader/internal/validate"
)

const (
	eventBuffer  = 64
	resultBuffer = 16
	tempSuffix   = ".tmp"
	lockSuffix   = ".lock"
)

var (
	ErrAlreadyInProgress = errors.New("download already in progress")
	ErrUnknownArtifact   = errors.New("model not found")
	ErrAllMethodsFailed  = errors.New("all methods failed")
	ErrIntegrity         = errors.New("integrity check failed")
)

// Outcome is the terminal result of a download.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Result describes a finished download.
type Result struct {
	ModelID   string
	ModelName string
	Method    string
	Outcome   Outcome
	Duration  time.Duration
	Err       error
}

// ModelInfo is the catalog view of one artifact.
type ModelInfo struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Filename      string  `json:"filename"`
	SizeGB        float64 `json:"size_gb"`
	IsDownloaded  bool    `json:"is_downloaded"`
	IsDownloading bool    `json:"is_downloading"`
}

// ModelStatus is the detailed state of one artifact.
type ModelStatus struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	IsDownloaded  bool    `json:"is_downloaded"`
	IsDownloading bool    `json:"is_downloading"`
	Progress      int     `json:"progress"`
	FilePath      *string `json:"file_path"`
}

// Options tunes retry and cancellation behaviour.
type Options struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	CancelGrace  time.Duration
}

type activeDownload struct {
	state *transfer.State
	temp  string
	lock  *flock.Flock
}

// Downloader drives catalog artifacts through the external transfer tools.
// At most one download per artifact runs at a time.
type Downloader struct {
	catalog   *catalog.Catalog
	builder   transfer.Builder
	runner    transfer.Runner
	telemetry *telemetry.Telemetry
	opts      Options

	mu     sync.Mutex
	active map[string]*activeDownload

	OnDownloadFinished chan Result
	OnDownloadFailed   chan Result
}

// New creates a downloader for the given catalog.
func New(cat *catalog.Catalog, builder transfer.Builder, runner transfer.Runner, tel *telemetry.Telemetry, opts Options) *Downloader {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	return &Downloader{
		catalog:            cat,
		builder:            builder,
		runner:             runner,
		telemetry:          tel,
		opts:               opts,
		active:             make(map[string]*activeDownload),
		OnDownloadFinished: make(chan Result, resultBuffer),
		OnDownloadFailed:   make(chan Result, resultBuffer),
	}
}

// Start begins downloading the artifact id and returns the channel its
// events are delivered on. The channel is closed after the terminal event.
// Guard failures are returned synchronously and nothing is spawned.
func (d *Downloader) Start(ctx context.Context, id string) (<-chan event.Event, error) {
	entry, ok := d.catalog.Get(id)
	if !ok {
		return nil, ErrUnknownArtifact
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.active[id]; busy {
		return nil, ErrAlreadyInProgress
	}

	if target, err := securejoin.SecureJoin(d.catalog.DownloadPath, entry.Filename); err == nil && fileExists(target) {
		ch := make(chan event.Event, 1)
		ch <- event.Completed{Progress: 100, Message: "Already downloaded"}
		close(ch)

		return ch, nil
	}

	lockPath, err := securejoin.SecureJoin(d.catalog.TempPath, id+lockSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve lock path: %w", err)
	}

	lock := flock.New(lockPath)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire download lock: %w", err)
	}

	if !locked {
		return nil, ErrAlreadyInProgress
	}

	state := transfer.NewState(id)
	d.active[id] = &activeDownload{state: state, temp: entry.Filename + tempSuffix, lock: lock}

	ch := make(chan event.Event, eventBuffer)

	go d.run(ctx, entry, state, ch)

	return ch, nil
}

// Cancel requests cancellation of an active download and sweeps leftover
// temp files once it has stopped. It reports false when id is not active.
func (d *Downloader) Cancel(ctx context.Context, id string) bool {
	logger := logctx.LoggerFromContext(ctx).With("model_id", id)

	d.mu.Lock()
	dl, ok := d.active[id]
	d.mu.Unlock()

	if !ok {
		return false
	}

	dl.state.Cancel()

	timer := time.NewTimer(d.opts.CancelGrace)
	defer timer.Stop()

	select {
	case <-dl.state.Done():
	case <-timer.C:
		logger.WarnContext(ctx, "download did not stop within grace period", "grace", d.opts.CancelGrace)
	}

	removed := cleanup.SweepTempFiles(ctx, d.catalog.TempPath, d.isActiveTemp)

	logger.InfoContext(ctx, "download cancelled", "temp_files_removed", removed)

	return true
}

// Models lists every catalog artifact in catalog order.
func (d *Downloader) Models() []ModelInfo {
	models := make([]ModelInfo, 0, len(d.catalog.Models))

	for _, entry := range d.catalog.Models {
		target, err := securejoin.SecureJoin(d.catalog.DownloadPath, entry.Filename)

		models = append(models, ModelInfo{
			ID:            entry.ID,
			Name:          entry.Name,
			Filename:      entry.Filename,
			SizeGB:        entry.SizeGB,
			IsDownloaded:  err == nil && fileExists(target),
			IsDownloading: d.isActive(entry.ID),
		})
	}

	return models
}

// Status reports the state of a single artifact.
func (d *Downloader) Status(id string) (ModelStatus, error) {
	entry, ok := d.catalog.Get(id)
	if !ok {
		return ModelStatus{}, ErrUnknownArtifact
	}

	status := ModelStatus{ID: entry.ID, Name: entry.Name}

	if target, err := securejoin.SecureJoin(d.catalog.DownloadPath, entry.Filename); err == nil && fileExists(target) {
		status.IsDownloaded = true
		status.FilePath = &target
	}

	d.mu.Lock()
	if dl, busy := d.active[id]; busy {
		status.IsDownloading = true
		status.Progress = dl.state.Progress()
	}
	d.mu.Unlock()

	return status, nil
}

// ActiveCount returns the number of downloads in flight.
func (d *Downloader) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.active)
}

func (d *Downloader) isActive(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.active[id]

	return ok
}

// isActiveTemp reports whether name is the temp file of a download that is
// still running.
func (d *Downloader) isActiveTemp(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, dl := range d.active {
		if dl.temp == name && !dl.state.IsCancelled() {
			return true
		}
	}

	return false
}

func (d *Downloader) run(ctx context.Context, entry catalog.Entry, state *transfer.State, ch chan<- event.Event) {
	ctx = logctx.WithModelID(ctx, entry.ID)
	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	emit := func(ev event.Event) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	var method string

	err := d.telemetry.InstrumentDownload(ctx, outcomeLabel, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(ctx, "download panic",
					"operation", "download",
					"panic", r,
					"stack", string(debug.Stack()))
				d.telemetry.RecordSystemError(ctx, "downloader", "panic")

				emit(event.Error{Message: "Internal error"})

				err = fmt.Errorf("download panicked: %v", r)
			}
		}()

		method, err = d.download(ctx, entry, state, emit)

		return err
	})

	d.release(ctx, entry.ID)
	state.Finish()
	close(ch)

	res := Result{
		ModelID:   entry.ID,
		ModelName: entry.Name,
		Method:    method,
		Outcome:   Outcome(outcomeLabel(err)),
		Duration:  time.Since(start),
		Err:       err,
	}

	logger.InfoContext(ctx, "download finished",
		"outcome", res.Outcome,
		"method", method,
		"elapsed", res.Duration.Round(time.Millisecond).String(),
	)

	switch res.Outcome {
	case OutcomeCompleted:
		publish(d.OnDownloadFinished, res)
	case OutcomeFailed:
		publish(d.OnDownloadFailed, res)
	}
}

// download walks the entry's methods in order and returns the method that
// committed the artifact.
func (d *Downloader) download(ctx context.Context, entry catalog.Entry, state *transfer.State, emit func(event.Event)) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	emit(event.Started{ModelID: entry.ID, ModelName: entry.Name})

	total := len(entry.Methods)

	for i, m := range entry.Methods {
		if state.IsCancelled() {
			emit(event.Cancelled{Message: "Cancelled by user"})

			return "", transfer.ErrCancelled
		}

		emit(event.Info{Message: fmt.Sprintf("method %d/%d: %s", i+1, total, m.Kind)})

		if !validate.Source(m.URL, d.catalog.AllowedDomains) {
			logger.WarnContext(ctx, "source url rejected", "method", m.Kind, "url", m.URL)
			emit(event.Warning{Message: "URL not allowed: " + m.Kind})

			continue
		}

		target, temp, err := d.paths(entry.Filename)
		if err != nil || !validate.Filename(entry.Filename) {
			logger.WarnContext(ctx, "filename rejected", "filename", entry.Filename, "err", err)
			emit(event.Error{Message: "Invalid filename"})

			return "", &transfer.ValidationError{Field: "filename", Value: entry.Filename, Reason: "not a safe model file name", Err: err}
		}

		err = d.tryMethod(ctx, entry, m, temp, target, state, emit)
		if err == nil {
			emit(event.Completed{Progress: 100, Method: m.Kind})

			return m.Kind, nil
		}

		if errors.Is(err, transfer.ErrCancelled) || ctx.Err() != nil {
			return "", err
		}

		logger.WarnContext(ctx, "method exhausted", "method", m.Kind, "err", err)
		emit(event.Warning{Message: fmt.Sprintf("Failed after %d attempts", d.opts.MaxAttempts)})
	}

	emit(event.Error{Message: "All methods failed"})

	return "", ErrAllMethodsFailed
}

// tryMethod runs up to MaxAttempts attempts of one method. The temp file is
// removed after every failed attempt.
func (d *Downloader) tryMethod(
	ctx context.Context,
	entry catalog.Entry,
	m catalog.Method,
	temp, target string,
	state *transfer.State,
	emit func(event.Event),
) error {
	logger := logctx.LoggerFromContext(ctx).With("method", m.Kind)

	var lastErr error

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			emit(event.Info{Message: fmt.Sprintf("Attempt %d/%d", attempt, d.opts.MaxAttempts)})

			if err := d.backoff(ctx, state); err != nil {
				if errors.Is(err, transfer.ErrCancelled) {
					emit(event.Cancelled{Message: "Cancelled by user"})
				}

				return err
			}
		}

		err := d.attempt(ctx, entry, m, temp, target, state, emit)
		if err == nil {
			return nil
		}

		removeFile(ctx, temp)

		if errors.Is(err, transfer.ErrCancelled) || ctx.Err() != nil {
			return err
		}

		logger.WarnContext(ctx, "attempt failed", "attempt", attempt, "max_attempts", d.opts.MaxAttempts, "err", err)

		lastErr = err
	}

	return lastErr
}

func (d *Downloader) attempt(
	ctx context.Context,
	entry catalog.Entry,
	m catalog.Method,
	temp, target string,
	state *transfer.State,
	emit func(event.Event),
) error {
	return d.telemetry.InstrumentAttempt(ctx, m.Kind, func(ctx context.Context) error {
		args, err := d.builder.Build(m.Kind, m.URL, temp)
		if err != nil {
			return err
		}

		observed := func(ev event.Event) {
			if _, ok := ev.(event.Progress); ok {
				d.telemetry.RecordProgressEvent(ctx, m.Kind)
			}

			emit(ev)
		}

		a := transfer.Attempt{Method: m.Kind, Args: args, SizeGB: entry.SizeGB}
		if err := d.runner.Run(ctx, a, state, observed); err != nil {
			return err
		}

		size, err := verify(temp, entry.SHA256)
		if err != nil {
			return err
		}

		if err := os.Rename(temp, target); err != nil {
			return fmt.Errorf("failed to commit download: %w", err)
		}

		logctx.LoggerFromContext(ctx).InfoContext(ctx, "download committed",
			"method", m.Kind,
			"size", humanize.Bytes(uint64(size)),
		)

		return nil
	})
}

// backoff waits RetryBackoff unless the download is cancelled first.
func (d *Downloader) backoff(ctx context.Context, state *transfer.State) error {
	timer := time.NewTimer(d.opts.RetryBackoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-state.Cancelled():
		return transfer.ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Downloader) paths(filename string) (target, temp string, err error) {
	target, err = securejoin.SecureJoin(d.catalog.DownloadPath, filename)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve target path: %w", err)
	}

	temp, err = securejoin.SecureJoin(d.catalog.TempPath, filename+tempSuffix)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve temp path: %w", err)
	}

	return target, temp, nil
}

// release drops the artifact from the active set. The file lock goes first
// so a new Start in this process can take it again.
func (d *Downloader) release(ctx context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dl, ok := d.active[id]
	if !ok {
		return
	}

	if err := dl.lock.Unlock(); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to release download lock", "err", err)
	}

	delete(d.active, id)
}

// verify checks the downloaded temp file and returns its size.
func verify(path, wantSHA256 string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}

	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: downloaded file is empty", ErrIntegrity)
	}

	if wantSHA256 == "" {
		return info.Size(), nil
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}

	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, wantSHA256) {
		return 0, fmt.Errorf("%w: sha256 mismatch, got %s", ErrIntegrity, got)
	}

	return info.Size(), nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return string(OutcomeCompleted)
	case errors.Is(err, transfer.ErrCancelled), errors.Is(err, context.Canceled):
		return string(OutcomeCancelled)
	default:
		return string(OutcomeFailed)
	}
}

// publish never blocks; results are dropped when nobody is listening.
func publish(ch chan Result, res Result) {
	select {
	case ch <- res:
	default:
	}
}

func removeFile(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove temp file", "path", path, "err", err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
