package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dropagent/internal/common"
	"dropagent/internal/trigger"
)

// ErrUnroutable marks a job no handler can take. The caller must skip the
// job entirely: no trigger is written and no backend call is made.
var ErrUnroutable = errors.New("job is not routable")

// Downloader fetches the working artifact for a correlation id.
type Downloader interface {
	DownloadSource(ctx context.Context, correlationID, dest string) error
}

// Dispatcher prepares local filesystem state for a job before the trigger is
// handed to the exchange writer. Every handler is single-attempt; recoverable
// conditions (missing source files) are logged and swallowed, real failures
// are returned so the orchestrator can log them; either way the caller
// proceeds to write the trigger.
type Dispatcher struct {
	log           *slog.Logger
	downloader    Downloader
	defaultAuxDir string
	// verifyWorkbook, when non-nil, probes a downloaded workbook and
	// returns an error on corruption. Warn-only.
	verifyWorkbook func(path string) error
}

func NewDispatcher(logger *slog.Logger, downloader Downloader, defaultAuxDir string, verifyWorkbook func(string) error) *Dispatcher {
	return &Dispatcher{
		log:            logger,
		downloader:     downloader,
		defaultAuxDir:  defaultAuxDir,
		verifyWorkbook: verifyWorkbook,
	}
}

// Dispatch routes a job to exactly one handler based on its action kind.
// It never panics; handler errors are returned to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, job trigger.Job) error {
	switch job.Action {
	case trigger.ActionGeneratePdf:
		return d.handleGeneratePdf(job)
	case trigger.ActionRevise:
		return d.handleRevise(job)
	case trigger.ActionRecopy:
		return d.handleRecopy(job)
	case trigger.ActionGenerate:
		return d.handleGenerate(ctx, job)
	default:
		return fmt.Errorf("%w: action %q, trigger %s", ErrUnroutable, job.Action, job.Filename)
	}
}

// handleGeneratePdf stages a protective copy of the source artifact into the
// auxiliary directory, so the automation tool's read/write never collides
// with the live project artifact.
func (d *Dispatcher) handleGeneratePdf(job trigger.Job) error {
	if job.SourcePath == "" {
		return nil
	}
	auxDir := job.AuxDir
	if auxDir == "" {
		auxDir = d.defaultAuxDir
	}
	if !fileExists(job.SourcePath) {
		d.log.Warn("print source missing, triggering anyway", "trigger", job.Filename, "source", job.SourcePath)
		return nil
	}
	dest := filepath.Join(auxDir, filepath.Base(job.SourcePath))
	if err := copyFile(job.SourcePath, dest); err != nil {
		return fmt.Errorf("stage print copy: %w", err)
	}
	return nil
}

// handleRevise copies the previous revision's workbook onto the target path.
// The previous revision is located by prefix in the target's directory; if
// nothing matches, the reference is tried literally as a filename.
func (d *Dispatcher) handleRevise(job trigger.Job) error {
	if job.TargetPath == "" || job.PriorRevisionRef == "" {
		d.log.Warn("revise job lacks target or prior revision ref", "trigger", job.Filename)
		return nil
	}
	src := d.resolvePriorRevision(filepath.Dir(job.TargetPath), job.PriorRevisionRef)
	if !fileExists(src) {
		d.log.Warn("previous revision not found, triggering anyway", "trigger", job.Filename, "ref", job.PriorRevisionRef)
		return nil
	}
	if err := copyFile(src, job.TargetPath); err != nil {
		return fmt.Errorf("copy previous revision: %w", err)
	}
	return nil
}

// resolvePriorRevision searches dir for a workbook whose name starts with
// ref. It falls back to treating ref as a literal filename.
func (d *Dispatcher) resolvePriorRevision(dir, ref string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		d.log.Warn("list revision dir", "dir", dir, "err", err)
		return filepath.Join(dir, ref)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ref) && strings.EqualFold(filepath.Ext(name), common.ExtWorkbook) {
			return filepath.Join(dir, name)
		}
	}
	return filepath.Join(dir, ref)
}

// handleRecopy is a direct copy from the source path to the target path.
func (d *Dispatcher) handleRecopy(job trigger.Job) error {
	if job.SourcePath == "" || job.TargetPath == "" {
		d.log.Warn("recopy job lacks source or target", "trigger", job.Filename)
		return nil
	}
	if !fileExists(job.SourcePath) {
		d.log.Warn("recopy source missing, triggering anyway", "trigger", job.Filename, "source", job.SourcePath)
		return nil
	}
	if err := copyFile(job.SourcePath, job.TargetPath); err != nil {
		return fmt.Errorf("recopy: %w", err)
	}
	return nil
}

// handleGenerate downloads the working artifact from the backend straight to
// the target path. The transport removes partial files on failure, so the
// automation tool never sees a truncated artifact.
func (d *Dispatcher) handleGenerate(ctx context.Context, job trigger.Job) error {
	if job.TargetPath == "" || job.CorrelationID == "" {
		return fmt.Errorf("%w: generate without target or correlation id, trigger %s", ErrUnroutable, job.Filename)
	}
	if err := d.downloader.DownloadSource(ctx, job.CorrelationID, job.TargetPath); err != nil {
		return fmt.Errorf("download source artifact: %w", err)
	}
	if d.verifyWorkbook != nil {
		if err := d.verifyWorkbook(job.TargetPath); err != nil {
			d.log.Warn("downloaded workbook failed integrity probe", "trigger", job.Filename, "target", job.TargetPath, "err", err)
		}
	}
	return nil
}
