package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dropagent/internal/common"
	"dropagent/internal/exchange"
	"dropagent/internal/trigger"
)

// Uploader posts a result bundle to the backend.
type Uploader interface {
	UploadBundle(ctx context.Context, resultPath, companionPath, companionField string) error
}

// Options tune the bundling timing knobs.
type Options struct {
	SettleDelay   time.Duration // pause before reading a freshly-appeared result
	CompanionWait time.Duration // how long to keep polling for a companion artifact
	CompanionPoll time.Duration // companion existence re-check cadence
	DefaultAuxDir string        // fallback location for document artifacts
	MaxResultSize uint64        // refuse results larger than this (0 = no cap)
}

// Bundler correlates a found result file with its companion artifact and
// ships the pair to the backend. On a successful upload the local result
// file is deleted so the next cycle cannot pick it up again; that deletion
// is the only "already processed" marker the protocol has.
type Bundler struct {
	log  *slog.Logger
	up   Uploader
	opts Options
}

func New(logger *slog.Logger, up Uploader, opts Options) *Bundler {
	if opts.CompanionPoll <= 0 {
		opts.CompanionPoll = time.Second
	}
	return &Bundler{log: logger, up: up, opts: opts}
}

// Process uploads the result for job, with a companion artifact when one is
// expected. On upload failure the result file stays on disk for a human
// operator; there is no automatic retry on a later cycle.
func (b *Bundler) Process(ctx context.Context, job trigger.Job, rf exchange.ResultFile) error {
	// The automation tool may still be flushing the result to disk.
	if !sleepCtx(ctx, b.opts.SettleDelay) {
		return ctx.Err()
	}

	info, err := os.Stat(rf.Path)
	if err != nil {
		return fmt.Errorf("stat result: %w", err)
	}
	if b.opts.MaxResultSize > 0 && uint64(info.Size()) > b.opts.MaxResultSize {
		return fmt.Errorf("result %s is %d bytes, over the %d byte cap", rf.Name, info.Size(), b.opts.MaxResultSize)
	}

	companionPath, companionField := b.locateCompanion(ctx, job)
	if err := b.up.UploadBundle(ctx, rf.Path, companionPath, companionField); err != nil {
		return fmt.Errorf("upload bundle: %w", err)
	}

	if err := os.Remove(rf.Path); err != nil {
		b.log.Warn("delete uploaded result", "result", rf.Path, "err", err)
	}
	return nil
}

// locateCompanion derives the companion artifact for job, returning an
// empty path when none can be found in time.
func (b *Bundler) locateCompanion(ctx context.Context, job trigger.Job) (string, string) {
	if job.Action == trigger.ActionGeneratePdf {
		if p := b.waitForDocument(ctx, job); p != "" {
			return p, common.BundleFieldDocument
		}
		b.log.Warn("document artifact never appeared, uploading without it", "trigger", job.Filename)
		return "", ""
	}
	if job.TargetPath != "" && fileExists(job.TargetPath) {
		return job.TargetPath, common.BundleFieldWorkbook
	}
	return "", ""
}

// waitForDocument polls for the generated document. Its name derives from
// the target workbook's basename, and it may land either beside the target
// or in the auxiliary directory. The automation tool writes the primary
// result before finishing the document, hence the bounded extra wait.
func (b *Bundler) waitForDocument(ctx context.Context, job trigger.Job) string {
	if job.TargetPath == "" {
		return ""
	}
	base := strings.TrimSuffix(filepath.Base(job.TargetPath), filepath.Ext(job.TargetPath)) + common.ExtDocument
	candidates := []string{filepath.Join(filepath.Dir(job.TargetPath), base)}
	if job.AuxDir != "" {
		candidates = append(candidates, filepath.Join(job.AuxDir, base))
	}
	if b.opts.DefaultAuxDir != "" && b.opts.DefaultAuxDir != job.AuxDir {
		candidates = append(candidates, filepath.Join(b.opts.DefaultAuxDir, base))
	}

	deadline := time.Now().Add(b.opts.CompanionWait)
	for {
		for _, c := range candidates {
			if fileExists(c) {
				return c
			}
		}
		if time.Now().After(deadline) {
			return ""
		}
		if !sleepCtx(ctx, b.opts.CompanionPoll) {
			return ""
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
