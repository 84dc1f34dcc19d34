package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"dropagent/internal/actions"
	"dropagent/internal/bundle"
	"dropagent/internal/common"
	"dropagent/internal/config"
	"dropagent/internal/exchange"
	"dropagent/internal/journal"
	"dropagent/internal/trigger"
)

// Transport is the slice of the backend API the orchestrator itself talks to.
type Transport interface {
	FetchPending(ctx context.Context) ([]string, error)
	DownloadTrigger(ctx context.Context, filename, dest string) error
	Ack(ctx context.Context, filename string) error
}

// Stats is a snapshot of the agent's counters for the status endpoint.
type Stats struct {
	StartedAt     time.Time `json:"started_at"`
	Cycles        uint64    `json:"cycles"`
	JobsCompleted uint64    `json:"jobs_completed"`
	JobsTimedOut  uint64    `json:"jobs_timed_out"`
	JobsFailed    uint64    `json:"jobs_failed"`
	JobsSkipped   uint64    `json:"jobs_skipped"`
	LastCycleAt   time.Time `json:"last_cycle_at"`
	LastTrigger   string    `json:"last_trigger,omitempty"`
}

// Agent is the top-level polling loop. Jobs are processed strictly one at a
// time: the shared exchange directory and the single automation tool
// instance cannot multiplex concurrent triggers, so the loop must never be
// parallelized.
type Agent struct {
	log        *slog.Logger
	cfg        config.AgentConfig
	transport  Transport
	dispatcher *actions.Dispatcher
	writer     *exchange.Writer
	watcher    *exchange.Watcher
	bundler    *bundle.Bundler
	store      journal.Store // optional

	// sleep is injectable so tests can run the loop without real delays.
	sleep func(ctx context.Context, d time.Duration) bool

	mu    sync.Mutex
	stats Stats
}

func New(logger *slog.Logger, cfg config.AgentConfig, transport Transport, dispatcher *actions.Dispatcher, writer *exchange.Writer, watcher *exchange.Watcher, bundler *bundle.Bundler, store journal.Store) *Agent {
	return &Agent{
		log:        logger,
		cfg:        cfg,
		transport:  transport,
		dispatcher: dispatcher,
		writer:     writer,
		watcher:    watcher,
		bundler:    bundler,
		store:      store,
		sleep:      sleepCtx,
		stats:      Stats{StartedAt: time.Now()},
	}
}

// Run polls the backend until ctx is cancelled. Network trouble on the fetch
// is a quiet heartbeat, never an error: the agent is built to sit unattended
// against an intermittently available backend.
func (a *Agent) Run(ctx context.Context) {
	a.log.Info("agent started", "exchangeDir", a.cfg.ExchangeDir, "pollInterval", a.cfg.PollInterval)
	for {
		a.RunCycle(ctx)
		if !a.sleep(ctx, a.cfg.PollInterval) {
			a.log.Info("agent stopping")
			return
		}
	}
}

// RunCycle performs one fetch-and-process pass. Jobs are handled in the
// order the backend returned them; one job's failure never stops the rest.
func (a *Agent) RunCycle(ctx context.Context) {
	a.mu.Lock()
	a.stats.Cycles++
	a.stats.LastCycleAt = time.Now()
	a.mu.Unlock()

	names, err := a.transport.FetchPending(ctx)
	if err != nil {
		a.log.Debug("fetch pending", "err", err)
		return
	}
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		outcome := a.processJob(ctx, name)
		a.recordOutcome(name, outcome)
	}
}

// processJob runs one trigger end to end and returns its outcome. No error
// escapes: this is the per-job backstop that keeps the loop alive.
func (a *Agent) processJob(ctx context.Context, filename string) (outcome string) {
	log := a.log.With("trigger", filename)
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "panic", r)
			outcome = common.OutcomeFailed
		}
	}()

	stagingPath := filepath.Join(a.cfg.StagingDir, filename)
	if err := a.transport.DownloadTrigger(ctx, filename, stagingPath); err != nil {
		log.Error("download trigger", "err", err)
		return common.OutcomeFailed
	}
	defer func() { _ = os.Remove(stagingPath) }()

	payload, err := os.ReadFile(stagingPath) // #nosec G304 - staging path is agent-owned
	if err != nil {
		log.Error("read staged trigger", "err", err)
		return common.OutcomeFailed
	}

	job, err := trigger.Parse(filename, payload)
	if err != nil {
		log.Warn("unparseable trigger skipped", "err", err)
		a.journalRun(trigger.Job{Filename: filename}, common.OutcomeSkipped, err)
		return common.OutcomeSkipped
	}
	log = log.With("action", string(job.Action), "quote", job.CorrelationID)
	if job.CorrelationGuessed {
		log.Warn("correlation id guessed from filename prefix", "quote", job.CorrelationID)
	}

	if err := a.dispatcher.Dispatch(ctx, job); err != nil {
		if errors.Is(err, actions.ErrUnroutable) {
			// No trigger is written and no ack is sent for an unroutable
			// job; the backend keeps it pending for a human to look at.
			log.Warn("unroutable job skipped", "err", err)
			a.journalRun(job, common.OutcomeSkipped, err)
			return common.OutcomeSkipped
		}
		// Filesystem prep trouble is logged but the trigger still goes
		// out: the automation tool may have what it needs, or will fail
		// visibly on its own side.
		log.Error("action handler", "err", err)
	}

	startedAt, err := a.writer.WriteTrigger(filename, job.RawPayload)
	if err != nil {
		log.Error("write trigger", "err", err)
		a.journalRun(job, common.OutcomeFailed, err)
		return common.OutcomeFailed
	}

	// The trigger is on the exchange share now: the automation tool may
	// consume it at any moment, so the job must be acked no matter what
	// happens downstream, or the backend would redeliver it forever.
	defer a.ack(filename, log)

	timeout := a.cfg.ResultTimeout
	if job.Action == trigger.ActionGeneratePdf {
		timeout = a.cfg.PDFResultTimeout
	}
	result, found := a.watcher.WaitForResult(ctx, filename, startedAt, timeout)
	if !found {
		err := fmt.Errorf("no result within %s", timeout)
		log.Warn("result wait timed out, job abandoned", "timeout", timeout)
		a.journalRun(job, common.OutcomeTimeout, err)
		return common.OutcomeTimeout
	}
	log.Info("result found", "result", result.Name)

	if err := a.bundler.Process(ctx, job, result); err != nil {
		log.Error("bundle upload", "err", err)
		a.journalRun(job, common.OutcomeFailed, err)
		return common.OutcomeFailed
	}

	log.Info("job completed")
	a.journalRun(job, common.OutcomeCompleted, nil)
	return common.OutcomeCompleted
}

// ack is detached from the job's context so that a graceful shutdown
// mid-job still acknowledges a trigger the automation tool may have consumed.
func (a *Agent) ack(filename string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.transport.Ack(ctx, filename); err != nil {
		log.Warn("ack failed", "err", err)
	}
}

// journalRun records the run best-effort; the journal never fails a job.
func (a *Agent) journalRun(job trigger.Job, outcome string, runErr error) {
	if a.store == nil {
		return
	}
	now := time.Now().UTC()
	run := &journal.Run{
		ID:            uuid.NewString(),
		Filename:      job.Filename,
		CorrelationID: job.CorrelationID,
		Action:        string(job.Action),
		CreatedAt:     now,
	}
	if err := a.store.CreateRun(run); err != nil {
		a.log.Warn("journal create", "err", err)
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := a.store.CompleteRun(run.ID, outcome, msg, now); err != nil {
		a.log.Warn("journal complete", "err", err)
	}
}

func (a *Agent) recordOutcome(filename, outcome string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.LastTrigger = filename
	switch outcome {
	case common.OutcomeCompleted:
		a.stats.JobsCompleted++
	case common.OutcomeTimeout:
		a.stats.JobsTimedOut++
	case common.OutcomeSkipped:
		a.stats.JobsSkipped++
	default:
		a.stats.JobsFailed++
	}
}

// Snapshot returns a copy of the agent's counters.
func (a *Agent) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

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
