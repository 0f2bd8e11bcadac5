package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/camden-git/photoner/config"
	"github.com/camden-git/photoner/database"
	"github.com/camden-git/photoner/media"
	"github.com/camden-git/photoner/models"
	"github.com/camden-git/photoner/repository"
	"github.com/camden-git/photoner/utils"
)

// State is the lifecycle position of a batch.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateReady      State = "ready"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// ImageProcessor validates and enhances single files.
type ImageProcessor interface {
	Validate(ctx context.Context, path string, kind utils.FileKind) error
	Process(ctx context.Context, input string, kind utils.FileKind, output string) (media.Result, error)
}

// RunOptions selects what a batch works on.
type RunOptions struct {
	Mode      config.Mode
	Roots     []string
	BatchSize int                  // overrides the configured cap when > 0
	Priority  config.QueuePriority // defaults to the mode's ordering
}

// Orchestrator drives one batch at a time through discovery, enhancement,
// persistence and the audit store.
type Orchestrator struct {
	cfg        config.Config
	discoverer *Discoverer
	processor  ImageProcessor
	store      *media.FileStore
	audit      repository.RecordWriter
	logger     *slog.Logger

	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	diskCheck func(path string, minimumFreeGB float64) (media.DiskSpace, error)

	stateMu sync.Mutex
	state   State

	// audit writes are serialized whatever the worker count
	auditMu sync.Mutex
}

func NewOrchestrator(cfg config.Config, processor ImageProcessor, store *media.FileStore, audit repository.RecordWriter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		discoverer: NewDiscoverer(cfg, logger),
		processor:  processor,
		store:      store,
		audit:      audit,
		logger:     logger.With("component", "orchestrator"),
		now:        time.Now,
		sleep:      sleepCtx,
		diskCheck:  media.CheckDiskSpace,
		state:      StateIdle,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.stateMu.Lock()
	prev := o.state
	o.state = s
	o.stateMu.Unlock()
	o.logger.Debug("batch state changed", "from", prev, "to", s)
}

// Plan runs discovery only and returns the ordered work list.
func (o *Orchestrator) Plan(ctx context.Context, opts RunOptions) ([]Candidate, error) {
	limit := o.cfg.Processing.MaxBatchSize
	if opts.BatchSize > 0 {
		limit = opts.BatchSize
	}
	priority := opts.Priority
	if priority == "" {
		priority = config.PriorityFor(opts.Mode)
	}
	return o.discoverer.Discover(ctx, opts.Roots, priority, limit)
}

// spaceTarget is the volume enhanced output is written to.
func (o *Orchestrator) spaceTarget() string {
	if o.cfg.Processing.ReplaceWithEnhanced {
		return o.cfg.Paths.Temp
	}
	return o.cfg.Paths.Enhanced
}

// Run executes one batch. The returned metrics are valid whatever the error.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (BatchMetrics, error) {
	if o.cfg.Processing.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Processing.BatchTimeout)
		defer cancel()
	}

	o.setState(StateScanning)
	queue, err := o.Plan(ctx, opts)
	if err != nil {
		o.setState(StateAborted)
		return NewBatchSession(opts.Mode, 0, 0, o.now()).Metrics(StateAborted, o.now()), fmt.Errorf("discovery failed: %w", err)
	}
	session := NewBatchSession(opts.Mode, len(queue), o.cfg.ErrorHandling.MaxConsecutiveFailures, o.now())

	if o.cfg.Advanced.CheckSpaceBeforeBatch {
		space, err := o.diskCheck(o.spaceTarget(), o.cfg.Advanced.MinFreeSpaceGB)
		if err != nil {
			o.logger.Warn("could not check disk space", "path", o.spaceTarget(), "error", err)
		} else if space.Warning {
			o.setState(StateAborted)
			o.logger.Error("not enough free disk space, batch not started",
				"path", space.Path, "free_gb", space.FreeGB, "minimum_gb", o.cfg.Advanced.MinFreeSpaceGB)
			return session.Metrics(StateAborted, o.now()), fmt.Errorf("%w: %.2f GB free on %s, need %.2f GB",
				ErrInsufficientDiskSpace, space.FreeGB, space.Path, o.cfg.Advanced.MinFreeSpaceGB)
		}
	}

	o.setState(StateReady)
	o.logger.Info("batch started", "session", session.ID, "mode", opts.Mode, "size", len(queue),
		"profile", o.cfg.ProfileName, "workers", o.cfg.Processing.Workers)

	var runErr error
	final := StateCompleted
	if len(queue) > 0 {
		o.setState(StateProcessing)
		runErr = o.process(ctx, session, queue)
		if runErr != nil {
			final = StateAborted
		}
	}
	o.setState(final)

	metrics := session.Metrics(final, o.now())
	metrics.TempFilesSwept = o.store.SweepStaleTemp(o.cfg.Paths.Temp)
	if !o.cfg.Processing.ReplaceWithEnhanced {
		metrics.TempFilesSwept += o.store.SweepAbandonedWrites(o.cfg.Paths.Enhanced)
	}

	logArgs := []any{
		"session", metrics.SessionID, "state", metrics.State,
		"successful", metrics.Successful, "failed", metrics.Failed, "skipped", metrics.Skipped,
		"error_rate", fmt.Sprintf("%.1f%%", metrics.ErrorRate),
		"images_per_minute", fmt.Sprintf("%.2f", metrics.ImagesPerMinute),
		"avg_seconds", fmt.Sprintf("%.2f", metrics.AvgProcessingTime),
		"duration", metrics.Duration.Round(time.Second),
	}
	if final == StateAborted {
		logArgs = append(logArgs, "consecutive_failures", metrics.ConsecutiveFailures, "not_attempted", metrics.NotAttempted, "error", runErr)
		o.logger.Error("batch aborted", logArgs...)
	} else {
		o.logger.Info("batch finished", logArgs...)
	}
	return metrics, runErr
}

// process feeds the queue to the worker pool. New items stop being handed
// out once the batch aborts or ctx ends; items already running finish.
func (o *Orchestrator) process(ctx context.Context, session *BatchSession, queue []Candidate) error {
	workers := o.cfg.Processing.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(queue) {
		workers = len(queue)
	}

	var (
		stop     = make(chan struct{})
		stopOnce sync.Once
		errMu    sync.Mutex
		stopErr  error
	)
	halt := func(err error) {
		stopOnce.Do(func() {
			errMu.Lock()
			stopErr = err
			errMu.Unlock()
			close(stop)
		})
	}
	stopped := func() bool {
		select {
		case <-stop:
			return true
		default:
			return ctx.Err() != nil
		}
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			for idx := range jobs {
				// a job may be received just as the batch stops
				if stopped() {
					continue
				}
				c := queue[idx]
				o.logger.Info("processing image", "worker", id, "index", idx+1, "total", len(queue), "path", c.Path)
				abort, err := o.processItem(ctx, session, c)
				if err != nil {
					halt(err)
					continue
				}
				if abort {
					halt(fmt.Errorf("%w: %d in a row", ErrBatchAborted, session.ConsecutiveFailures()))
				}
			}
		}(w)
	}

	fed := 0
feed:
	for i := range queue {
		if stopped() {
			break
		}
		select {
		case jobs <- i:
			fed++
		case <-stop:
			break feed
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	errMu.Lock()
	defer errMu.Unlock()
	if stopErr != nil {
		return stopErr
	}
	if err := ctx.Err(); err != nil && fed < len(queue) {
		return fmt.Errorf("batch stopped before the queue was drained: %w", err)
	}
	return nil
}

// processItem runs Validate, Backup, Enhance, Persist&Relocate and Record
// for one candidate. abort is true once the failure streak reaches the
// threshold; err is only returned for run-fatal conditions.
func (o *Orchestrator) processItem(batchCtx context.Context, session *BatchSession, c Candidate) (abort bool, err error) {
	// an item that has started runs to completion even if the batch is cancelled
	ctx := context.WithoutCancel(batchCtx)
	start := o.now()
	rec := &models.ProcessingRecord{InputPath: c.Path, Profile: o.cfg.ProfileName}

	if err := o.processor.Validate(ctx, c.Path, c.Kind); err != nil {
		ie := newItemError(KindValidation, c.Path, err)
		o.logger.Warn("skipping invalid file", "path", c.Path, "error", err)
		session.RecordSkip()
		o.fillFailure(rec, ie, start)
		return false, o.record(ctx, rec)
	}

	if outcome, err := o.store.Backup(c.Path); err != nil {
		o.logger.Warn("backup failed, continuing without one", "path", c.Path, "error", err)
	} else if outcome.Made {
		o.logger.Debug("backup created", "path", c.Path, "backup", outcome.Path)
	}

	result, ie := o.enhanceWithRetry(batchCtx, ctx, c)
	if ie == nil {
		ie = o.persist(rec, c)
	}
	if ie != nil {
		o.fillFailure(rec, ie, start)
		var reached bool
		if ie.Status() == database.StatusSkipped {
			session.RecordSkip()
		} else {
			reached = session.RecordFailure()
			o.logger.Error("image failed", "path", c.Path, "kind", ie.Kind, "error", ie.Err,
				"consecutive_failures", session.ConsecutiveFailures())
		}
		if err := o.record(ctx, rec); err != nil {
			return reached, err
		}
		return reached, nil
	}

	elapsed := o.now().Sub(start)
	session.RecordSuccess(elapsed, result.OriginalSize, result.EnhancedSize)
	rec.Status = database.StatusSuccess
	rec.ProcessingTime = elapsed.Seconds()
	rec.OriginalSize = &result.OriginalSize
	rec.EnhancedSize = &result.EnhancedSize
	adjustments := result.Report.JSON()
	rec.Adjustments = &adjustments
	o.logger.Info("image enhanced", "path", c.Path, "output", *rec.OutputPath,
		"seconds", fmt.Sprintf("%.2f", elapsed.Seconds()), "exif_preserved", result.EXIFAttached)
	return false, o.record(ctx, rec)
}

func (o *Orchestrator) fillFailure(rec *models.ProcessingRecord, ie *ItemError, start time.Time) {
	msg := ie.Err.Error()
	rec.Status = ie.Status()
	rec.ErrorMessage = &msg
	rec.ProcessingTime = o.now().Sub(start).Seconds()
	rec.OutputPath = nil
}

// enhanceWithRetry runs the processor, retrying retryable failures after the
// configured delay. The delay is cut short when the batch ends.
func (o *Orchestrator) enhanceWithRetry(batchCtx, ctx context.Context, c Candidate) (media.Result, *ItemError) {
	attempts := 1
	if o.cfg.ErrorHandling.RetryEnabled {
		attempts += o.cfg.ErrorHandling.MaxRetries
	}

	var last *ItemError
	for i := 0; i < attempts; i++ {
		if i > 0 {
			o.logger.Info("retrying image", "path", c.Path, "attempt", i+1, "of", attempts, "delay", o.cfg.ErrorHandling.RetryDelay)
			if err := o.sleep(batchCtx, o.cfg.ErrorHandling.RetryDelay); err != nil {
				break
			}
		}
		res, err := o.processor.Process(ctx, c.Path, c.Kind, c.Output)
		if err == nil {
			return res, nil
		}
		last = classify(c.Path, err)
		o.logger.Warn("enhancement attempt failed", "path", c.Path, "attempt", i+1, "kind", last.Kind, "error", err)
		if !last.Retryable() {
			break
		}
	}
	return media.Result{}, last
}

// persist moves files into their final places once the enhanced output
// exists at c.Output.
func (o *Orchestrator) persist(rec *models.ProcessingRecord, c Candidate) *ItemError {
	// removing the output keeps a failed item eligible for the next scan
	discardOutput := func() {
		if err := os.Remove(c.Output); err != nil && !os.IsNotExist(err) {
			o.logger.Warn("could not remove enhanced output", "path", c.Output, "error", err)
		}
	}

	if !o.cfg.Processing.ReplaceWithEnhanced {
		rec.OutputPath = &c.Output
		outcome, err := o.store.RelocateOriginal(c.Path)
		if err != nil {
			discardOutput()
			return newItemError(KindPersist, c.Path, err)
		}
		if outcome.Made {
			rec.MovedToProcessed = true
			rec.ProcessedFolderPath = &outcome.Path
		}
		return nil
	}

	if c.Placement != c.Path {
		if _, err := os.Lstat(c.Placement); err == nil {
			discardOutput()
			return newItemError(KindPersist, c.Path, fmt.Errorf("%w: %s", ErrPlacementConflict, c.Placement))
		}
	}

	relocated := c.Path
	if !c.Resume {
		outcome, err := o.store.ForceRelocate(c.Path)
		if err != nil {
			discardOutput()
			return newItemError(KindPersist, c.Path, err)
		}
		relocated = outcome.Path
	}
	rec.MovedToProcessed = true
	rec.ProcessedFolderPath = &relocated

	if err := media.MoveFile(c.Output, c.Placement); err != nil {
		o.logger.Error("original relocated but enhanced file not placed, next scan will resume it",
			"original", relocated, "placement", c.Placement, "error", err)
		return newItemError(KindPersist, c.Path, err)
	}
	rec.OutputPath = &c.Placement
	return nil
}

// record writes rec under the audit lock. A failure is fatal to the run.
func (o *Orchestrator) record(ctx context.Context, rec *models.ProcessingRecord) error {
	o.auditMu.Lock()
	defer o.auditMu.Unlock()
	rec.Timestamp = o.now()
	if _, err := o.audit.Record(ctx, rec); err != nil {
		o.logger.Error("could not write processing record", "path", rec.InputPath, "error", err)
		return errors.Join(ErrAuditWrite, err)
	}
	return nil
}
