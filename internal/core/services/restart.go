package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/melih/goal-listener/internal/core/domain"
	"github.com/melih/goal-listener/internal/core/ports"
	"github.com/melih/goal-listener/internal/metrics"
)

// maxReports bounds the restart history kept in memory.
const maxReports = 20

// RestartService stops, updates and starts the tracker. Restarts never overlap.
type RestartService struct {
	runtime ports.AppRuntime
	syncer  ports.SourceSyncer
	settle  time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	runMu  sync.Mutex

	mu            sync.Mutex
	running       bool
	pendingID     string
	pendingReason string
	reports       map[string]domain.RestartReport
	order         []string
}

var _ ports.RestartService = (*RestartService)(nil)

// NewRestartService creates the service. syncer may be nil when the tracker has no remote.
func NewRestartService(runtime ports.AppRuntime, syncer ports.SourceSyncer, settle time.Duration, logger *slog.Logger) *RestartService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RestartService{
		runtime: runtime,
		syncer:  syncer,
		settle:  settle,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		reports: make(map[string]domain.RestartReport),
	}
}

// Restart runs one restart synchronously and returns its report. The error is the
// start failure, if any; stop and sync failures are only recorded.
func (s *RestartService) Restart(ctx context.Context, reason string) (domain.RestartReport, error) {
	return s.run(ctx, uuid.NewString(), reason)
}

// Schedule requests a restart in the background and returns its ID. While one is
// running, further requests collapse into a single follow-up restart.
func (s *RestartService) Schedule(reason string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		if s.pendingID == "" {
			s.pendingID = uuid.NewString()
			s.pendingReason = reason
			s.putLocked(domain.RestartReport{ID: s.pendingID, Reason: reason, State: domain.RestartPending})
		}
		return s.pendingID
	}

	id := uuid.NewString()
	s.putLocked(domain.RestartReport{ID: id, Reason: reason, State: domain.RestartPending})
	s.running = true
	s.wg.Add(1)
	go s.loop(id, reason)
	return id
}

func (s *RestartService) loop(id, reason string) {
	defer s.wg.Done()
	for {
		_, _ = s.run(s.ctx, id, reason)

		s.mu.Lock()
		if s.pendingID == "" || s.ctx.Err() != nil {
			if s.pendingID != "" {
				s.putLocked(domain.RestartReport{
					ID:         s.pendingID,
					Reason:     s.pendingReason,
					State:      domain.RestartFailed,
					FinishedAt: time.Now(),
				})
			}
			s.running = false
			s.pendingID, s.pendingReason = "", ""
			s.mu.Unlock()
			return
		}
		id, reason = s.pendingID, s.pendingReason
		s.pendingID, s.pendingReason = "", ""
		s.mu.Unlock()
	}
}

func (s *RestartService) run(ctx context.Context, id, reason string) (domain.RestartReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	logger := s.logger.With("restart_id", id)
	report := domain.RestartReport{ID: id, Reason: reason, State: domain.RestartRunning, StartedAt: time.Now()}
	s.put(report)
	logger.Info("restarting tracker", "reason", reason, "runtime", s.runtime.Name())

	stop := s.step(ctx, domain.StepStop, func(ctx context.Context) (string, error) {
		return "", s.runtime.Stop(ctx)
	})
	report.Steps = append(report.Steps, stop)
	s.put(report)

	if err := sleepCtx(ctx, s.settle); err != nil {
		return s.finish(logger, report, err)
	}

	if s.syncer != nil {
		pull := s.step(ctx, domain.StepSync, func(ctx context.Context) (string, error) {
			return s.syncer.Sync(ctx)
		})
		report.Steps = append(report.Steps, pull)
		s.put(report)
		if pull.Error != "" {
			// The previous checkout is still usable.
			logger.Warn("source sync failed, starting previous version", "error", pull.Error)
		}
	}

	start := s.step(ctx, domain.StepStart, func(ctx context.Context) (string, error) {
		return "", s.runtime.Start(ctx)
	})
	report.Steps = append(report.Steps, start)

	var err error
	if start.Error != "" {
		err = fmt.Errorf("failed to start tracker: %s", start.Error)
	}
	return s.finish(logger, report, err)
}

func (s *RestartService) step(ctx context.Context, name domain.RestartStep, fn func(context.Context) (string, error)) domain.StepResult {
	began := time.Now()
	detail, err := fn(ctx)
	res := domain.StepResult{Step: name, Detail: detail, Duration: time.Since(began)}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func (s *RestartService) finish(logger *slog.Logger, report domain.RestartReport, err error) (domain.RestartReport, error) {
	report.FinishedAt = time.Now()
	report.State = domain.RestartSucceeded
	if err != nil {
		report.State = domain.RestartFailed
	}
	s.put(report)

	outcome := metrics.Outcome(err)
	metrics.RestartsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		logger.Error("tracker restart failed", "error", err, "steps", report.Steps)
	} else {
		logger.Info("tracker restarted", "duration", report.FinishedAt.Sub(report.StartedAt))
	}
	return report, err
}

// put records report, replacing an earlier version with the same ID.
func (s *RestartService) put(report domain.RestartReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(report)
}

func (s *RestartService) putLocked(report domain.RestartReport) {
	if _, ok := s.reports[report.ID]; !ok {
		s.order = append(s.order, report.ID)
	}
	s.reports[report.ID] = report
	if len(s.order) > maxReports {
		delete(s.reports, s.order[0])
		s.order = s.order[1:]
	}
}

// Report returns the restart with the given ID.
func (s *RestartService) Report(id string) (domain.RestartReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return domain.RestartReport{}, ports.ErrReportNotFound
	}
	return r, nil
}

// Last returns the most recent finished restart.
func (s *RestartService) Last() (domain.RestartReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		if r := s.reports[s.order[i]]; r.State.Done() {
			return r, true
		}
	}
	return domain.RestartReport{}, false
}

// Runtime exposes the runtime for status and log queries.
func (s *RestartService) Runtime() ports.AppRuntime { return s.runtime }

// Wait blocks until background restarts have finished.
func (s *RestartService) Wait() { s.wg.Wait() }

// Close cancels background restarts and waits for them.
func (s *RestartService) Close() {
	s.cancel()
	s.wg.Wait()
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
