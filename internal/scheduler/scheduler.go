// Package scheduler runs the pipeline jobs on cron triggers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"trendscout/internal/config"
	"trendscout/internal/discovery"
	"trendscout/internal/scout"
	"trendscout/internal/seo"
	"trendscout/internal/sources"
	"trendscout/internal/storage"
)

// Job names, also used as lease names.
const (
	JobDiscovery = "discovery"
	JobSources   = "sources"
	JobScout     = "scout"
	JobRefresh   = "refresh"
)

const leasePrefix = "job:"

// Discoverer runs keyword discovery.
type Discoverer interface {
	RunDiscovery(ctx context.Context) discovery.Report
}

// Registry provides fetch targets and tracks source yields.
type Registry interface {
	FetchTargets(ctx context.Context, opts sources.FetchOptions) ([]sources.Target, error)
	RecordYield(ctx context.Context, url string, found, used int) error
	DeactivateUnderperformers(ctx context.Context, minSeen int, minRate float64) (int, error)
}

// Scouter finds and stores candidate topics.
type Scouter interface {
	FindCandidates(ctx context.Context, targets []sources.Target) scout.Result
	Save(ctx context.Context, candidates []scout.Candidate) (scout.SaveResult, error)
}

// Refresher refreshes stale published articles.
type Refresher interface {
	RefreshStale(ctx context.Context, limit int) seo.RefreshReport
}

// Notifier receives one run report per job.
type Notifier interface {
	Notify(text string)
}

// Deps are the collaborators the jobs drive. Notifier may be nil.
type Deps struct {
	Store     storage.Storage
	Discovery Discoverer
	Sources   Registry
	Scout     Scouter
	Refresher Refresher
	Notifier  Notifier
}

type job struct {
	name string
	expr string
	run  func(ctx context.Context) (string, error)
}

// Scheduler triggers the discovery, sources, scout and refresh jobs.
type Scheduler struct {
	cron     *cron.Cron
	deps     Deps
	pipeline config.PipelineConfig
	jobs     []job
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a Scheduler. Jobs are not triggered until Start.
func New(deps Deps, pipeline config.PipelineConfig, schedule config.ScheduleConfig, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		cron:     cron.New(),
		deps:     deps,
		pipeline: pipeline,
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
		entries:  make(map[string]cron.EntryID),
	}
	s.jobs = []job{
		{name: JobDiscovery, expr: schedule.Discovery, run: s.runDiscovery},
		{name: JobSources, expr: schedule.Sources, run: s.runSources},
		{name: JobScout, expr: schedule.Scout, run: s.runScout},
		{name: JobRefresh, expr: schedule.Refresh, run: s.runRefresh},
	}
	return s
}

// Start registers every job with a non-empty schedule and starts the cron
// loop. Jobs run with ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		j := j
		if j.expr == "" {
			s.logger.Info("job has no schedule", "job", j.name)
			continue
		}
		id, err := s.cron.AddFunc(j.expr, func() { s.runJob(ctx, j) })
		if err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.expr, err)
		}
		s.entries[j.name] = id
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.entries))
	return nil
}

// Stop halts the triggers and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Next returns the next trigger time of the named job, or the zero time when
// it is not scheduled.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// RunAll runs every job once, concurrently, and waits for all of them.
func (s *Scheduler) RunAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runJob(ctx, j)
		}()
	}
	wg.Wait()
}

// RunJob runs the named job once.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.name == name {
			s.runJob(ctx, j)
			return nil
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (s *Scheduler) runJob(ctx context.Context, j job) {
	runID := uuid.NewString()
	log := s.logger.With("job", j.name, "run_id", runID)

	if s.pipeline.SingleFlight {
		now := s.now()
		lease := leasePrefix + j.name
		ok, err := s.deps.Store.AcquireLease(ctx, lease, runID, now, now.Add(s.pipeline.LeaseTTL))
		if err != nil {
			log.Error("acquire lease", "error", err)
			return
		}
		if !ok {
			log.Info("job skipped, lease held elsewhere")
			return
		}
		defer func() {
			if err := s.deps.Store.ReleaseLease(context.WithoutCancel(ctx), lease, runID); err != nil {
				log.Error("release lease", "error", err)
			}
		}()
	}

	start := time.Now()
	report, err := safeRun(ctx, j)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		log.Error("job failed", "error", err, "duration", elapsed)
		if report == "" {
			report = j.name
		}
		report += "\nfailed: " + err.Error()
	} else {
		log.Info("job finished", "duration", elapsed)
	}

	if s.deps.Notifier != nil {
		s.deps.Notifier.Notify(report)
	}
}

func safeRun(ctx context.Context, j job) (report string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.run(ctx)
}

func (s *Scheduler) runDiscovery(ctx context.Context) (string, error) {
	rep := s.deps.Discovery.RunDiscovery(ctx)
	text := fmt.Sprintf("discovery: %d discovered, %d scored, %d persisted, %d deactivated",
		rep.Discovered, rep.Scored, rep.Persisted, rep.Deactivated)
	return withErrors(text, rep.Errors), nil
}

func (s *Scheduler) runSources(ctx context.Context) (string, error) {
	n, err := s.deps.Sources.DeactivateUnderperformers(ctx, sources.DefaultMinSeen, sources.DefaultMinRate)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("sources: %d deactivated", n), nil
}

func (s *Scheduler) runScout(ctx context.Context) (string, error) {
	targets, err := s.deps.Sources.FetchTargets(ctx, sources.FetchOptions{})
	if err != nil {
		return "", err
	}
	res := s.deps.Scout.FindCandidates(ctx, targets)
	saved, err := s.deps.Scout.Save(ctx, res.Candidates)
	if err != nil {
		return "", err
	}

	for _, y := range res.Yields {
		if err := s.deps.Sources.RecordYield(ctx, y.URL, y.Found, y.Used); err != nil {
			s.logger.Warn("record yield", "url", y.URL, "error", err)
		}
		if y.Keyword == "" || y.Found == 0 {
			continue
		}
		if _, err := s.deps.Store.IncrementKeywordUsage(ctx, y.Keyword); err != nil {
			s.logger.Warn("increment keyword usage", "keyword", y.Keyword, "error", err)
		}
	}

	text := fmt.Sprintf("scout: %d targets, %d candidates, %d new topics, %d already known",
		len(targets), len(res.Candidates), saved.Created, saved.Skipped)
	return withErrors(text, res.Errors), nil
}

func (s *Scheduler) runRefresh(ctx context.Context) (string, error) {
	rep := s.deps.Refresher.RefreshStale(ctx, s.pipeline.RefreshBatchSize)
	if rep.Disabled {
		return "refresh: disabled (ENABLE_CONTENT_REFRESH is not true)", nil
	}
	text := fmt.Sprintf("refresh: %d of %d articles refreshed", rep.Refreshed(), len(rep.Results))
	var errs []string
	for _, r := range rep.Results {
		if !r.Success {
			errs = append(errs, fmt.Sprintf("article %d: %s", r.ArticleID, r.Error))
		}
	}
	if rep.Error != "" {
		errs = append(errs, rep.Error)
	}
	return withErrors(text, errs), nil
}

func withErrors(text string, errs []string) string {
	if len(errs) == 0 {
		return text
	}
	return text + "\n- " + strings.Join(errs, "\n- ")
}
