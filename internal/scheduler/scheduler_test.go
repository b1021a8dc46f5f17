package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"trendscout/internal/config"
	"trendscout/internal/discovery"
	"trendscout/internal/model"
	"trendscout/internal/scout"
	"trendscout/internal/seo"
	"trendscout/internal/sources"
	"trendscout/internal/storage"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeDiscovery struct {
	rep   discovery.Report
	panic any
}

func (f *fakeDiscovery) RunDiscovery(context.Context) discovery.Report {
	if f.panic != nil {
		panic(f.panic)
	}
	return f.rep
}

type yieldCall struct {
	URL   string
	Found int
	Used  int
}

type fakeRegistry struct {
	mu          sync.Mutex
	targets     []sources.Target
	fetchErr    error
	deactivated int
	deactErr    error
	deactCalls  int
	yields      []yieldCall
}

func (f *fakeRegistry) FetchTargets(context.Context, sources.FetchOptions) ([]sources.Target, error) {
	return f.targets, f.fetchErr
}

func (f *fakeRegistry) RecordYield(_ context.Context, url string, found, used int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.yields = append(f.yields, yieldCall{URL: url, Found: found, Used: used})
	return nil
}

func (f *fakeRegistry) DeactivateUnderperformers(context.Context, int, float64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactCalls++
	return f.deactivated, f.deactErr
}

type fakeScout struct {
	res     scout.Result
	saveErr error
	got     []sources.Target
	saved   []scout.Candidate
}

func (f *fakeScout) FindCandidates(_ context.Context, targets []sources.Target) scout.Result {
	f.got = targets
	return f.res
}

func (f *fakeScout) Save(_ context.Context, c []scout.Candidate) (scout.SaveResult, error) {
	if f.saveErr != nil {
		return scout.SaveResult{}, f.saveErr
	}
	f.saved = c
	return scout.SaveResult{Created: len(c)}, nil
}

type fakeRefresher struct {
	mu    sync.Mutex
	rep   seo.RefreshReport
	calls int
	limit int
}

func (f *fakeRefresher) RefreshStale(_ context.Context, limit int) seo.RefreshReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.limit = limit
	return f.rep
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
}

func (n *recordingNotifier) sorted() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := append([]string(nil), n.msgs...)
	sort.Strings(out)
	return out
}

type fixture struct {
	store     *storage.SQLite
	discovery *fakeDiscovery
	registry  *fakeRegistry
	scout     *fakeScout
	refresher *fakeRefresher
	notifier  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{
		store:     store,
		discovery: &fakeDiscovery{},
		registry:  &fakeRegistry{},
		scout:     &fakeScout{},
		refresher: &fakeRefresher{},
		notifier:  &recordingNotifier{},
	}
}

func (f *fixture) scheduler(pipeline config.PipelineConfig, schedule config.ScheduleConfig) *Scheduler {
	s := New(Deps{
		Store:     f.store,
		Discovery: f.discovery,
		Sources:   f.registry,
		Scout:     f.scout,
		Refresher: f.refresher,
		Notifier:  f.notifier,
	}, pipeline, schedule, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return testNow }
	return s
}

func TestRunAllReportsEveryJob(t *testing.T) {
	f := newFixture(t)
	f.discovery.rep = discovery.Report{Discovered: 3, Scored: 2, Persisted: 1, Errors: []string{"hn: status 503"}}
	f.registry.deactErr = errors.New("database is locked")
	f.registry.targets = []sources.Target{{URL: "https://feed.example/rss"}}
	f.scout.res = scout.Result{Candidates: []scout.Candidate{{Title: "idea"}}}
	f.refresher.rep = seo.RefreshReport{Disabled: true}

	f.scheduler(config.PipelineConfig{}, config.ScheduleConfig{}).RunAll(context.Background())

	want := []string{
		"discovery: 3 discovered, 2 scored, 1 persisted, 0 deactivated\n- hn: status 503",
		"refresh: disabled (ENABLE_CONTENT_REFRESH is not true)",
		"scout: 1 targets, 1 candidates, 1 new topics, 0 already known",
		"sources\nfailed: database is locked",
	}
	if diff := cmp.Diff(want, f.notifier.sorted()); diff != "" {
		t.Errorf("reports mismatch (-want +got):\n%s", diff)
	}
}

func TestPanickingJobDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	f.discovery.panic = "boom"
	f.refresher.rep = seo.RefreshReport{Results: []seo.RefreshResult{
		{ArticleID: 1, Success: true},
		{ArticleID: 2, Error: "complete: timeout"},
	}}

	f.scheduler(config.PipelineConfig{RefreshBatchSize: 3}, config.ScheduleConfig{}).RunAll(context.Background())

	want := []string{
		"discovery\nfailed: panic: boom",
		"refresh: 1 of 2 articles refreshed\n- article 2: complete: timeout",
		"scout: 0 targets, 0 candidates, 0 new topics, 0 already known",
		"sources: 0 deactivated",
	}
	if diff := cmp.Diff(want, f.notifier.sorted()); diff != "" {
		t.Errorf("reports mismatch (-want +got):\n%s", diff)
	}
	if f.refresher.limit != 3 {
		t.Errorf("refresh limit = %d, want 3", f.refresher.limit)
	}
}

func TestScoutJobRecordsYieldsAndKeywordUsage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, kw := range []string{"inbox zero", "email batching"} {
		if _, err := f.store.UpsertKeyword(ctx, &model.Keyword{Text: kw, IsActive: true, RelevanceScore: 0.8}); err != nil {
			t.Fatalf("upsert keyword: %v", err)
		}
	}
	f.registry.targets = []sources.Target{
		{URL: "https://feed.example/rss", Name: "Feed"},
		{URL: sources.DynamicURL("inbox zero"), Keyword: "inbox zero"},
		{URL: sources.DynamicURL("email batching"), Keyword: "email batching"},
	}
	f.scout.res = scout.Result{
		Candidates: []scout.Candidate{{Title: "a"}, {Title: "b"}},
		Yields: []scout.Yield{
			{URL: "https://feed.example/rss", Found: 3, Used: 1},
			{URL: sources.DynamicURL("inbox zero"), Keyword: "inbox zero", Found: 2, Used: 1},
			{URL: sources.DynamicURL("email batching"), Keyword: "email batching"},
		},
		Errors: []string{"Feed: timeout"},
	}

	s := f.scheduler(config.PipelineConfig{}, config.ScheduleConfig{})
	if err := s.RunJob(ctx, JobScout); err != nil {
		t.Fatalf("run job: %v", err)
	}

	if diff := cmp.Diff(f.registry.targets, f.scout.got); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
	if len(f.scout.saved) != 2 {
		t.Errorf("saved %d candidates, want 2", len(f.scout.saved))
	}
	wantYields := []yieldCall{
		{URL: "https://feed.example/rss", Found: 3, Used: 1},
		{URL: sources.DynamicURL("inbox zero"), Found: 2, Used: 1},
		{URL: sources.DynamicURL("email batching")},
	}
	if diff := cmp.Diff(wantYields, f.registry.yields); diff != "" {
		t.Errorf("yields mismatch (-want +got):\n%s", diff)
	}

	for kw, want := range map[string]int{"inbox zero": 1, "email batching": 0} {
		got, err := f.store.GetKeyword(ctx, kw)
		if err != nil {
			t.Fatalf("get keyword: %v", err)
		}
		if got.UsageCount != want {
			t.Errorf("%s usage = %d, want %d", kw, got.UsageCount, want)
		}
	}

	wantReport := []string{"scout: 3 targets, 2 candidates, 2 new topics, 0 already known\n- Feed: timeout"}
	if diff := cmp.Diff(wantReport, f.notifier.sorted()); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestScoutJobSaveFailureSkipsYields(t *testing.T) {
	f := newFixture(t)
	f.scout.res = scout.Result{Yields: []scout.Yield{{URL: "https://feed.example/rss", Found: 3}}}
	f.scout.saveErr = errors.New("disk full")

	s := f.scheduler(config.PipelineConfig{}, config.ScheduleConfig{})
	if err := s.RunJob(context.Background(), JobScout); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if len(f.registry.yields) != 0 {
		t.Errorf("yields recorded after failed save: %v", f.registry.yields)
	}
	if diff := cmp.Diff([]string{"scout\nfailed: disk full"}, f.notifier.sorted()); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestSingleFlightLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.scheduler(config.PipelineConfig{SingleFlight: true, LeaseTTL: time.Hour}, config.ScheduleConfig{})

	ok, err := f.store.AcquireLease(ctx, "job:refresh", "other-process", testNow, testNow.Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("acquire lease = %v, %v", ok, err)
	}

	if err := s.RunJob(ctx, JobRefresh); err != nil {
		t.Fatalf("run refresh: %v", err)
	}
	if f.refresher.calls != 0 {
		t.Errorf("refresh ran while lease was held elsewhere")
	}

	if err := s.RunJob(ctx, JobSources); err != nil {
		t.Fatalf("run sources: %v", err)
	}
	if f.registry.deactCalls != 1 {
		t.Errorf("sources job calls = %d, want 1", f.registry.deactCalls)
	}
	ok, err = f.store.AcquireLease(ctx, "job:sources", "other-process", testNow, testNow.Add(time.Hour))
	if err != nil || !ok {
		t.Errorf("sources lease not released: %v, %v", ok, err)
	}

	if err := f.store.ReleaseLease(ctx, "job:refresh", "other-process"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.RunJob(ctx, JobRefresh); err != nil {
		t.Fatalf("run refresh: %v", err)
	}
	if f.refresher.calls != 1 {
		t.Errorf("refresh calls = %d, want 1", f.refresher.calls)
	}
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(config.PipelineConfig{}, config.ScheduleConfig{
		Discovery: "0 3 * * *",
		Scout:     "0 */6 * * *",
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if s.Next(JobScout).IsZero() {
		t.Error("scout job not scheduled")
	}
	if !s.Next(JobRefresh).IsZero() {
		t.Error("refresh job scheduled without an expression")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(config.PipelineConfig{}, config.ScheduleConfig{Scout: "every six hours"})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for bad cron expression")
	}
}

func TestRunJobUnknown(t *testing.T) {
	s := newFixture(t).scheduler(config.PipelineConfig{}, config.ScheduleConfig{})
	if err := s.RunJob(context.Background(), "compact"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}
