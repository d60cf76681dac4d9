package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "fortunebot/pkg/logx"
)

// parser accepts 5-field specs, optional seconds, descriptors (@daily,
// @every 1h) and a CRON_TZ=/TZ= prefix.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	loc  *time.Location
	c    *cron.Cron
	jobs map[string]*jobDef

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, jobs: map[string]*jobDef{}, loc: loadLocation(cfg.Timezone, log)}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// ValidateSpec reports whether spec parses.
func ValidateSpec(spec string) error {
	_, err := parser.Parse(spec)
	return err
}

// Start begins triggering jobs. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) startLocked() {
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	for _, d := range s.jobs {
		if err := s.registerLocked(d); err != nil {
			s.log.Error("job register failed", logx.String("job", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop halts triggering, cancels running jobs and waits for them, bounded by
// ctx. Registered jobs are kept for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; jobs still running")
	}
	s.log.Info("scheduler stopped")
}

// Apply updates the config. A timezone change re-registers every job.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	loc := loadLocation(cfg.Timezone, s.log)
	running := s.c != nil
	tzChanged := loc.String() != s.loc.String()
	s.loc = loc
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(ctx)
	case !running && cfg.Enabled:
		s.Start(ctx)
	case running && tzChanged:
		s.Stop(ctx)
		s.Start(ctx)
	}
	if old != cfg {
		s.log.Info("scheduler config applied", logx.Bool("enabled", cfg.Enabled), logx.String("tz", loc.String()))
	}
}

// AddCron registers job under name, replacing any job with that name.
// timeout bounds each run (0 means no limit beyond Stop).
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("job name required")
	}
	if job == nil {
		return "", errors.New("job func required")
	}
	if err := ValidateSpec(spec); err != nil {
		return "", fmt.Errorf("job %s: invalid spec %q: %w", name, spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &jobDef{name: name, spec: spec, timeout: timeout, job: job}
	s.jobs[name] = d
	if s.c != nil {
		if err := s.registerLocked(d); err != nil {
			return "", err
		}
	}
	s.log.Debug("job registered", logx.String("job", name), logx.String("spec", spec))
	return name, nil
}

// Remove unregisters a job. It reports whether the job existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.jobs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.jobs, name)
	return true
}

func (s *Service) registerLocked(d *jobDef) error {
	id, err := s.c.AddFunc(d.spec, func() { s.run(d) })
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// runNow runs a registered job synchronously, outside its schedule.
func (s *Service) runNow(ctx context.Context, name string) error {
	s.mu.Lock()
	d, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return s.exec(ctx, d)
}

func (s *Service) run(d *jobDef) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	_ = s.exec(ctx, d)
}

func (s *Service) exec(ctx context.Context, d *jobDef) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	start := time.Now()
	err := d.job(ctx)
	took := time.Since(start)

	s.mu.Lock()
	d.stats.Runs++
	d.stats.LastRun = start
	d.stats.LastDur = took
	d.stats.LastErr = ""
	if err != nil {
		d.stats.Fails++
		d.stats.LastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", logx.String("job", d.name), logx.Duration("took", took), logx.Err(err))
	} else {
		s.log.Debug("job done", logx.String("job", d.name), logx.Duration("took", took))
	}
	return err
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: s.loc.String()}
	for _, d := range s.jobs {
		info := JobInfo{Name: d.name, Spec: d.spec, Stats: d.stats}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Jobs = append(snap.Jobs, info)
	}
	slices.SortFunc(snap.Jobs, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return snap
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
