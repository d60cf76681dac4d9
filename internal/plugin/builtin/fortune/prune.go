package fortune

import (
	"context"
	"time"

	"fortunebot/internal/eventbus"
	"fortunebot/internal/storage"
	logx "fortunebot/pkg/logx"
)

const (
	pruneJob     = "prune"
	pruneTimeout = time.Minute
)

// pruneSpec runs shortly after midnight in the plugin timezone.
func pruneSpec(s *settings) string {
	return "CRON_TZ=" + s.loc.String() + " 5 0 * * *"
}

// schedulePrune installs (or replaces) the daily prune job. cache_days 0
// disables it.
func (p *Plugin) schedulePrune(s *settings) {
	if s.cfg.CacheDays <= 0 {
		p.RemoveCron(pruneJob)
		return
	}
	if _, err := p.Cron(pruneJob, pruneSpec(s), pruneTimeout, p.prune); err != nil {
		p.Log.Warn("prune job not scheduled", logx.Err(err))
	}
}

// prune drops daily records older than cache_days. History is kept.
func (p *Plugin) prune(ctx context.Context) error {
	st := p.snapshot()
	if st == nil || st.s.cfg.CacheDays <= 0 {
		return nil
	}
	cutoff := p.now().In(st.s.loc).AddDate(0, 0, -st.s.cfg.CacheDays).Format(dateLayout)
	n, err := st.stores.Records.PruneBefore(cutoff)

	e := storage.AuditEntry{Action: "fortune.prune", Target: cutoff, OK: err == nil, Meta: map[string]any{"days": n}}
	if err != nil {
		e.Error = err.Error()
	}
	p.Audit(ctx, e)
	if err != nil {
		return err
	}
	p.metrics.prunedDays(n)
	if n > 0 {
		p.PublishEvent(eventbus.FortunePruned, 0, map[string]any{"before": cutoff, "days": n})
		p.Log.Info("pruned fortune records", logx.String("before", cutoff), logx.Int("days", n))
	}
	return nil
}
