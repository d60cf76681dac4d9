package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Shanghai"
}

type Job func(ctx context.Context) error

type jobDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	stats JobStats
}

// JobStats is the run history of one job.
type JobStats struct {
	Runs    int
	Fails   int
	LastRun time.Time
	LastErr string
	LastDur time.Duration
}

type JobInfo struct {
	Name  string
	Spec  string
	Next  time.Time
	Prev  time.Time
	Stats JobStats
}

type Snapshot struct {
	Enabled  bool
	Running  bool
	Timezone string
	Jobs     []JobInfo
}
