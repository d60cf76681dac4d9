// Package scheduler runs named cron jobs in a configurable timezone.
//
// Jobs are registered by name; registering the same name again replaces the
// previous job. Overlapping runs of one job are skipped.
package scheduler
