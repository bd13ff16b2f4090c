// Package scheduler computes subscription cadence and fires recurring
// sweeps.
//
// NextRun aligns a subscription to its frequency class and preferred hour.
// Service wraps robfig/cron and triggers registered jobs on cron or
// interval schedules; overlapping firings of one job are skipped.
package scheduler
