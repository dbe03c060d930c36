// Package scheduler triggers named jobs on cron or interval schedules.
//
// Jobs never overlap with themselves: a trigger that fires while the previous
// run is still going is skipped and counted. Each run gets its own context
// derived from the service context, bounded by the job timeout.
package scheduler
