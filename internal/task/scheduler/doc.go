// Package scheduler fires jobs on cron or interval triggers in a configured
// time zone.
//
// It only decides when work starts. Each trigger enqueues a task into the
// task engine, which owns execution, timeouts and the per-job busy gate.
package scheduler
