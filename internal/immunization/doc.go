// Package immunization holds the vaccination domain model and the pure rules
// the scheduling engine is built on: age/date arithmetic, eligibility windows
// and the vaccination record state machine.
//
// Nothing in this package performs I/O. Services that read or write records
// (schedule, lifecycle, reminder, retention) depend on it, never the reverse.
package immunization
