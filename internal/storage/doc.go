// Package storage is the persistence layer of the scheduling engine.
//
// It provides:
//   - Store: children, vaccine definitions, vaccination records and notifications
//     ("memory" and "sqlite" drivers)
//   - Journal: append-only JSON Lines log of job executions
//
// Every write is a single-row operation; nothing here spans rows in a transaction.
package storage
