// Package history keeps an append-only log of on-demand verdicts in SQLite.
//
// Only the classification outcome is stored: session id, payload kind,
// verdict, probability, risk level and timestamp. Media never reaches disk.
// Live monitoring results are not recorded.
package history
