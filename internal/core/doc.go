// Package core runs CSV and JSON conversions as tracked jobs.
//
// It sits between the conversion drivers in package convert and the
// transports (the HTTP server, the command line). Nothing here knows about
// HTTP.
//
// # Jobs
//
// [Service.Run] converts in the calling goroutine; [Service.Start] converts
// in the background and returns a job id that [Service.Subscribe],
// [Service.Wait] and [Service.Cancel] accept. Every job takes one slot of
// the [Limiter] for its whole run, so the number of files open for
// conversion is bounded. [Service.ConvertDir] fans a directory out over the
// same slots.
//
// # History
//
// Jobs are written to a [HistoryStore] when queued, when started and when
// finished:
//
//   - [MemoryHistory]: process memory, optionally capped.
//   - [FileHistory]: a typed JSON file rewritten after every change.
//   - [PostgresHistory]: the conversion_jobs table.
//
// [Service.StartHistoryPruner] deletes finished jobs past their retention.
//
// # Error Handling
//
// [MapError] turns conversion errors into messages with support codes:
//
//   - CFG: reader configuration (names, types, encodings, formats)
//   - STR: record shape mismatches
//   - CNV: cell type conversion
//   - JSN: JSON syntax and format detection
//   - FILE: missing, empty or oversized files
//   - JOB: cancelled, timed out or unknown jobs
//   - RATE: limiter and request throttling
package core
