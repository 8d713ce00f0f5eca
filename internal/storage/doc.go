// Package storage persists task registration records.
//
// A record is two artifacts addressed by the task id: the instructions text
// and the JSON metadata (search query, schedule, recipient). Backends write
// and delete both as one unit; a record with only one artifact, or whose
// artifacts disagree, is reported as corrupt and never handed out as a
// valid task.
//
// Drivers:
//   - "file": <dir>/<id>.txt + <dir>/<id>.json (default)
//   - "sqlite": one row per task (build tag sqlite)
//   - "redis": two keys per task written in MULTI/EXEC
package storage
