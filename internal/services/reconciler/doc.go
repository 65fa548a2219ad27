// Package reconciler runs the periodic loop that advances persisted requests
// through their lifecycle: Scheduled -> Posted -> removed.
//
// Each tick re-reads the store, posts rows whose lead window opened and
// retracts-and-removes rows whose end passed. No row state is kept in memory
// across ticks, so a restart resumes correctly from durable state alone.
// Ticks never overlap: a capacity-1 queue drained by a single worker drops
// trigger firings that arrive while a tick is still running.
package reconciler
