// Package estimate computes the pipeline's "estimated savings" report
// (SPEC_FULL.md §8/§9): how much wall-clock time a run's parallelism and
// caching bought (or cost) relative to running every recorded action back
// to back.
//
// No source file for this calculator exists in the retrieved pack; the
// formula below is back-derived from the original Rust test fixtures
// (see DESIGN.md) and verified by hand against every numeric expectation
// they assert.
package estimate

import "time"

// cachedMultiplier weights a cached action's recorded duration when
// estimating how long it would have taken uncached. Treated as a fixed
// constant per the open question recorded in DESIGN.md; EstimateConfig
// below names it as a field, but Compute does not read that type.
const cachedMultiplier = 10

// concurrencySavings is the fraction of total RunTask time assumed
// recoverable by running tasks concurrently instead of sequentially.
const concurrencySavings = 0.15

// EstimateConfig names cachedMultiplier and concurrencySavings as fields.
// No function in this package accepts or reads it; Compute always uses
// the fixed constants above.
type EstimateConfig struct {
	CachedMultiplier   float64
	ConcurrencySavings float64
}

// Entry is one recorded action's contribution to the estimate: its actual
// duration, whether it was a RunTask action (as opposed to SyncWorkspace/
// SetupToolchain/SetupEnvironment/InstallDependencies/SyncProject, which
// bucket under "*" and never receive the concurrency discount), the task
// id it ran (RunTask only — used as its bucket key), and whether it was a
// cache hit (applies cachedMultiplier before bucketing).
type Entry struct {
	TaskID   string
	IsTask   bool
	Duration time.Duration
	Cached   bool
}

// Bucket aggregates every entry sharing a bucket key.
type Bucket struct {
	Duration time.Duration
	// Count is the entry count when more than one entry shares the
	// bucket, else 0 — the "*" bucket's count is always forced to 0
	// since it never represents task occurrences.
	Count int
}

// Estimate is the aggregate report for one pipeline run.
type Estimate struct {
	Duration time.Duration
	Gain     time.Duration
	HasGain  bool
	Loss     time.Duration
	HasLoss  bool
	Percent  float64
	Buckets  map[string]Bucket
}

// Compute derives an Estimate from entries (every dispatched action, not
// just RunTask ones) and the pipeline's actual wall-clock duration.
func Compute(entries []Entry, wall time.Duration) Estimate {
	var total, runTaskTotal time.Duration
	buckets := make(map[string]Bucket)
	occurrences := make(map[string]int)

	for _, e := range entries {
		effective := e.Duration
		if e.Cached {
			effective *= cachedMultiplier
		}
		total += effective

		key := "*"
		if e.IsTask {
			runTaskTotal += effective
			key = e.TaskID
			occurrences[key]++
		}

		b := buckets[key]
		b.Duration += effective
		buckets[key] = b
	}

	for key, count := range occurrences {
		b := buckets[key]
		if count > 1 {
			b.Count = count
		} else {
			b.Count = 0
		}
		buckets[key] = b
	}
	if b, ok := buckets["*"]; ok {
		b.Count = 0
		buckets["*"] = b
	}

	duration := total - time.Duration(float64(runTaskTotal)*concurrencySavings)
	if duration < 0 {
		duration = 0
	}

	est := Estimate{Duration: duration, Buckets: buckets}
	switch {
	case duration >= wall:
		est.Gain = duration - wall
		est.HasGain = true
		if duration > 0 {
			est.Percent = float64(est.Gain) / float64(duration) * 100
		}
	default:
		est.Loss = wall - duration
		est.HasLoss = true
		if wall > 0 {
			est.Percent = -(float64(est.Loss) / float64(wall) * 100)
		}
	}
	return est
}
