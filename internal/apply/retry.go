package apply

import (
	"context"

	"github.com/cobaltdata/schemaport/internal/provider"
)

// runRetryBucket drives the pending -> applying -> applied/failed state
// machine over multiple passes. Units that fail on an unresolved reference
// requeue for the next pass; any other failure is terminal. The loop ends
// when everything has applied, a full pass makes zero progress, or the
// pass budget runs out.
func (e *Engine) runRetryBucket(ctx context.Context, ba BucketArtifacts) BucketReport {
	type unit struct {
		art      Artifact
		state    UnitState
		attempts int
		lastErr  error
	}
	units := make([]*unit, len(ba.Artifacts))
	for i, art := range ba.Artifacts {
		units[i] = &unit{art: art, state: StatePending}
	}

	br := BucketReport{Bucket: ba.Bucket}
	for pass := 1; pass <= e.config.MaxPasses; pass++ {
		br.Passes = pass
		pending := 0
		progressed := false

		for _, u := range units {
			if u.state != StatePending {
				continue
			}
			u.state = StateApplying
			u.attempts++
			err := e.applyArtifact(ctx, u.art)
			switch {
			case err == nil:
				u.state = StateApplied
				progressed = true
			case provider.IsRetryable(err):
				// Failed this pass; back in line for the next one.
				u.state = StatePending
				u.lastErr = err
				pending++
				e.config.Logger.Printf("%s/%s deferred (pass %d): %v", ba.Dir, u.art.Name, pass, err)
			default:
				u.state = StateFailed
				u.lastErr = err
				e.config.Logger.Printf("%s/%s failed: %v", ba.Dir, u.art.Name, err)
			}
		}

		if pending == 0 {
			break
		}
		if !progressed {
			e.config.Logger.Printf("%s: no progress in pass %d, %d unit(s) unresolved", ba.Dir, pass, pending)
			break
		}
	}

	for _, u := range units {
		if u.state == StatePending {
			u.state = StateFailed
		}
		br.Results = append(br.Results, UnitResult{
			Artifact: u.art,
			State:    u.state,
			Attempts: u.attempts,
			Err:      u.lastErr,
		})
	}
	return br
}
