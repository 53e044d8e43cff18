package apply

import (
	"context"
	"fmt"

	"github.com/cobaltdata/schemaport/internal/provider"
)

// runDataBucket wraps the data units in the constraint lifecycle: suspend
// enforcement, load rows in planned order, restore enforcement, then
// validate. Violations are reported by constraint name and never trigger
// an automatic rollback; deciding whether to abort on them is the
// caller's call.
func (e *Engine) runDataBucket(ctx context.Context, ba BucketArtifacts) (BucketReport, []provider.Violation, error) {
	if err := e.sess.SuspendConstraints(ctx); err != nil {
		return BucketReport{Bucket: ba.Bucket}, nil, fmt.Errorf("failed to suspend constraints: %w", err)
	}

	br := e.runSequentialBucket(ctx, ba)

	if err := e.sess.RestoreConstraints(ctx); err != nil {
		return br, nil, fmt.Errorf("failed to restore constraints: %w", err)
	}

	violations, err := e.sess.CheckConstraints(ctx)
	if err != nil {
		return br, nil, fmt.Errorf("failed to validate constraints: %w", err)
	}
	for _, v := range violations {
		e.config.Logger.Printf("constraint violation: %s (%d row(s))", v.Constraint, v.Rows)
	}
	return br, violations, nil
}
