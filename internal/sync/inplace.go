package sync

import (
	"context"

	"mrsm/internal/action"
	"mrsm/internal/instance"
	"mrsm/internal/pipe"
)

// tryInplace attempts the in-place fast path of spec section 4.5: a
// pipe whose connector and instance are the same backend can sync
// without the fetch/filter/apply round trip through this process. The
// bool return reports whether the in-place path was taken at all; when
// false, Sync falls through to the general path.
func (s *Syncer) tryInplace(ctx context.Context, p *pipe.Pipe) (action.Result, bool, error) {
	if p.Parameters.SourceQuery == "" {
		return action.Result{}, false, nil
	}
	inplace, ok := instance.SupportsInplace(s.Target)
	if !ok {
		return action.Result{}, false, nil
	}
	res, err := inplace.SyncPipeInplace(ctx, p)
	return res, true, err
}
