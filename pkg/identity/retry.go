package identity

import (
	"context"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// callState tracks a mutating call through its staleness recovery. Keeping
// the states explicit makes the one-retry guarantee auditable: the machine
// can pass through Refreshing at most once.
type callState int

const (
	stateAttempting callState = iota
	stateRefreshing
	stateRetrying
	stateDone
	stateFailed
)

// WithRefreshRetry runs one mutating call with the identity-staleness state
// machine: Attempting -> (AuthStale -> Refreshing -> Retrying) -> Done|Failed.
// Exactly one invalidate+resolve is attempted per failed call; a second
// staleness failure, or any other error, is surfaced unchanged.
func WithRefreshRetry(ctx context.Context, r *Resolver, region string, call func(id *engine.Identity) error) error {
	id, err := r.Resolve(ctx, region)
	if err != nil {
		return err
	}

	state := stateAttempting
	var lastErr error
	for {
		switch state {
		case stateAttempting, stateRetrying:
			lastErr = call(id)
			switch {
			case lastErr == nil:
				state = stateDone
			case engine.IsAuthStale(lastErr) && state == stateAttempting:
				state = stateRefreshing
			default:
				state = stateFailed
			}

		case stateRefreshing:
			r.logger.Info().Str("region", region).Msg("Stale identity, refreshing once")
			if r.refreshes != nil {
				r.refreshes.RecordIdentityRefresh()
			}
			r.Invalidate(region)
			id, err = r.Resolve(ctx, region)
			if err != nil {
				return err
			}
			state = stateRetrying

		case stateDone:
			return nil

		case stateFailed:
			return lastErr
		}
	}
}
