// Package health names the states a source moves through. The counters
// behind them are updated atomically by the source repository: a failure
// increments consecutive_failures and deactivates at the threshold, an
// unchanged or successful fetch resets it, rate limiting leaves it alone and
// only an explicit reactivation clears a deactivated source.
package health

type State string

const (
	StateHealthy     State = "active_healthy"
	StateDegraded    State = "active_degraded"
	StateDeactivated State = "deactivated"
)

// Derive maps stored counters to a state.
func Derive(failures int, active bool) State {
	switch {
	case !active:
		return StateDeactivated
	case failures > 0:
		return StateDegraded
	default:
		return StateHealthy
	}
}
