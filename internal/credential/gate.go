package credential

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// State is the gate state.
type State string

const (
	StateLoading  State = "loading"
	StateLocked   State = "locked"
	StateUnlocked State = "unlocked"
)

// AlertSelectionFailed is shown when the selection flow reports an expired or invalid key.
const AlertSelectionFailed = "Key selection failed or expired. Please try again."

// Gate blocks everything behind it until a usable key is selected. Once unlocked it is not re-checked.
type Gate struct {
	provider Provider // nil means the capability is absent

	mu       sync.RWMutex
	state    State
	alert    string
	checked  bool
	onChange func(State)
}

// NewGate returns a gate in the loading state. provider may be nil.
func NewGate(provider Provider) *Gate {
	return &Gate{provider: provider, state: StateLoading}
}

// OnChange registers a callback invoked after every state transition.
func (g *Gate) OnChange(fn func(State)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

// Provider returns the credential capability behind the gate (may be nil).
func (g *Gate) Provider() Provider { return g.provider }

// State returns the current gate state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Alert returns the last user-visible alert, if any.
func (g *Gate) Alert() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.alert
}

// Unlocked reports whether descendants may run.
func (g *Gate) Unlocked() bool { return g.State() == StateUnlocked }

// Check asks the capability whether a key is already selected. It runs at most once; later calls
// return the resolved state.
func (g *Gate) Check(ctx context.Context) State {
	g.mu.Lock()
	if g.checked {
		state := g.state
		g.mu.Unlock()
		return state
	}
	g.checked = true
	g.mu.Unlock()

	next := StateLocked
	if g.provider != nil {
		selected, err := g.provider.HasSelectedKey(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Error checking API key")
		} else if selected {
			next = StateUnlocked
		}
	}
	g.transition(next, "")
	return next
}

// Select runs the selection flow. On success the gate unlocks; ErrEntityNotFound resets it to locked
// with an alert. Other failures are logged and leave the state as it was. Without a capability this is a no-op.
func (g *Gate) Select(ctx context.Context) (State, error) {
	if g.provider == nil {
		return g.State(), nil
	}
	if g.Unlocked() {
		return StateUnlocked, nil
	}

	if err := g.provider.OpenSelectKey(ctx); err != nil {
		log.Error().Err(err).Msg("Error selecting key")
		if errors.Is(err, ErrEntityNotFound) {
			g.transition(StateLocked, AlertSelectionFailed)
			return StateLocked, err
		}
		return g.State(), err
	}

	g.transition(StateUnlocked, "")
	return StateUnlocked, nil
}

func (g *Gate) transition(next State, alert string) {
	g.mu.Lock()
	changed := g.state != next
	g.state = next
	g.alert = alert
	g.checked = true
	fn := g.onChange
	g.mu.Unlock()

	if changed && fn != nil {
		fn(next)
	}
}
