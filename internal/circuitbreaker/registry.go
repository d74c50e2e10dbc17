package circuitbreaker

import "sync"

// Registry holds one Breaker per model, created lazily with a shared set of
// options.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     []Option
	onChange func(model string, from, to State)
}

// NewRegistry creates an empty Registry. The options are applied to every
// breaker the registry creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

// OnStateChange registers a hook invoked with the model name on every
// breaker transition. Set it before the first Get; breakers created earlier
// do not pick it up.
func (r *Registry) OnStateChange(fn func(model string, from, to State)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Get returns the breaker for the given model, creating it if necessary.
func (r *Registry) Get(model string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[model]
	if !ok {
		opts := r.opts
		if fn := r.onChange; fn != nil {
			opts = append(opts[:len(opts):len(opts)], WithOnStateChange(func(from, to State) {
				fn(model, from, to)
			}))
		}
		b = New(opts...)
		r.breakers[model] = b
	}
	return b
}

// States returns a snapshot of every known breaker's state. Reading the state
// may transition Open breakers to HalfOpen if their cooldown has elapsed.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	breakers := make(map[string]*Breaker, len(r.breakers))
	for model, b := range r.breakers {
		breakers[model] = b
	}
	r.mu.Unlock()

	states := make(map[string]State, len(breakers))
	for model, b := range breakers {
		states[model] = b.CurrentState()
	}
	return states
}

// ResetAll forces every known breaker back to Closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}
