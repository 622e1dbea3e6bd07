package core

import "errors"

// MaxSteppers is the number of controller slots per firmware instance
const MaxSteppers = 16

var (
	ErrOIDRange  = errors.New("stepper OID exceeds maximum")
	ErrOIDInUse  = errors.New("stepper OID already configured")
	ErrNoStepper = errors.New("no stepper configured for OID")
)

// Registry maps object IDs to independent controllers so that one main
// loop can run several motors. It is driven from a single goroutine.
type Registry struct {
	steppers [MaxSteppers]*Controller
	count    int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Add stores c under oid
func (r *Registry) Add(oid uint8, c *Controller) error {
	if oid >= MaxSteppers {
		return ErrOIDRange
	}
	if r.steppers[oid] != nil {
		return ErrOIDInUse
	}
	r.steppers[oid] = c
	r.count++
	return nil
}

// Get returns the controller for oid, or nil
func (r *Registry) Get(oid uint8) *Controller {
	if oid >= MaxSteppers {
		return nil
	}
	return r.steppers[oid]
}

// Lookup is Get with an error for unknown OIDs
func (r *Registry) Lookup(oid uint8) (*Controller, error) {
	c := r.Get(oid)
	if c == nil {
		return nil, ErrNoStepper
	}
	return c, nil
}

// Remove stops and forgets the controller for oid
func (r *Registry) Remove(oid uint8) {
	if c := r.Get(oid); c != nil {
		c.Stop()
		r.steppers[oid] = nil
		r.count--
	}
}

// Len returns the number of configured controllers
func (r *Registry) Len() int {
	return r.count
}

// Each calls fn for every configured controller in OID order
func (r *Registry) Each(fn func(oid uint8, c *Controller)) {
	for i, c := range r.steppers {
		if c != nil {
			fn(uint8(i), c)
		}
	}
}

// TickAll ticks every controller once and returns the number of steps
// taken. GPIO errors are logged and recorded; they do not stop the loop.
func (r *Registry) TickAll() int {
	steps := 0
	for i, c := range r.steppers {
		if c == nil || !c.Active() {
			continue
		}
		stepped, err := c.Tick()
		if !stepped {
			continue
		}
		steps++
		if err != nil {
			RecordTiming(EvtError, uint8(i), uint32(c.Phase()), 0)
			DebugPrintln("[STEPPER] oid=" + itoa(i) + " write failed: " + err.Error())
			continue
		}
		RecordTiming(EvtStep, uint8(i), uint32(c.Phase()), c.Remaining())
	}
	return steps
}

// Active returns true if any controller has a move in progress
func (r *Registry) Active() bool {
	for _, c := range r.steppers {
		if c != nil && c.Active() {
			return true
		}
	}
	return false
}

// Reset stops and removes all controllers
func (r *Registry) Reset() {
	for i := range r.steppers {
		if r.steppers[i] != nil {
			r.steppers[i].Stop()
			r.steppers[i] = nil
		}
	}
	r.count = 0
}
