package reward

import (
	"sync/atomic"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

// Reloadable is a RewardFunction whose parameters can be swapped while
// learning steps are in flight.
type Reloadable struct {
	current atomic.Pointer[Calculator]
}

// NewReloadable wraps c. A nil c uses the default parameters.
func NewReloadable(c *Calculator) *Reloadable {
	if c == nil {
		c = Default()
	}
	r := &Reloadable{}
	r.current.Store(c)
	return r
}

// Calculate implements RewardFunction.
func (r *Reloadable) Calculate(result models.ExecutionResult) float64 {
	return r.current.Load().Calculate(result)
}

// Swap replaces the active calculator.
func (r *Reloadable) Swap(c *Calculator) {
	if c != nil {
		r.current.Store(c)
	}
}

// Params returns the parameters of the active calculator.
func (r *Reloadable) Params() Params {
	return r.current.Load().Params()
}
