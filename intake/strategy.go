package intake

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/telegate/gwcore/model"
)

// Decision is what a Report-Strategy program returns for one
// submission (SPEC_FULL §3).
type Decision string

const (
	Forward  Decision = "FORWARD"
	Batch    Decision = "BATCH"
	Suppress Decision = "SUPPRESS"
)

// Strategy decides what to do with a submission before it reaches the
// intake queue. Disabled is the zero value's behavior: always Forward.
type Strategy interface {
	Decide(data *model.ConvertedData) (Decision, error)
}

// disabledStrategy always forwards — the default when
// thingsboard.reportStrategy.type is "DISABLED" or unset.
type disabledStrategy struct{}

func (disabledStrategy) Decide(*model.ConvertedData) (Decision, error) { return Forward, nil }

// Disabled is the shared no-op strategy.
var Disabled Strategy = disabledStrategy{}

// jsStrategy evaluates an inline JS program per submission in a goja
// VM. The program is expected to define a function
// reportStrategy(deviceName, deviceType, telemetry, attributes) that
// returns one of "FORWARD", "BATCH", "SUPPRESS". A single VM is reused
// across calls (goja.Runtime is not goroutine-safe, hence the mutex);
// this mirrors goja's typical single-VM-per-caller embedding pattern.
type jsStrategy struct {
	mu  sync.Mutex
	vm  *goja.Runtime
	fn  goja.Callable
}

// NewJSStrategy compiles script and binds its reportStrategy function.
func NewJSStrategy(script string) (Strategy, error) {
	vm := goja.New()
	if _, err := vm.RunString(script); err != nil {
		return nil, fmt.Errorf("intake: compile report-strategy script: %w", err)
	}

	fnVal := vm.Get("reportStrategy")
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("intake: report-strategy script must define function reportStrategy(...)")
	}

	return &jsStrategy{vm: vm, fn: fn}, nil
}

func (s *jsStrategy) Decide(data *model.ConvertedData) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.fn(goja.Undefined(),
		s.vm.ToValue(data.DeviceName),
		s.vm.ToValue(data.DeviceType),
		s.vm.ToValue(data.Telemetry),
		s.vm.ToValue(data.Attributes),
	)
	if err != nil {
		return "", fmt.Errorf("intake: report-strategy script error: %w", err)
	}

	switch Decision(result.String()) {
	case Forward, Batch, Suppress:
		return Decision(result.String()), nil
	default:
		return Forward, nil
	}
}

