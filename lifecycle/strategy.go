package lifecycle

import (
	"github.com/telegate/gwcore/intake"
	"github.com/telegate/gwcore/model"
	"github.com/telegate/gwcore/registry"
)

// ConnectorResolver is the slice of the Device Registry RoutedStrategy
// needs: which connector currently owns a device name.
type ConnectorResolver interface {
	Get(name string) (model.Device, bool)
}

var _ ConnectorResolver = (*registry.Registry)(nil)

// RoutedStrategy implements intake.Strategy by consulting the
// submitting device's owning connector (spec §4.6 step 4: "register a
// per-connector report strategy if present; otherwise inherit the
// global strategy"). The shared Intake evaluates exactly one Strategy
// for every submission regardless of connector, so routing happens
// here rather than in the intake package itself: a device already
// known to the registry resolves to its connector's own strategy; an
// unregistered or not-yet-connected device falls back to global.
type RoutedStrategy struct {
	registry     ConnectorResolver
	perConnector map[string]intake.Strategy
	global       intake.Strategy
}

func NewRoutedStrategy(reg ConnectorResolver, global intake.Strategy) *RoutedStrategy {
	if global == nil {
		global = intake.Disabled
	}
	return &RoutedStrategy{registry: reg, perConnector: make(map[string]intake.Strategy), global: global}
}

// Register binds a connector name to its own report-strategy program.
func (s *RoutedStrategy) Register(connectorName string, strategy intake.Strategy) {
	s.perConnector[connectorName] = strategy
}

func (s *RoutedStrategy) Decide(data *model.ConvertedData) (intake.Decision, error) {
	if dev, ok := s.registry.Get(data.DeviceName); ok {
		if strategy, ok := s.perConnector[dev.ConnectorName]; ok {
			return strategy.Decide(data)
		}
	}
	return s.global.Decide(data)
}
