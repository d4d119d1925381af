package power

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// ThermalState mirrors the platform's coarse thermal pressure scale.
type ThermalState int

const (
	ThermalNominal ThermalState = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

func (s ThermalState) String() string {
	switch s {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return fmt.Sprintf("thermal(%d)", int(s))
	}
}

// Context is the published power state plus the detection parameters derived
// from it. Values are immutable once published; readers always see a
// consistent pair of threshold and environment.
type Context struct {
	LowPowerMode bool
	ThermalState ThermalState

	// ThresholdDB is the adaptive VAD sensitivity: the base threshold raised
	// under constrained power so fewer marginal frames trigger inference.
	ThresholdDB float64

	// Environment classifies the operating conditions for the VAD worker:
	// "battery", "noisy" or "office". Low power wins over thermal pressure.
	Environment string
}

const (
	baseThresholdDB     = -30.0
	lowPowerPenaltyDB   = 5.0
	thermalPenaltyDB    = 3.0
	defaultPollInterval = 30 * time.Second
)

// Controller recomputes the detection parameters whenever the power or
// thermal state changes and publishes them with an atomic pointer swap, so
// the dispatcher reads them lock-free before every request. Single writer:
// all mutations funnel through the internal mutex.
type Controller struct {
	mu      sync.Mutex
	current atomic.Pointer[Context]
	logger  *slog.Logger
}

type Config struct {
	Logger *slog.Logger
}

func NewController(cfg *Config) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		logger: logger.With("component", "power"),
	}
	c.current.Store(compute(false, ThermalNominal))

	return c, nil
}

// Current returns the last published context. Never nil.
func (c *Controller) Current() *Context {
	return c.current.Load()
}

// SetLowPowerMode records a low-power-mode change notification.
func (c *Controller) SetLowPowerMode(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	if prev.LowPowerMode == enabled {
		return
	}

	c.publish(compute(enabled, prev.ThermalState))
}

// SetThermalState records a thermal-state change notification.
func (c *Controller) SetThermalState(state ThermalState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	if prev.ThermalState == state {
		return
	}

	c.publish(compute(prev.LowPowerMode, state))
}

func (c *Controller) publish(next *Context) {
	c.current.Store(next)

	c.logger.Info("power context changed",
		"low_power", next.LowPowerMode,
		"thermal", next.ThermalState.String(),
		"threshold_db", next.ThresholdDB,
		"environment", next.Environment)
}

func compute(lowPower bool, thermal ThermalState) *Context {
	threshold := baseThresholdDB
	if lowPower {
		threshold += lowPowerPenaltyDB
	}
	if thermal != ThermalNominal {
		threshold += thermalPenaltyDB
	}

	env := "office"
	switch {
	case lowPower:
		env = "battery"
	case thermal != ThermalNominal:
		env = "noisy"
	}

	return &Context{
		LowPowerMode: lowPower,
		ThermalState: thermal,
		ThresholdDB:  threshold,
		Environment:  env,
	}
}

// Poll derives the thermal state from host temperature sensors at the given
// interval until ctx is cancelled. It is a stand-in on platforms without a
// thermal notification API; hosts without sensors simply stay nominal.
func (c *Controller) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := readThermalState(ctx)
			if err != nil {
				c.logger.Debug("thermal sensor read failed", "error", err)

				continue
			}

			c.SetThermalState(state)
		}
	}
}

func readThermalState(ctx context.Context) (ThermalState, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		return ThermalNominal, err
	}

	var hottest float64
	for _, t := range temps {
		if t.Temperature > hottest {
			hottest = t.Temperature
		}
	}

	switch {
	case hottest >= 95:
		return ThermalCritical, nil
	case hottest >= 85:
		return ThermalSerious, nil
	case hottest >= 75:
		return ThermalFair, nil
	default:
		return ThermalNominal, nil
	}
}
