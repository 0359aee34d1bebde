// Package monitor runs the reachability monitor loop.
//
// # Cycle
//
// Each cycle re-reads the monitor options, snapshots the device registry,
// probes every enabled device sequentially in snapshot order, writes the
// outcome back through the registry, and appends a StatusChanged audit
// entry on every transition. The loop then sleeps for the currently
// applied poll interval.
//
// # Failure Containment
//
// A failed probe is a normal offline outcome, not an error. Any failure
// inside a cycle is contained to that cycle; the loop only exits on
// cancellation or Stop.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/uptrack-net/uptrack/internal/probe"
	"github.com/uptrack-net/uptrack/pkg/types"
)

// DeviceStore is the registry surface the monitor needs.
type DeviceStore interface {
	GetAll() []types.Device
	Upsert(types.Device) types.Device
}

// LogStore receives audit entries for status transitions and applied
// settings.
type LogStore interface {
	Append(types.LogEntry)
}

// SettingsSource supplies the current monitor options. Implementations
// degrade to their last-known-good snapshot on read failure.
type SettingsSource interface {
	GetMonitor() types.MonitorOptions
}

// Config holds loop tuning that is not part of MonitorOptions.
type Config struct {
	// StartupDelay is the fixed wait before the first cycle, giving the
	// rest of the process time to initialize.
	StartupDelay time.Duration

	// ProbesPerSecond paces sequential probes within a cycle so a large
	// inventory does not burst the network. Zero disables pacing.
	ProbesPerSecond float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StartupDelay:    3 * time.Second,
		ProbesPerSecond: 10,
	}
}

// Monitor is the long-lived reachability loop.
type Monitor struct {
	devices  DeviceStore
	log      LogStore
	settings SettingsSource
	prober   probe.Prober
	config   Config
	logger   *slog.Logger
	limiter  *rate.Limiter

	stopCh chan struct{}
	doneCh chan struct{}

	// applied is the configuration in effect; the loop is its sole owner.
	applied    types.MonitorOptions
	hasApplied bool
}

// New creates a monitor. The prober may be swapped for tests.
func New(devices DeviceStore, log LogStore, settings SettingsSource, prober probe.Prober, config Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if config.ProbesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.ProbesPerSecond), 1)
	}
	return &Monitor{
		devices:  devices,
		log:      log,
		settings: settings,
		prober:   prober,
		config:   config,
		logger:   logger.With("component", "monitor"),
		limiter:  limiter,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the loop in a goroutine.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop signals the loop to exit. The loop finishes its current wait or
// probe promptly; Done is closed once it has returned.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

// Done is closed when the loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.doneCh
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	m.logger.Info("monitor starting", "startup_delay", m.config.StartupDelay)
	if !m.sleep(ctx, m.config.StartupDelay) {
		m.logger.Info("monitor stopped before first cycle")
		return
	}

	for {
		m.runCycle(ctx)

		interval := m.applied.PollInterval()
		if interval <= 0 {
			// No configuration applied yet; retry at the default cadence.
			interval = types.DefaultMonitorOptions().PollInterval()
		}
		if !m.sleep(ctx, interval) {
			m.logger.Info("monitor stopping")
			return
		}
	}
}

// sleep waits for d, returning false when the loop should exit.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-m.stopCh:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// runCycle executes one full monitor cycle. All failures are contained
// here so one bad cycle never stops subsequent cycles.
func (m *Monitor) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor cycle panicked", "panic", r)
		}
	}()

	start := time.Now()

	m.reloadConfig()
	if !m.hasApplied {
		// Never probe with an unvalidated zero timeout; wait for a
		// usable configuration.
		m.logger.Warn("no valid monitor options yet, skipping probes")
		return
	}

	snapshot := m.devices.GetAll()
	if len(snapshot) == 0 {
		m.logger.Debug("no devices to probe")
		return
	}

	probed, changed := 0, 0
	for _, device := range snapshot {
		if m.cancelled(ctx) {
			return
		}
		if !device.Enabled {
			continue
		}

		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return
			}
		}

		result, err := m.prober.Probe(ctx, device.IP, m.applied)
		if ctx.Err() != nil {
			// A probe aborted by shutdown must not mark the device offline.
			return
		}
		if err != nil {
			m.logger.Debug("probe failed", "device", device.Name, "ip", device.IP, "error", err)
		}

		probed++
		if m.applyResult(device, result.Reachable && err == nil) {
			changed++
		}
	}

	m.logger.Debug("monitor cycle complete",
		"duration", time.Since(start),
		"devices", len(snapshot),
		"probed", probed,
		"transitions", changed)
}

func (m *Monitor) cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

// reloadConfig reads the current options, emits a SettingsApplied entry
// when they differ from the last applied snapshot, and adopts them. The
// very first read is adopted silently.
func (m *Monitor) reloadConfig() {
	opts := m.settings.GetMonitor()
	if err := opts.Validate(); err != nil {
		// Keep the last successfully applied configuration.
		m.logger.Warn("ignoring invalid monitor options", "error", err)
		return
	}

	if !m.hasApplied {
		m.applied = opts
		m.hasApplied = true
		return
	}
	if m.applied.Equal(opts) {
		return
	}

	diff := m.applied.Diff(opts)
	details := make(map[string]string, len(diff))
	for field, change := range diff {
		if data, err := json.Marshal(change); err == nil {
			details[field] = string(data)
		}
	}

	m.log.Append(types.LogEntry{
		Source:  types.SourceSystem,
		Action:  types.ActionSettingsApplied,
		Actor:   "system",
		Message: "Monitor settings applied",
		Details: details,
	})
	m.logger.Info("monitor settings applied", "changed_fields", len(diff))

	m.applied = opts
}

// applyResult writes the probe outcome back through the registry and
// appends a StatusChanged entry when the status transitioned. Reports
// whether a transition happened.
func (m *Monitor) applyResult(device types.Device, reachable bool) bool {
	newStatus := types.StatusOffline
	if reachable {
		newStatus = types.StatusOnline
	}

	updated := device.Clone()
	updated.Status = newStatus
	if reachable {
		now := time.Now().UTC()
		updated.LastSeen = &now
	}

	// Upsert regardless of transition so last-seen stays fresh.
	m.devices.Upsert(updated)

	if device.Status == newStatus {
		return false
	}

	level := "Info"
	if newStatus == types.StatusOffline {
		level = "Warning"
	}
	m.log.Append(types.LogEntry{
		Level:      level,
		Source:     types.SourceMonitor,
		Action:     types.ActionStatusChanged,
		Actor:      "system",
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Message:    fmt.Sprintf("%s is %s (%s)", device.Name, newStatus, device.IP),
		Details: map[string]string{
			"oldStatus": string(device.Status),
			"newStatus": string(newStatus),
			"ip":        device.IP,
			"vlan":      device.VLAN,
		},
	})
	return true
}
