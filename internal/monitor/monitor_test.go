package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/uptrack-net/uptrack/internal/probe"
	"github.com/uptrack-net/uptrack/pkg/types"
)

// mockDevices is a test device store recording upserts.
type mockDevices struct {
	mu      sync.Mutex
	devices []types.Device
	upserts []types.Device
}

func (m *mockDevices) GetAll() []types.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Device, len(m.devices))
	for i, d := range m.devices {
		out[i] = d.Clone()
	}
	return out
}

func (m *mockDevices) Upsert(d types.Device) types.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, d.Clone())
	for i := range m.devices {
		if m.devices[i].ID == d.ID {
			m.devices[i] = d.Clone()
			return d
		}
	}
	m.devices = append(m.devices, d.Clone())
	return d
}

func (m *mockDevices) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.upserts)
}

// mockLog records appended entries.
type mockLog struct {
	mu      sync.Mutex
	entries []types.LogEntry
}

func (m *mockLog) Append(e types.LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e.Clone())
}

func (m *mockLog) byAction(action types.LogAction) []types.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.LogEntry
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// mockSettings serves a swappable options snapshot.
type mockSettings struct {
	mu   sync.Mutex
	opts types.MonitorOptions
}

func (m *mockSettings) GetMonitor() types.MonitorOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts.Clone()
}

func (m *mockSettings) set(opts types.MonitorOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts
}

// mockProber answers probes from a fixed table.
type mockProber struct {
	mu        sync.Mutex
	ProbeFunc func(ctx context.Context, ip string, opts types.MonitorOptions) (probe.Result, error)
	probedIPs []string
}

func (m *mockProber) Probe(ctx context.Context, ip string, opts types.MonitorOptions) (probe.Result, error) {
	m.mu.Lock()
	m.probedIPs = append(m.probedIPs, ip)
	m.mu.Unlock()
	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx, ip, opts)
	}
	return probe.Result{Reachable: true, Method: "icmp"}, nil
}

func (m *mockProber) probed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.probedIPs...)
}

func newTestMonitor(devices *mockDevices, log *mockLog, settings *mockSettings, prober probe.Prober) *Monitor {
	cfg := Config{StartupDelay: 0, ProbesPerSecond: 0}
	return New(devices, log, settings, prober, cfg, nil)
}

func TestCycle_UnknownToOnline(t *testing.T) {
	devices := &mockDevices{devices: []types.Device{
		{ID: "d1", Name: "Cam", IP: "10.0.0.5", VLAN: "cameras", Status: types.StatusUnknown, Enabled: true},
	}}
	log := &mockLog{}
	settings := &mockSettings{opts: types.DefaultMonitorOptions()}
	m := newTestMonitor(devices, log, settings, &mockProber{})

	m.runCycle(context.Background())

	stored := devices.GetAll()[0]
	if stored.Status != types.StatusOnline {
		t.Fatalf("expected online, got %s", stored.Status)
	}
	if stored.LastSeen == nil {
		t.Fatal("last seen not set on successful probe")
	}

	changes := log.byAction(types.ActionStatusChanged)
	if len(changes) != 1 {
		t.Fatalf("expected exactly one StatusChanged entry, got %d", len(changes))
	}
	e := changes[0]
	if e.Source != types.SourceMonitor || e.Actor != "system" {
		t.Fatalf("wrong source/actor: %+v", e)
	}
	if e.Message != "Cam is online (10.0.0.5)" {
		t.Fatalf("unexpected message: %q", e.Message)
	}
	if e.Details["oldStatus"] != "unknown" || e.Details["newStatus"] != "online" ||
		e.Details["ip"] != "10.0.0.5" || e.Details["vlan"] != "cameras" {
		t.Fatalf("unexpected details: %+v", e.Details)
	}
}

func TestCycle_NoDuplicateEntryWhenStatusUnchanged(t *testing.T) {
	devices := &mockDevices{devices: []types.Device{
		{ID: "d1", Name: "Cam", IP: "10.0.0.5", Status: types.StatusUnknown, Enabled: true},
	}}
	log := &mockLog{}
	settings := &mockSettings{opts: types.DefaultMonitorOptions()}
	m := newTestMonitor(devices, log, settings, &mockProber{})

	m.runCycle(context.Background())
	m.runCycle(context.Background())

	if got := len(log.byAction(types.ActionStatusChanged)); got != 1 {
		t.Fatalf("expected one StatusChanged across two stable cycles, got %d", got)
	}
	// The device is still upserted every cycle to keep last-seen fresh.
	if devices.upsertCount() != 2 {
		t.Fatalf("expected 2 upserts, got %d", devices.upsertCount())
	}
}

func TestCycle_OfflineTransition(t *testing.T) {
	devices := &mockDevices{devices: []types.Device{
		{ID: "d1", Name: "NAS", IP: "10.0.0.9", Status: types.StatusOnline, Enabled: true},
	}}
	log := &mockLog{}
	settings := &mockSettings{opts: types.DefaultMonitorOptions()}
	prober := &mockProber{ProbeFunc: func(context.Context, string, types.MonitorOptions) (probe.Result, error) {
		return probe.Result{}, errors.New("host unreachable")
	}}
	m := newTestMonitor(devices, log, settings, prober)

	before := devices.GetAll()[0].LastSeen
	m.runCycle(context.Background())

	stored := devices.GetAll()[0]
	if stored.Status != types.StatusOffline {
		t.Fatalf("expected offline, got %s", stored.Status)
	}
	if (before == nil) != (stored.LastSeen == nil) {
		t.Fatal("last seen must not change on a failed probe")
	}

	changes := log.byAction(types.ActionStatusChanged)
	if len(changes) != 1 {
		t.Fatalf("expected one StatusChanged entry, got %d", len(changes))
	}
	if changes[0].Message != "NAS is offline (10.0.0.9)" {
		t.Fatalf("unexpected message: %q", changes[0].Message)
	}
	if changes[0].Level != "Warning" {
		t.Fatalf("offline transition should be a warning, got %q", changes[0].Level)
	}
}

func TestCycle_SkipsDisabledDevices(t *testing.T) {
	devices := &mockDevices{devices: []types.Device{
		{ID: "d1", Name: "Off", IP: "10.0.0.1", Status: types.StatusOffline, Enabled: false},
		{ID: "d2", Name: "On", IP: "10.0.0.2", Status: types.StatusUnknown, Enabled: true},
	}}
	log := &mockLog{}
	settings := &mockSettings{opts: types.DefaultMonitorOptions()}
	prober := &mockProber{}
	m := newTestMonitor(devices, log, settings, prober)

	m.runCycle(context.Background())

	if got := prober.probed(); len(got) != 1 || got[0] != "10.0.0.2" {
		t.Fatalf("expected only the enabled device to be probed, got %v", got)
	}
	// The disabled device's record must be completely untouched.
	for _, d := range devices.GetAll() {
		if d.ID == "d1" {
			if d.Status != types.StatusOffline || d.LastSeen != nil {
				t.Fatalf("disabled device mutated: %+v", d)
			}
		}
	}
	if devices.upsertCount() != 1 {
		t.Fatalf("expected one upsert, got %d", devices.upsertCount())
	}
}

func TestCycle_ProbesInSnapshotOrder(t *testing.T) {
	devices := &mockDevices{devices: []types.Device{
		{ID: "d1", IP: "10.0.0.1", Status: types.StatusUnknown, Enabled: true},
		{ID: "d2", IP: "10.0.0.2", Status: types.StatusUnknown, Enabled: true},
		{ID: "d3", IP: "10.0.0.3", Status: types.StatusUnknown, Enabled: true},
	}}
	settings := &mockSettings{opts: types.DefaultMonitorOptions()}
	prober := &mockProber{}
	m := newTestMonitor(devices, &mockLog{}, settings, prober)

	m.runCycle(context.Background())

	got := prober.probed()
	want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	if len(got) != len(want) {
		t.Fatalf("expected %d probes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("probe order mismatch at %d: want %s, got %s", i, want[i], got[i])
		}
	}
}

func TestReloadConfig_EmitsSettingsAppliedOnChange(t *testing.T) {
	devices := &mockDevices{}
	log := &mockLog{}
	opts := types.DefaultMonitorOptions()
	opts.PollIntervalSeconds = 30
	settings := &mockSettings{opts: opts}
	m := newTestMonitor(devices, log, settings, &mockProber{})

	// First cycle adopts silently.
	m.runCycle(context.Background())
	if got := len(log.byAction(types.ActionSettingsApplied)); got != 0 {
		t.Fatalf("first adoption must be silent, got %d entries", got)
	}

	changed := opts.Clone()
	changed.PollIntervalSeconds = 60
	settings.set(changed)

	m.runCycle(context.Background())

	applied := log.byAction(types.ActionSettingsApplied)
	if len(applied) != 1 {
		t.Fatalf("expected exactly one SettingsApplied entry, got %d", len(applied))
	}
	e := applied[0]
	if e.Source != types.SourceSystem {
		t.Fatalf("wrong source: %q", e.Source)
	}
	detail, ok := e.Details["PollIntervalSeconds"]
	if !ok {
		t.Fatalf("diff detail missing: %+v", e.Details)
	}
	if !strings.Contains(detail, `"old":"30"`) || !strings.Contains(detail, `"new":"60"`) {
		t.Fatalf("unexpected serialized diff: %q", detail)
	}

	// Stable settings emit nothing further.
	m.runCycle(context.Background())
	if got := len(log.byAction(types.ActionSettingsApplied)); got != 1 {
		t.Fatalf("expected no further entries, got %d", got)
	}
	if m.applied.PollIntervalSeconds != 60 {
		t.Fatalf("new options not adopted: %+v", m.applied)
	}
}

func TestReloadConfig_KeepsLastAppliedOnInvalidOptions(t *testing.T) {
	settings := &mockSettings{opts: types.DefaultMonitorOptions()}
	m := newTestMonitor(&mockDevices{}, &mockLog{}, settings, &mockProber{})

	m.runCycle(context.Background())
	want := m.applied

	broken := types.MonitorOptions{PollIntervalSeconds: 1, PingTimeoutMs: 1}
	settings.set(broken)
	m.runCycle(context.Background())

	if !m.applied.Equal(want) {
		t.Fatalf("invalid options adopted: %+v", m.applied)
	}
}

func TestCycle_SkipsProbesUntilOptionsApplied(t *testing.T) {
	devices := &mockDevices{devices: []types.Device{
		{ID: "d1", Name: "Cam", IP: "10.0.0.5", Status: types.StatusOnline, Enabled: true},
	}}
	log := &mockLog{}
	// Invalid from the start: nothing has ever been applied, so the cycle
	// must not probe with a zero-value timeout.
	settings := &mockSettings{opts: types.MonitorOptions{PollIntervalSeconds: 1, PingTimeoutMs: 1}}
	prober := &mockProber{ProbeFunc: func(context.Context, string, types.MonitorOptions) (probe.Result, error) {
		return probe.Result{}, errors.New("would time out instantly")
	}}
	m := newTestMonitor(devices, log, settings, prober)

	m.runCycle(context.Background())

	if got := prober.probed(); len(got) != 0 {
		t.Fatalf("no device may be probed before options are applied, probed %v", got)
	}
	if devices.upsertCount() != 0 {
		t.Fatal("no device may be written before options are applied")
	}
	if got := len(log.byAction(types.ActionStatusChanged)); got != 0 {
		t.Fatalf("no transitions may be logged before options are applied, got %d", got)
	}

	// Once valid options arrive the loop probes normally.
	settings.set(types.DefaultMonitorOptions())
	m.runCycle(context.Background())
	if got := prober.probed(); len(got) != 1 {
		t.Fatalf("expected one probe after options applied, got %v", got)
	}
}

func TestMonitor_StartStop(t *testing.T) {
	devices := &mockDevices{devices: []types.Device{
		{ID: "d1", IP: "10.0.0.1", Status: types.StatusUnknown, Enabled: true},
	}}
	settings := &mockSettings{opts: types.DefaultMonitorOptions()}
	m := newTestMonitor(devices, &mockLog{}, settings, &mockProber{})

	ctx := context.Background()
	m.Start(ctx)

	// Give the first cycle a moment to run, then stop.
	deadline := time.After(2 * time.Second)
	for devices.upsertCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	m.Stop()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop promptly")
	}
}

func TestMonitor_CancelledProbeDoesNotApply(t *testing.T) {
	devices := &mockDevices{devices: []types.Device{
		{ID: "d1", Name: "Cam", IP: "10.0.0.5", Status: types.StatusOnline, Enabled: true},
	}}
	log := &mockLog{}
	settings := &mockSettings{opts: types.DefaultMonitorOptions()}

	ctx, cancel := context.WithCancel(context.Background())
	prober := &mockProber{ProbeFunc: func(context.Context, string, types.MonitorOptions) (probe.Result, error) {
		cancel()
		return probe.Result{}, context.Canceled
	}}
	m := newTestMonitor(devices, log, settings, prober)

	m.runCycle(ctx)

	if devices.upsertCount() != 0 {
		t.Fatal("a probe aborted by shutdown must not be applied")
	}
	if len(log.byAction(types.ActionStatusChanged)) != 0 {
		t.Fatal("no transition may be logged for an aborted probe")
	}
}
