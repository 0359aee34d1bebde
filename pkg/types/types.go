// Package types defines the core domain types shared between the monitor
// loop, the stores, and the presentation layer.
//
// # Design Principles
//
// 1. Simplicity: Types represent the domain model directly, no ORM abstractions
// 2. Serialization: All types are JSON-serializable for flat-file persistence
// 3. Defensive copies: Callers receive clones; shared caches are never aliased
// 4. Open enumerations: Log source/action are string tags, new kinds are
//    added by producers without touching this package
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// DEVICE
// =============================================================================

// DeviceStatus is the reachability classification of a device.
type DeviceStatus string

const (
	// StatusUnknown - seeded initial state, never written by the monitor
	StatusUnknown DeviceStatus = "unknown"
	// StatusOnline - last probe succeeded
	StatusOnline DeviceStatus = "online"
	// StatusOffline - last probe failed
	StatusOffline DeviceStatus = "offline"
)

// Device is a network-attached device tracked by the registry.
//
// ID is assigned once on insert and never changes. Status and LastSeen are
// written only by the monitor loop or an explicit upsert from the caller.
type Device struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	IP       string       `json:"ip"`
	VLAN     string       `json:"vlan,omitempty"`
	Status   DeviceStatus `json:"status"`
	LastSeen *time.Time   `json:"last_seen,omitempty"`
	Enabled  bool         `json:"enabled"`
}

// Clone returns a deep copy of the device.
func (d Device) Clone() Device {
	out := d
	if d.LastSeen != nil {
		ts := *d.LastSeen
		out.LastSeen = &ts
	}
	return out
}

// =============================================================================
// LOG ENTRY
// =============================================================================

// LogSource identifies which subsystem produced a log entry.
// Open set; these are the known producers.
type LogSource string

const (
	SourceMonitor    LogSource = "Monitor"
	SourceUserAction LogSource = "UserAction"
	SourceSystem     LogSource = "System"
)

// LogAction names what happened. Open set; producers add their own tags.
type LogAction string

const (
	ActionStatusChanged   LogAction = "StatusChanged"
	ActionSettingsApplied LogAction = "SettingsApplied"
	ActionDeviceAdded     LogAction = "DeviceAdded"
	ActionDeviceUpdated   LogAction = "DeviceUpdated"
	ActionDeviceRemoved   LogAction = "DeviceRemoved"
	ActionDeviceToggled   LogAction = "DeviceToggled"
	ActionSystemStart     LogAction = "SystemStart"
	ActionLog             LogAction = "Log"
)

// LogEntry is a single immutable audit record.
//
// DeviceName is a snapshot taken at write time, not a live join: a renamed
// or deleted device leaves its history readable. Details is an open
// string-keyed bag for machine-readable context (oldStatus, newStatus, ip).
type LogEntry struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Level      string            `json:"level"`
	Source     LogSource         `json:"source"`
	Action     LogAction         `json:"action"`
	Actor      string            `json:"actor"`
	DeviceID   string            `json:"device_id,omitempty"`
	DeviceName string            `json:"device_name,omitempty"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details"`
}

// Clone returns a deep copy of the entry.
func (e LogEntry) Clone() LogEntry {
	out := e
	if e.Details != nil {
		out.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return out
}

// =============================================================================
// MONITOR OPTIONS
// =============================================================================

// Bounds for monitor configuration values.
const (
	MinPollIntervalSeconds = 5
	MaxPollIntervalSeconds = 3600
	MinPingTimeoutMs       = 100
	MaxPingTimeoutMs       = 10000
)

// MonitorOptions is the monitor loop configuration. The loop treats each
// read as an immutable snapshot and detects changes by field comparison.
type MonitorOptions struct {
	PollIntervalSeconds int   `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	PingTimeoutMs       int   `json:"ping_timeout_ms" yaml:"ping_timeout_ms"`
	TCPFallbackEnabled  bool  `json:"tcp_fallback_enabled" yaml:"tcp_fallback_enabled"`
	TCPFallbackPorts    []int `json:"tcp_fallback_ports" yaml:"tcp_fallback_ports"`
}

// DefaultMonitorOptions returns sensible defaults.
func DefaultMonitorOptions() MonitorOptions {
	return MonitorOptions{
		PollIntervalSeconds: 30,
		PingTimeoutMs:       1500,
		TCPFallbackEnabled:  true,
		TCPFallbackPorts:    []int{80, 443, 22},
	}
}

// Clone returns a deep copy of the options.
func (o MonitorOptions) Clone() MonitorOptions {
	out := o
	if o.TCPFallbackPorts != nil {
		out.TCPFallbackPorts = append([]int(nil), o.TCPFallbackPorts...)
	}
	return out
}

// Equal reports whether two option snapshots are field-wise identical.
func (o MonitorOptions) Equal(other MonitorOptions) bool {
	if o.PollIntervalSeconds != other.PollIntervalSeconds ||
		o.PingTimeoutMs != other.PingTimeoutMs ||
		o.TCPFallbackEnabled != other.TCPFallbackEnabled {
		return false
	}
	return portsEqual(o.TCPFallbackPorts, other.TCPFallbackPorts)
}

// PollInterval returns the poll interval as a duration.
func (o MonitorOptions) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalSeconds) * time.Second
}

// PingTimeout returns the probe timeout as a duration.
func (o MonitorOptions) PingTimeout() time.Duration {
	return time.Duration(o.PingTimeoutMs) * time.Millisecond
}

// Validate checks the options against their declared bounds.
func (o MonitorOptions) Validate() error {
	if o.PollIntervalSeconds < MinPollIntervalSeconds || o.PollIntervalSeconds > MaxPollIntervalSeconds {
		return fmt.Errorf("poll_interval_seconds must be between %d and %d, got %d",
			MinPollIntervalSeconds, MaxPollIntervalSeconds, o.PollIntervalSeconds)
	}
	if o.PingTimeoutMs < MinPingTimeoutMs || o.PingTimeoutMs > MaxPingTimeoutMs {
		return fmt.Errorf("ping_timeout_ms must be between %d and %d, got %d",
			MinPingTimeoutMs, MaxPingTimeoutMs, o.PingTimeoutMs)
	}
	if o.TCPFallbackEnabled && len(o.TCPFallbackPorts) == 0 {
		return fmt.Errorf("tcp_fallback_ports must not be empty when tcp fallback is enabled")
	}
	for _, p := range o.TCPFallbackPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("tcp fallback port %d out of range 1-65535", p)
		}
	}
	return nil
}

// =============================================================================
// SETTINGS DIFF
// =============================================================================

// FieldChange records one configuration field's old and new value.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// OptionsDiff maps field names to their changes, for audit logging.
type OptionsDiff map[string]FieldChange

// Diff computes the field-level difference from o to next.
// An empty diff means the snapshots are identical.
func (o MonitorOptions) Diff(next MonitorOptions) OptionsDiff {
	diff := OptionsDiff{}
	if o.PollIntervalSeconds != next.PollIntervalSeconds {
		diff["PollIntervalSeconds"] = FieldChange{
			Old: fmt.Sprintf("%d", o.PollIntervalSeconds),
			New: fmt.Sprintf("%d", next.PollIntervalSeconds),
		}
	}
	if o.PingTimeoutMs != next.PingTimeoutMs {
		diff["PingTimeoutMs"] = FieldChange{
			Old: fmt.Sprintf("%d", o.PingTimeoutMs),
			New: fmt.Sprintf("%d", next.PingTimeoutMs),
		}
	}
	if o.TCPFallbackEnabled != next.TCPFallbackEnabled {
		diff["TCPFallbackEnabled"] = FieldChange{
			Old: fmt.Sprintf("%t", o.TCPFallbackEnabled),
			New: fmt.Sprintf("%t", next.TCPFallbackEnabled),
		}
	}
	if !portsEqual(o.TCPFallbackPorts, next.TCPFallbackPorts) {
		diff["TCPFallbackPorts"] = FieldChange{
			Old: fmt.Sprint(o.TCPFallbackPorts),
			New: fmt.Sprint(next.TCPFallbackPorts),
		}
	}
	return diff
}

func portsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
