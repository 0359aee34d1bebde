// Package snapshot builds lightweight projections of store state for
// polling consumers, together with a weak validation token.
//
// The token is a content hash over the UI-relevant fields in a stable
// (id-sorted) order: a poller caches the token and the server answers
// "not modified" when a fresh token matches, without shipping the body.
package snapshot

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/uptrack-net/uptrack/pkg/types"
)

// DeviceView is the wire projection of a device.
type DeviceView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IP       string `json:"ip"`
	VLAN     string `json:"vlan,omitempty"`
	Status   string `json:"status"`
	LastSeen string `json:"last_seen,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// LogView is the wire projection of a log entry.
type LogView struct {
	ID         string            `json:"id"`
	Timestamp  string            `json:"timestamp"`
	Level      string            `json:"level"`
	Source     string            `json:"source"`
	Action     string            `json:"action"`
	Actor      string            `json:"actor"`
	DeviceName string            `json:"device_name,omitempty"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
}

// DeviceViews projects a device snapshot, preserving input order.
func DeviceViews(devices []types.Device) []DeviceView {
	out := make([]DeviceView, len(devices))
	for i, d := range devices {
		out[i] = DeviceView{
			ID:       d.ID,
			Name:     d.Name,
			IP:       d.IP,
			VLAN:     d.VLAN,
			Status:   string(d.Status),
			LastSeen: formatTime(d.LastSeen),
			Enabled:  d.Enabled,
		}
	}
	return out
}

// LogViews projects a log snapshot, preserving input order.
func LogViews(entries []types.LogEntry) []LogView {
	out := make([]LogView, len(entries))
	for i, e := range entries {
		out[i] = LogView{
			ID:         e.ID,
			Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
			Level:      e.Level,
			Source:     string(e.Source),
			Action:     string(e.Action),
			Actor:      e.Actor,
			DeviceName: e.DeviceName,
			Message:    e.Message,
			Details:    e.Details,
		}
	}
	return out
}

// DeviceToken computes the validation token for a device collection. The
// token is independent of input order.
func DeviceToken(devices []types.Device) string {
	sorted := make([]types.Device, len(devices))
	copy(sorted, devices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	for _, d := range sorted {
		b.WriteString(d.ID)
		b.WriteByte('|')
		b.WriteString(d.Name)
		b.WriteByte('|')
		b.WriteString(d.IP)
		b.WriteByte('|')
		b.WriteString(d.VLAN)
		b.WriteByte('|')
		b.WriteString(string(d.Status))
		b.WriteByte('|')
		b.WriteString(formatTime(d.LastSeen))
		b.WriteByte('|')
		b.WriteString(strconv.FormatBool(d.Enabled))
		b.WriteByte('\n')
	}
	return digest(b.String())
}

// LogToken computes the validation token for a log collection. The token
// is independent of input order.
func LogToken(entries []types.LogEntry) string {
	sorted := make([]types.LogEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	for _, e := range sorted {
		b.WriteString(e.ID)
		b.WriteByte('|')
		b.WriteString(e.Timestamp.UTC().Format(time.RFC3339Nano))
		b.WriteByte('|')
		b.WriteString(e.Message)
		b.WriteByte('\n')
	}
	return digest(b.String())
}

func digest(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
