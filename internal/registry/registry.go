// Package registry maintains the authoritative device inventory.
//
// # Concurrency
//
// The registry keeps an in-memory cache guarded by a single mutex and
// synchronizes it to disk on every mutation. The lock is held for the
// duration of the in-memory change plus its synchronous persist, never
// across a probe cycle. Callers only ever see defensive copies.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uptrack-net/uptrack/internal/storage"
	"github.com/uptrack-net/uptrack/pkg/types"
)

// Registry is the concurrently-accessed device store.
type Registry struct {
	store  *storage.Store[types.Device]
	logger *slog.Logger

	// mu guards devices. Held across the in-memory change and its
	// synchronous persist so cache and file always move together.
	mu      sync.Mutex
	devices []types.Device
	loaded  bool
}

// New creates a registry backed by the given file path.
func New(path string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger: logger.With("component", "registry"),
	}
	r.store = storage.NewStore(path, seedDevices, logger)
	return r
}

// ensureLoadedLocked populates the cache from disk on first use.
func (r *Registry) ensureLoadedLocked() {
	if r.loaded {
		return
	}
	r.devices = r.store.Load()
	r.loaded = true
	r.logger.Info("device registry loaded", "devices", len(r.devices))
}

// GetAll returns a deep-copied snapshot of every device.
// Mutating the result never affects registry state.
func (r *Registry) GetAll() []types.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked()

	out := make([]types.Device, len(r.devices))
	for i, d := range r.devices {
		out[i] = d.Clone()
	}
	return out
}

// Upsert inserts the device if its id is unknown, otherwise overwrites the
// mutable fields of the cached record. An empty id gets a fresh one. The
// change is persisted synchronously before returning; the returned device
// is a copy of the stored record.
func (r *Registry) Upsert(device types.Device) types.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked()

	if device.ID == "" {
		device.ID = uuid.NewString()
	}

	stored := device.Clone()
	found := false
	for i := range r.devices {
		if r.devices[i].ID == device.ID {
			r.devices[i].Name = device.Name
			r.devices[i].IP = device.IP
			r.devices[i].VLAN = device.VLAN
			r.devices[i].Status = device.Status
			r.devices[i].LastSeen = stored.LastSeen
			r.devices[i].Enabled = device.Enabled
			stored = r.devices[i].Clone()
			found = true
			break
		}
	}
	if !found {
		r.devices = append(r.devices, stored.Clone())
	}

	r.persistLocked()
	return stored
}

// Remove deletes the device with the given id. Persists only when a
// removal actually happened; reports whether it did.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked()

	for i := range r.devices {
		if r.devices[i].ID == id {
			r.devices = append(r.devices[:i], r.devices[i+1:]...)
			r.persistLocked()
			return true
		}
	}
	return false
}

// ToggleEnabled flips the enabled flag for the given id. The second return
// is false when the id does not exist; the first is the new flag value.
func (r *Registry) ToggleEnabled(id string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked()

	for i := range r.devices {
		if r.devices[i].ID == id {
			r.devices[i].Enabled = !r.devices[i].Enabled
			r.persistLocked()
			return r.devices[i].Enabled, true
		}
	}
	return false, false
}

// persistLocked writes the cache to disk. Caller holds the registry lock.
// A write failure is logged; in-memory state has already advanced and the
// next successful persist will converge the file.
func (r *Registry) persistLocked() {
	if err := r.store.ReplaceAll(r.devices); err != nil {
		r.logger.Error("failed to persist devices", "error", err)
	}
}

// seedDevices supplies the first-run inventory so the UI is non-empty on
// first boot. Each record carries a preset last-seen so the device table
// renders a full row before the first probe cycle completes.
func seedDevices() []types.Device {
	now := time.Now().UTC()
	switchSeen := now.Add(-10 * time.Minute)
	apSeen := now.Add(-25 * time.Minute)
	camSeen := now.Add(-1 * time.Hour)
	return []types.Device{
		{
			ID:       uuid.NewString(),
			Name:     "Core Switch",
			IP:       "192.168.1.1",
			VLAN:     "mgmt",
			Status:   types.StatusUnknown,
			LastSeen: &switchSeen,
			Enabled:  true,
		},
		{
			ID:       uuid.NewString(),
			Name:     "Office AP",
			IP:       "192.168.1.20",
			VLAN:     "wifi",
			Status:   types.StatusUnknown,
			LastSeen: &apSeen,
			Enabled:  true,
		},
		{
			ID:       uuid.NewString(),
			Name:     "Lobby Camera",
			IP:       "192.168.40.11",
			VLAN:     "cameras",
			Status:   types.StatusUnknown,
			LastSeen: &camSeen,
			Enabled:  true,
		},
	}
}
