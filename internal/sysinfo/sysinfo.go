// Package sysinfo records host details in the audit log at startup.
package sysinfo

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/uptrack-net/uptrack/pkg/types"
)

// StartupEntry builds the SystemStart audit entry for process boot.
// Host detail collection is best-effort; a failure degrades to a minimal
// entry rather than blocking startup.
func StartupEntry(ctx context.Context, version string, logger *slog.Logger) types.LogEntry {
	if logger == nil {
		logger = slog.Default()
	}

	details := map[string]string{
		"version": version,
		"go":      runtime.Version(),
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	}
	message := "Monitor service started"

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		logger.Warn("host info unavailable", "error", err)
	} else {
		details["hostname"] = info.Hostname
		details["platform"] = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
		details["host_uptime"] = (time.Duration(info.Uptime) * time.Second).String()
		message = fmt.Sprintf("Monitor service started on %s", info.Hostname)
	}

	return types.LogEntry{
		Source:  types.SourceSystem,
		Action:  types.ActionSystemStart,
		Actor:   "system",
		Message: message,
		Details: details,
	}
}
