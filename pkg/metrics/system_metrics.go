package metrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// SystemMetrics is a point-in-time self-report of the node's own
// resource usage, surfaced by the admin HTTP server's /health endpoint.
type SystemMetrics struct {
	CPUUsagePercent   float64
	MemoryUsedBytes   uint64
	DiskUsedBytes     uint64
	ActiveConnections int
}

// GetSystemMetrics samples CPU, memory, disk, and established TCP
// connection count with a bounded collection window so a slow sensor
// never stalls a health-check caller indefinitely.
func GetSystemMetrics() (*SystemMetrics, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := &SystemMetrics{}

	if cpuPercent, err := cpu.PercentWithContext(ctx, 1*time.Second, false); err == nil && len(cpuPercent) > 0 {
		result.CPUUsagePercent = cpuPercent[0]
	}

	if vmStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		result.MemoryUsedBytes = vmStat.Used
	}

	if diskStat, err := disk.UsageWithContext(ctx, "."); err == nil {
		result.DiskUsedBytes = diskStat.Used
	}

	if connections, err := net.ConnectionsWithContext(ctx, "tcp"); err == nil {
		established := 0
		for _, conn := range connections {
			if conn.Status == "ESTABLISHED" {
				established++
			}
		}
		result.ActiveConnections = established
	}

	return result, nil
}
