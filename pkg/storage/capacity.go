package storage

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// CapacityChecker reports how much space is left for new payloads
type CapacityChecker interface {
	Free() (uint64, error)
}

// DiskCapacity reports free space of the filesystem holding path
type DiskCapacity struct {
	path string
}

// NewDiskCapacity creates a checker for the filesystem holding path
func NewDiskCapacity(path string) *DiskCapacity {
	return &DiskCapacity{path: path}
}

// Free returns the free bytes available to unprivileged users
func (c *DiskCapacity) Free() (uint64, error) {
	usage, err := disk.Usage(c.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read disk usage of %s: %w", c.path, err)
	}
	return usage.Free, nil
}

// UsedPercent returns the used percentage of the filesystem
func (c *DiskCapacity) UsedPercent() (float64, error) {
	usage, err := disk.Usage(c.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read disk usage of %s: %w", c.path, err)
	}
	return usage.UsedPercent, nil
}

// Unlimited never runs out of space, used with the memory backend
type Unlimited struct{}

// Free returns the maximum uint64
func (Unlimited) Free() (uint64, error) {
	return ^uint64(0), nil
}
