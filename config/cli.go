package config

import (
	"flag"
	"fmt"
	"net"
)

// Cli holds the parsed command line / environment configuration. Every flag
// maps onto a VIDEO_* environment variable via the ff env prefix, e.g.
// -storage-min-free-ratio is VIDEO_STORAGE_MIN_FREE_RATIO.
type Cli struct {
	ServerAddr         string
	StorageDir         string
	MinFreeBytes       uint64
	MinFreeRatio       float64
	CleanupBatch       int
	Encoder            string
	VAAPIDevice        string
	DefaultQuality     uint
	DefaultCPUUsed     uint
	MaxInFlightJobs    int
	MaxUploadSizeBytes int64
}

const (
	DefaultMinFreeBytes = 5 << 30
	DefaultMinFreeRatio = 0.10
	DefaultCleanupBatch = 5
	DefaultQuality      = 24
	DefaultCPUUsed      = 4
)

// Sanitize clamps values that arrive out of range from the environment
// rather than failing startup.
func (cli *Cli) Sanitize() {
	if cli.MinFreeRatio < 0 {
		cli.MinFreeRatio = 0
	}
	if cli.MinFreeRatio > 0.9 {
		cli.MinFreeRatio = 0.9
	}
	if cli.CleanupBatch <= 0 {
		cli.CleanupBatch = DefaultCleanupBatch
	}
	if cli.DefaultQuality > 63 {
		cli.DefaultQuality = 63
	}
	if cli.DefaultCPUUsed > 8 {
		cli.DefaultCPUUsed = 8
	}
}

// AddrFlag registers a listen-address flag that validates as host:port.
func AddrFlag(fs *flag.FlagSet, dest *string, name, value, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if _, _, err := net.SplitHostPort(s); err != nil {
			return fmt.Errorf("invalid address %q: %w", s, err)
		}
		*dest = s
		return nil
	})
}
