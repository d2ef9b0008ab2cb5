package config

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddrFlag(t *testing.T) {
	fs := flag.NewFlagSet("cli", flag.ContinueOnError)
	var addr string
	AddrFlag(fs, &addr, "addr", "0.0.0.0:5000", "")
	require.NoError(t, fs.Parse([]string{"-addr=127.0.0.1:3000"}))
	require.Equal(t, "127.0.0.1:3000", addr)

	fs2 := flag.NewFlagSet("cli", flag.ContinueOnError)
	AddrFlag(fs2, &addr, "addr", "0.0.0.0:5000", "")
	require.Error(t, fs2.Parse([]string{"-addr=not-an-address"}))
}

func TestSanitizeClampsRanges(t *testing.T) {
	cli := Cli{MinFreeRatio: 1.5, CleanupBatch: -1, DefaultQuality: 200, DefaultCPUUsed: 99}
	cli.Sanitize()
	require.Equal(t, 0.9, cli.MinFreeRatio)
	require.Equal(t, DefaultCleanupBatch, cli.CleanupBatch)
	require.Equal(t, uint(63), cli.DefaultQuality)
	require.Equal(t, uint(8), cli.DefaultCPUUsed)

	cli = Cli{MinFreeRatio: -0.2}
	cli.Sanitize()
	require.Equal(t, float64(0), cli.MinFreeRatio)
}
