package transcode

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type progressRecorder struct {
	progress []float64
	etas     []float64
}

func (r *progressRecorder) monitor(totalSec float64) *progressMonitor {
	m := newProgressMonitor("test-job", totalSec,
		func(p float64) { r.progress = append(r.progress, p) },
		func(eta float64) { r.etas = append(r.etas, eta) },
	)
	// march the clock 1s per call so interval thresholds behave predictably
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return m
}

func TestMonitorParsesMixedTerminators(t *testing.T) {
	rec := &progressRecorder{}
	m := rec.monitor(100)

	stderr := "frame=  100 fps=25 time=00:00:25.00 bitrate=900kbits/s speed=1.25x\r" +
		"frame=  200 fps=25 time=00:00:50.00 bitrate=900kbits/s speed=1.0x\n" +
		"frame=  300 fps=25 time=00:01:40.00 bitrate=900kbits/s speed=2x"
	require.NoError(t, m.consume(strings.NewReader(stderr)))

	require.Equal(t, []float64{0.25, 0.5, 1.0}, rec.progress)
	// 75s remaining at 1.25x, 50s at 1x, 0s at 2x, then the stream-close 0
	require.Equal(t, []float64{60, 50, 0, 0}, rec.etas)
}

func TestMonitorRefusesToRewind(t *testing.T) {
	rec := &progressRecorder{}
	m := rec.monitor(100)

	// a second encode pass rewinds time=; reported progress must not decrease
	stderr := "time=00:00:80.00 speed=1x\ntime=00:00:10.00 speed=1x\ntime=00:00:90.00 speed=1x\n"
	require.NoError(t, m.consume(strings.NewReader(stderr)))

	last := 0.0
	for _, p := range rec.progress {
		require.GreaterOrEqual(t, p, last)
		last = p
	}
	require.Equal(t, 1.0, rec.progress[len(rec.progress)-1])
}

func TestMonitorIgnoresUnparseableLines(t *testing.T) {
	rec := &progressRecorder{}
	m := rec.monitor(100)

	stderr := "ffmpeg version 6.0\n" +
		"Stream mapping:\n" +
		"time=N/A speed=N/A\n" +
		"time=00:00:50.00 speed=N/A\n"
	require.NoError(t, m.consume(strings.NewReader(stderr)))

	// the N/A speed still yields progress, but never an ETA until close
	require.Contains(t, rec.progress, 0.5)
	require.Equal(t, []float64{0}, rec.etas)
}

func TestMonitorPushesTerminalProgressOnClose(t *testing.T) {
	rec := &progressRecorder{}
	m := rec.monitor(100)

	require.NoError(t, m.consume(strings.NewReader("time=00:00:30.00 speed=1x\n")))
	require.Equal(t, 1.0, rec.progress[len(rec.progress)-1])
	require.Equal(t, 0.0, rec.etas[len(rec.etas)-1])

	// already at the end: no extra terminal push
	rec2 := &progressRecorder{}
	m2 := rec2.monitor(100)
	require.NoError(t, m2.consume(strings.NewReader("time=00:01:40.00 speed=1x\n")))
	require.Equal(t, []float64{1.0}, rec2.progress)
}

func TestParseTimeField(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"time=00:00:25.00", 25, true},
		{"time=01:02:03.50", 3723.5, true},
		{"frame=1 time=00:10:00.00 speed=1x", 600, true},
		{"time=N/A", 0, false},
		{"no time here", 0, false},
		{"time=25.00", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseTimeField(tt.line)
		require.Equal(t, tt.ok, ok, tt.line)
		if ok {
			require.InDelta(t, tt.want, got, 1e-9, tt.line)
		}
	}
}

func TestParseSpeedField(t *testing.T) {
	speed, ok := parseSpeedField("time=00:00:01.00 speed=1.25x")
	require.True(t, ok)
	require.Equal(t, 1.25, speed)

	_, ok = parseSpeedField("speed=N/A")
	require.False(t, ok)

	_, ok = parseSpeedField("no speed")
	require.False(t, ok)
}

func TestMonitorRateLimitsSmallIncrements(t *testing.T) {
	rec := &progressRecorder{}
	m := newProgressMonitor("test-job", 10000,
		func(p float64) { rec.progress = append(rec.progress, p) },
		nil,
	)
	// freeze the clock so only the 0.005 ratio threshold can trigger pushes
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return frozen }
	m.lastPush = frozen

	var sb strings.Builder
	for sec := 1; sec <= 100; sec++ {
		sb.WriteString("time=00:0" + pad(sec) + " speed=1x\n")
	}
	require.NoError(t, m.consume(strings.NewReader(sb.String())))

	// 100s of 10000s is 1%; with a 0.5% threshold only ~2 pushes (plus the
	// terminal 1.0) should have happened
	require.LessOrEqual(t, len(rec.progress), 4)
	require.Equal(t, 1.0, rec.progress[len(rec.progress)-1])
}

func pad(sec int) string {
	m := sec / 60
	s := sec % 60
	return time.Date(0, 1, 1, 0, m, s, 0, time.UTC).Format("4:05.00")
}
