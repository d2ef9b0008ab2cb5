package transcode

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lightcast/ingest-api/log"
)

// The media tool prints status lines like
//
//	frame= 1234 fps= 25 ... time=00:01:23.45 bitrate= 900kbits/s speed=1.05x
//
// mixed between \n- and \r-terminated records. The monitor turns those into
// progress ratios and ETAs for the job store.
const (
	progressEpsilon  = 0.005
	minPushInterval  = 3 * time.Second
	humanLogInterval = 10 * time.Second
)

type progressMonitor struct {
	jobID      string
	totalSec   float64
	onProgress func(float64)
	onETA      func(float64)

	lastReported float64
	lastPush     time.Time
	lastLog      time.Time

	// swapped out in tests
	now func() time.Time
}

func newProgressMonitor(jobID string, totalSec float64, onProgress, onETA func(float64)) *progressMonitor {
	return &progressMonitor{
		jobID:      jobID,
		totalSec:   totalSec,
		onProgress: onProgress,
		onETA:      onETA,
		now:        time.Now,
	}
}

// consume reads the tool's stderr to EOF. On stream close the final
// progress is pushed to 1 and the ETA to 0.
func (m *progressMonitor) consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 1024*1024)
	scanner.Split(scanStatusRecords)
	for scanner.Scan() {
		m.handleLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if m.onProgress != nil && m.lastReported < 1-progressEpsilon {
		m.onProgress(1.0)
	}
	if m.onETA != nil {
		m.onETA(0)
	}
	return nil
}

func (m *progressMonitor) handleLine(line string) {
	timeSec, ok := parseTimeField(line)
	if !ok || timeSec <= 0 {
		return
	}

	ratio := timeSec / m.totalSec
	if ratio > 1 {
		ratio = 1
	}
	// Refuse to decrease: multi-pass encoders rewind their time= counter
	// between passes and must not drag reported progress backwards.
	if ratio < m.lastReported {
		ratio = m.lastReported
	}

	if speed, ok := parseSpeedField(line); ok && speed > 0 && m.onETA != nil {
		m.onETA(math.Max(0, m.totalSec-timeSec) / speed)
	}

	now := m.now()
	if m.onProgress != nil && (ratio-m.lastReported >= progressEpsilon || now.Sub(m.lastPush) >= minPushInterval) {
		m.onProgress(ratio)
		m.lastReported = ratio
		m.lastPush = now
	}
	if now.Sub(m.lastLog) >= humanLogInterval || (ratio >= 1-progressEpsilon && !m.lastLog.IsZero() && now.Sub(m.lastLog) >= time.Second) {
		log.Log(m.jobID, "transcode progress", "ratio", strconv.FormatFloat(ratio, 'f', 3, 64), "time_sec", strconv.FormatFloat(timeSec, 'f', 1, 64))
		m.lastLog = now
	}
}

// scanStatusRecords splits on either \r or \n and hands back the final
// unterminated record at EOF.
func scanStatusRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseTimeField extracts time=HH:MM:SS.ss as seconds.
func parseTimeField(line string) (float64, bool) {
	value, ok := statusField(line, "time=")
	if !ok {
		return 0, false
	}
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	var secs float64
	for _, part := range parts {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, false
		}
		secs = secs*60 + f
	}
	return secs, true
}

// parseSpeedField extracts speed=NNNx, rejecting speed=N/A.
func parseSpeedField(line string) (float64, bool) {
	value, ok := statusField(line, "speed=")
	if !ok || value == "N/A" {
		return 0, false
	}
	value = strings.TrimSuffix(value, "x")
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func statusField(line, key string) (string, bool) {
	idx := strings.Index(line, key)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(line[idx+len(key):], " ")
	if end := strings.IndexByte(rest, ' '); end >= 0 {
		rest = rest[:end]
	}
	rest = strings.TrimRight(rest, "\r\n")
	if rest == "" {
		return "", false
	}
	return rest, true
}
