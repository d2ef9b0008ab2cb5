package handlers

import (
	"strconv"
	"strings"

	"github.com/lightcast/ingest-api/errors"
)

// parseRange parses a single-range header of the form "bytes=start-[end]"
// against a resource of the given size. Multi-range requests, non-byte units
// and out-of-bounds offsets are all rejected as validation errors.
func parseRange(header string, size int64) (start, end int64, err error) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return 0, 0, errors.Validation("range unit must be bytes: %q", header)
	}
	if strings.Contains(spec, ",") {
		return 0, 0, errors.Validation("multi-range requests are not supported: %q", header)
	}
	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, errors.Validation("malformed range: %q", header)
	}
	start, err = strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil {
		return 0, 0, errors.Validation("malformed range start: %q", header)
	}
	if endStr = strings.TrimSpace(endStr); endStr == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return 0, 0, errors.Validation("malformed range end: %q", header)
		}
	}
	if start < 0 || start > end || end >= size {
		return 0, 0, errors.Validation("range %d-%d out of bounds for size %d", start, end, size)
	}
	return start, end, nil
}
