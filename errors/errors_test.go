package errors

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindMapsToStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{Validation("bad id %q", "zzz"), 400},
		{NotFound("no such job"), 404},
		{Transcode("ffmpeg exited with status 1"), 500},
		{Dependency("aria2c not found on PATH"), 503},
		{Upstream("fetch failed: status 502"), 500},
		{fmt.Errorf("raw filesystem error"), 500},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		WriteHTTPError(w, "request failed", tt.err)
		require.Equal(t, tt.status, w.Code, "error: %v", tt.err)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, "request failed", body["error"])
		require.Equal(t, tt.err.Error(), body["error_detail"])
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := Dependency("yt-dlp not found")
	wrapped := fmt.Errorf("download source: %w", err)
	require.Equal(t, KindDependency, KindOf(wrapped))
	require.Equal(t, KindIO, KindOf(fmt.Errorf("plain")))
	require.Nil(t, New(KindTranscode, nil))
}
