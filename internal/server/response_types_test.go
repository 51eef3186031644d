// file: internal/server/response_types_test.go
// version: 2.0.0
// guid: 8a9b0c1d-2e3f-4a5b-6c7d-8e9f0a1b2c3d

package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/operations"
)

func TestNewListResponse(t *testing.T) {
	resp := NewListResponse([]string{"a", "b"}, 50, 0, 10)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 50, resp.Limit)
	assert.Equal(t, 10, resp.Total)

	var nilItems []database.Track
	empty := NewListResponse(nilItems, 50, 0, 0)
	data, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"items":[]`)
}

func TestFingerprintStatusResponse_FlattensSnapshot(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	resp := FingerprintStatusResponse{
		GenerationStatus: operations.GenerationStatus{
			RunID:        "01J",
			IsGenerating: true,
			Total:        10,
			Processed:    4,
			Failed:       1,
			WorkerCount:  4,
			StartedAt:    &started,
		},
		ToolAvailable:       true,
		TotalTracks:         12,
		FingerprintedTracks: 6,
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "01J", m["run_id"])
	assert.Equal(t, true, m["is_generating"])
	assert.EqualValues(t, 4, m["processed"])
	assert.EqualValues(t, 12, m["total_tracks"])
	assert.Equal(t, true, m["tool_available"])
	assert.NotContains(t, m, "finished_at")
}
