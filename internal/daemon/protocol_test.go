package daemon

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/scheduler"
)

func TestResponse_Constructors(t *testing.T) {
	ok := NewSuccessResponse("req-1", PingResult{Pong: true})
	assert.Equal(t, "2.0", ok.JSONRPC)
	assert.Equal(t, "req-1", ok.ID)
	assert.Nil(t, ok.Error)

	bad := NewErrorResponse("req-2", ErrCodeUnknownKind, "unknown index kind: wiki")
	assert.Nil(t, bad.Result)
	require.NotNil(t, bad.Error)
	assert.Equal(t, ErrCodeUnknownKind, bad.Error.Code)
	assert.Equal(t, "unknown index kind: wiki", bad.Error.Message)
}

func TestStatusResult_WireFormat(t *testing.T) {
	// Given: a status with one finished pass
	st := StatusResult{
		Running:    true,
		PID:        42,
		Owner:      "host:abc",
		LeasesHeld: 1,
		Schedulers: []scheduler.ProgressSnapshot{{
			Kind:     "content",
			LastPass: &scheduler.PassResult{Kind: "content", Seen: 3, Updated: 2, Duration: time.Second},
		}},
		Workers: []WorkerStatus{{Kind: "content", Queue: "index_task:content", Handled: 7}},
	}

	// When: encoding
	data, err := json.Marshal(st)
	require.NoError(t, err)

	// Then: field names are snake_case
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(1), raw["leases_held"])
	workers := raw["workers"].([]any)
	assert.Equal(t, "index_task:content", workers[0].(map[string]any)["queue"])
	pass := raw["schedulers"].([]any)[0].(map[string]any)["last_pass"].(map[string]any)
	assert.Equal(t, float64(2), pass["updated"])
}

func TestErrorCodes(t *testing.T) {
	codes := []int{ErrCodeParseError, ErrCodeInvalidRequest, ErrCodeMethodNotFound, ErrCodeInvalidParams, ErrCodeInternalError, ErrCodeUnknownKind}
	seen := map[int]bool{}
	for _, c := range codes {
		assert.Less(t, c, 0)
		assert.False(t, seen[c], "duplicate code %d", c)
		seen[c] = true
	}
}
