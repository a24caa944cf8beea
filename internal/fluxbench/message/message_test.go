package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	now := time.Unix(1700000000, 500000000)
	e := NewEnvelope(DefaultContent, now)

	_, err := uuid.Parse(e.Id)
	require.NoError(t, err)
	assert.Equal(t, "test-message", e.Content)
	assert.InDelta(t, 1700000000.5, e.Timestamp, 1e-6)
}

func TestNewEnvelope_UniqueIds(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		e := NewEnvelope(DefaultContent, time.Now())
		require.False(t, seen[e.Id])
		seen[e.Id] = true
	}
}

func TestNewPublishRequest(t *testing.T) {
	e := Envelope{Id: "abc", Content: "test-message", Timestamp: 12.5}

	body, err := NewPublishRequest("test-topic-3", e)
	require.NoError(t, err)

	var req PublishRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "test-topic-3", req.Topic)
	assert.JSONEq(t, `{"id":"abc","content":"test-message","timestamp":12.5}`, req.Message)
}

func TestHandshake_Marshal(t *testing.T) {
	b, err := Handshake{SubscriberId: "fluxbench-sub-1", Topic: "test-topic-0"}.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"subscriber_id":"fluxbench-sub-1","topic":"test-topic-0"}`, string(b))
}

func TestDecodeSentTime(t *testing.T) {
	tests := map[string]struct {
		frame   string
		want    float64
		wantErr bool
	}{
		"timestamp present": {frame: `{"id":"x","content":"c","timestamp":99.25}`, want: 99.25},
		"integer timestamp": {frame: `{"timestamp":100}`, want: 100},
		"timestamp missing": {frame: `{"id":"x"}`, want: 1000},
		"empty object":      {frame: `{}`, want: 1000},
		"string timestamp":  {frame: `{"timestamp":"yesterday"}`, wantErr: true},
		"null timestamp":    {frame: `{"timestamp":null}`, wantErr: true},
		"not json":          {frame: `hello`, wantErr: true},
		"json array":        {frame: `[1,2,3]`, wantErr: true},
		"truncated json":    {frame: `{"timestamp":`, wantErr: true},
		"json null":         {frame: `null`, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := DecodeSentTime([]byte(tc.frame), 1000)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLatencyMs(t *testing.T) {
	assert.InDelta(t, 250, LatencyMs(10, 10.25), 1e-9)
	assert.Equal(t, 0.0, LatencyMs(10, 10))
}
