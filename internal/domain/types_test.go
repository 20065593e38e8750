package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateAt(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	deleted := now.Add(-time.Minute)

	tests := []struct {
		name string
		msg  Message
		want State
	}{
		{"fresh", Message{Visible: now}, Available{}},
		{"delayed", Message{Visible: now.Add(time.Second)}, Delayed{Until: now.Add(time.Second)}},
		{"leased", Message{Visible: now.Add(time.Second), Ack: "a"}, Leased{Ack: "a", ExpiresAt: now.Add(time.Second)}},
		{"expired lease", Message{Visible: now.Add(-time.Second), Ack: "a", Tries: 1}, Available{}},
		{"done", Message{Visible: now.Add(time.Hour), Ack: "a", Deleted: &deleted}, Done{At: deleted}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.StateAt(now))
		})
	}
}

func TestStatsConsistent(t *testing.T) {
	assert.True(t, Stats{Total: 6, Size: 1, InFlight: 2, Done: 2, Delayed: 1}.Consistent())
	assert.False(t, Stats{Total: 6, Size: 1, InFlight: 2, Done: 2}.Consistent())
}

func TestEncodePayload(t *testing.T) {
	b, err := EncodePayload("job1")
	require.NoError(t, err)
	assert.JSONEq(t, `"job1"`, string(b))

	b, err = EncodePayload(json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))

	for _, raw := range []string{`1`, `3.5`, `-2e3`, `true`, `null`, `"s"`, `[1,2]`} {
		b, err = EncodePayload(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, raw, string(b))
	}

	_, err = EncodePayload(json.RawMessage(`{nope`))
	assert.Error(t, err)

	b, err = EncodePayload([]byte(`{nope`))
	require.NoError(t, err)
	assert.Equal(t, `"e25vcGU="`, string(b))
}

func TestDeliveryDecode(t *testing.T) {
	d := Delivery{Payload: json.RawMessage(`{"command":"echo","args":["hi"]}`)}
	var v struct {
		Command string   `json:"command"`
		Args    []string `json:"args"`
	}
	require.NoError(t, d.Decode(&v))
	assert.Equal(t, "echo", v.Command)
	assert.Equal(t, []string{"hi"}, v.Args)
}
