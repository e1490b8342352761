package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventLogTruncatesOversizedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	el, err := NewEventLog(path, 0, nil)
	require.NoError(t, err)
	defer el.Close()

	big := make([]byte, maxEventPayloadBytes*2)
	for i := range big {
		big[i] = 'A'
	}
	require.NoError(t, el.Write(context.Background(), Event{Kind: "corpus", Bytes: big}))
	require.NoError(t, el.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &ev))
	require.Less(t, len(ev.Bytes), len(big))
}

func TestEventLogLeavesSmallPayloadAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	el, err := NewEventLog(path, 0, nil)
	require.NoError(t, err)
	defer el.Close()

	small := []byte("racecar")
	require.NoError(t, el.Write(context.Background(), Event{Kind: "corpus", Bytes: small}))
	require.NoError(t, el.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &ev))
	require.Equal(t, small, ev.Bytes)
}
