package eventlog_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artfain/triad-credits/internal/eventlog"
)

func TestAppendAssignsSequenceAndSince(t *testing.T) {
	log, err := eventlog.Open(filepath.Join(t.TempDir(), "events"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	ev1, err := log.Append(eventlog.Submitted, map[string]any{"n": float64(1)})
	require.NoError(t, err)
	require.Equal(t, uint64(1), ev1.Seq)

	ev2, err := log.Append(eventlog.Finalized, map[string]any{"n": float64(2)})
	require.NoError(t, err)
	require.Equal(t, uint64(2), ev2.Seq)

	all, err := log.Since(0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	after1, err := log.Since(1)
	require.NoError(t, err)
	require.Len(t, after1, 1)
	require.Equal(t, eventlog.Finalized, after1[0].Kind)
}

func TestSubscribeReceivesLiveEvents(t *testing.T) {
	log, err := eventlog.Open(filepath.Join(t.TempDir(), "events"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	sub := log.Subscribe()
	defer log.Unsubscribe(sub)

	_, err = log.Append(eventlog.Slashed, map[string]any{"verifier": "0xabc"})
	require.NoError(t, err)

	select {
	case ev := <-sub:
		require.Equal(t, eventlog.Slashed, ev.Kind)
	default:
		t.Fatal("expected a buffered event on the subscriber channel")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	log, err := eventlog.Open(filepath.Join(t.TempDir(), "events"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	sub := log.Subscribe()
	log.Unsubscribe(sub)

	_, ok := <-sub
	require.False(t, ok, "channel should be closed after Unsubscribe")
}
