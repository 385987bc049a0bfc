package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didirc/icd/ircd"
)

func TestMemoryStoreRingBufferEvicts(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(ctx, ircd.HistoryEntry{
			Target: "#general", MsgID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	latest, err := s.Latest(ctx, "#general", 10)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "b", latest[0].MsgID)
	assert.Equal(t, "c", latest[1].MsgID)
}

func TestMemoryStoreBeforeFiltersByTimestamp(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, ircd.HistoryEntry{
			Target: "#general", MsgID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	before, err := s.Before(ctx, "#general", base.Add(3*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, before, 3)
	assert.Equal(t, "a", before[0].MsgID)
	assert.Equal(t, "c", before[2].MsgID)
}

func TestMemoryStoreTargetIsCaseInsensitive(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, ircd.HistoryEntry{Target: "#General", MsgID: "x", Timestamp: time.Now()}))

	out, err := s.Latest(ctx, "#GENERAL", 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "x", out[0].MsgID)
}
