package cyclehistory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/dealer/internal/domain"
)

func record(ts time.Time, coins ...string) domain.CycleRecord {
	return domain.CycleRecord{
		Timestamp:      ts,
		AssetsAnalyzed: coins,
	}
}

func TestWALStore_AppendAndRecent(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Append("perps", record(now, "BTC")))
	require.NoError(t, store.Append("perps", record(now.Add(time.Minute), "ETH")))

	recent := store.Recent("perps")
	require.Len(t, recent, 2)
	assert.Equal(t, []string{"BTC"}, recent[0].AssetsAnalyzed)
	assert.Equal(t, []string{"ETH"}, recent[1].AssetsAnalyzed)

	assert.Empty(t, store.Recent("unknown"))
	assert.Error(t, store.Append("", record(now)), "dealer type is required")
}

func TestWALStore_BoundedToHistoryDepth(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < domain.CycleHistoryDepth+3; i++ {
		require.NoError(t, store.Append("perps", record(now.Add(time.Duration(i)*time.Minute))))
	}

	recent := store.Recent("perps")
	require.Len(t, recent, domain.CycleHistoryDepth)
	// oldest surviving record is the fourth appended
	assert.Equal(t, now.Add(3*time.Minute), recent[0].Timestamp)
}

func TestWALStore_ReplaysAfterReopen(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)

	store, err := NewWALStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Append("perps", record(now, "BTC")))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	recent := reopened.Recent("perps")
	require.Len(t, recent, 1)
	assert.Equal(t, []string{"BTC"}, recent[0].AssetsAnalyzed)
}
