package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryPublishRecordsEvents(t *testing.T) {
	t.Parallel()

	pub := NewMemory()
	now := time.Unix(1700000000, 0).UTC()

	require.NoError(t, pub.Publish(context.Background(), Event{
		Name:       PostIngested,
		ResourceID: "cid-1",
		OccurredAt: now,
	}))

	got := pub.Events()
	require.Len(t, got, 1)
	require.Equal(t, PostIngested, got[0].Name)
	require.Equal(t, "cid-1", got[0].ResourceID)
}

func TestMemoryPublishIsConcurrencySafe(t *testing.T) {
	t.Parallel()

	pub := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = pub.Publish(context.Background(), Event{Name: PostIngested})
			}
		}()
	}
	wg.Wait()
	require.Len(t, pub.Events(), 1000)
}
