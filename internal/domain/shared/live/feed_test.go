package live

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedKeepsLatestSnapshot(t *testing.T) {
	feed := NewFeed[int](nil)
	require.True(t, feed.Publish(1))
	require.True(t, feed.Publish(2))
	require.True(t, feed.Publish(3))

	assert.Equal(t, 3, <-feed.Updates())
	select {
	case v := <-feed.Updates():
		t.Fatalf("unexpected extra snapshot %d", v)
	default:
	}
}

func TestFeedCloseRunsHookOnce(t *testing.T) {
	calls := 0
	feed := NewFeed[string](func() { calls++ })

	feed.Close()
	feed.Close()

	assert.Equal(t, 1, calls)
	assert.False(t, feed.Publish("late"))
	_, open := <-feed.Updates()
	assert.False(t, open)
	assert.NoError(t, feed.Err())
}

func TestFeedFailRecordsReason(t *testing.T) {
	cause := errors.New("stream reset")
	feed := NewFeed[int](nil)

	feed.Fail(cause)

	<-feed.Done()
	assert.ErrorIs(t, feed.Err(), cause)
}
