package presence

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transition struct {
	userID int
	online bool
}

type recorder chan transition

func (r recorder) UserOnline(userID int)  { r <- transition{userID, true} }
func (r recorder) UserOffline(userID int) { r <- transition{userID, false} }

func (r recorder) next(t *testing.T) transition {
	t.Helper()
	select {
	case tr := <-r:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("no presence transition")
		return transition{}
	}
}

func (r recorder) none(t *testing.T) {
	t.Helper()
	select {
	case tr := <-r:
		t.Fatalf("unexpected transition %+v", tr)
	case <-time.After(50 * time.Millisecond):
	}
}

const grace = 3 * time.Second

func newTracker(t *testing.T) (*Tracker, *clockwork.FakeClock, recorder) {
	clock := clockwork.NewFakeClock()
	rec := make(recorder, 16)
	tr := NewTracker(clock, grace, rec)
	t.Cleanup(tr.Close)
	return tr, clock, rec
}

func TestOnlineOncePerUser(t *testing.T) {
	tr, _, rec := newTracker(t)

	tr.Connect(1)
	tr.Connect(1)
	assert.Equal(t, transition{1, true}, rec.next(t))
	rec.none(t)

	assert.True(t, tr.IsOnline(1))
	assert.False(t, tr.IsOnline(2))
}

func TestOfflineAfterGrace(t *testing.T) {
	tr, clock, rec := newTracker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr.Connect(1)
	tr.Connect(1)
	rec.next(t)

	tr.Disconnect(1)
	assert.True(t, tr.IsOnline(1))
	tr.Disconnect(1)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.True(t, tr.IsOnline(1), "grace window counts as online")
	rec.none(t)

	clock.Advance(grace)
	assert.Equal(t, transition{1, false}, rec.next(t))
	assert.False(t, tr.IsOnline(1))
}

func TestReconnectInsideGraceCancelsOffline(t *testing.T) {
	tr, clock, rec := newTracker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr.Connect(7)
	rec.next(t)
	tr.Disconnect(7)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(grace / 2)
	tr.Connect(7)
	assert.True(t, tr.IsOnline(7))

	clock.Advance(grace)
	rec.none(t)
	assert.True(t, tr.IsOnline(7))

	tr.Disconnect(7)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(grace)
	assert.Equal(t, transition{7, false}, rec.next(t))
}

func TestStatusesAndOnlineUsers(t *testing.T) {
	tr, _, rec := newTracker(t)

	tr.Connect(3)
	tr.Connect(1)
	rec.next(t)
	rec.next(t)

	assert.Equal(t, []int{1, 3}, tr.OnlineUsers())
	assert.Equal(t, []Status{{UserID: 2, Online: false}, {UserID: 3, Online: true}}, tr.Statuses([]int{2, 3}))
}

func TestDisconnectWithoutConnectIsIgnored(t *testing.T) {
	tr, _, rec := newTracker(t)

	tr.Disconnect(5)
	assert.False(t, tr.IsOnline(5))
	rec.none(t)
}

func TestZeroGraceGoesOfflineImmediately(t *testing.T) {
	rec := make(recorder, 4)
	tr := NewTracker(clockwork.NewFakeClock(), 0, rec)
	defer tr.Close()

	tr.Connect(1)
	rec.next(t)
	tr.Disconnect(1)
	assert.Equal(t, transition{1, false}, rec.next(t))
}
