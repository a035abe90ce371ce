package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"player-grid/internal/grid"
	"player-grid/internal/playlist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor   = 3 * time.Second
	pollEvery = 5 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, eng *fakeEngine, slots int, urls []string, opts Options) *Scheduler {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	s, err := New(eng, NewSlots(grid.New(1, slots).Cells()), urls, opts)
	require.NoError(t, err)
	return s
}

// runScheduler starts s in the background and returns a function that
// cancels it and waits for Run to return.
func runScheduler(t *testing.T, s *Scheduler) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(waitFor):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func TestScenarioTwoOfFourSlots(t *testing.T) {
	eng := newFakeEngine()
	clock := newManualClock()
	urls := []string{"a", "b", "c"}

	s := newTestScheduler(t, eng, 4, urls, Options{
		MinActive: 2,
		MaxActive: 2,
		Rand:      rand.New(rand.NewSource(99)),
		After:     clock.After,
		Volume:    7,
	})
	stop := runScheduler(t, s)

	// The first rng draw is the first shuffle.
	want := playlist.Shuffle(urls, rand.New(rand.NewSource(99)))

	require.Eventually(t, func() bool { return s.Live() == 2 }, waitFor, pollEvery)

	slots := s.Slots()
	assert.Equal(t, want[0], slots[0].URL())
	assert.Equal(t, want[1], slots[1].URL())
	assert.Empty(t, slots[2].URL())
	assert.Empty(t, slots[3].URL())

	require.Eventually(t, func() bool { return eng.playingCount() == 2 }, waitFor, pollEvery)
	for _, p := range eng.all() {
		_, volume := p.state()
		assert.Equal(t, 7, volume)
	}

	assert.ErrorIs(t, stop(), context.Canceled)
	assert.Empty(t, eng.unreleased())
	assert.Zero(t, s.Live())
}

func TestNewCycleSupersedesPrevious(t *testing.T) {
	eng := newFakeEngine()
	clock := newManualClock()
	rec := &fakeRecorder{}

	s := newTestScheduler(t, eng, 3, []string{"a", "b", "c"}, Options{
		MinActive: 3,
		MaxActive: 3,
		After:     clock.After,
		Recorder:  rec,
	})
	stop := runScheduler(t, s)

	require.Eventually(t, func() bool { return s.Live() == 3 }, waitFor, pollEvery)
	first := eng.all()
	require.Len(t, first, 3)

	clock.tick()

	require.Eventually(t, func() bool {
		return len(eng.all()) == 6 && s.Live() == 3
	}, waitFor, pollEvery)

	for _, p := range first {
		assert.True(t, p.released(), "first cycle players must be released")
		assert.EqualValues(t, 1, p.releases.Load())
	}
	assert.Len(t, eng.unreleased(), 3)
	assert.Equal(t, 3, rec.endReasons()[Superseded])

	require.NoError(t, ignoreCanceled(stop()))
	assert.Zero(t, eng.violations)
	assert.Equal(t, 3, rec.endReasons()[Shutdown])
}

func TestManyCyclesNeverOverlapOnASlot(t *testing.T) {
	eng := newFakeEngine()
	clock := newManualClock()

	s := newTestScheduler(t, eng, 9, []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}, Options{
		MinActive: 1,
		MaxActive: 9,
		Rand:      rand.New(rand.NewSource(3)),
		After:     clock.After,
	})
	stop := runScheduler(t, s)

	for i := 0; i < 25; i++ {
		clock.tick()
	}

	require.Eventually(t, func() bool { return s.Stats().Cycles >= 1 }, waitFor, pollEvery)
	require.NoError(t, ignoreCanceled(stop()))

	eng.mu.Lock()
	violations := eng.violations
	eng.mu.Unlock()
	assert.Zero(t, violations)
	assert.Empty(t, eng.unreleased())
	assert.Zero(t, s.Live())
	for _, slot := range s.Slots() {
		assert.Nil(t, slot.Session())
	}
}

func TestEngineErrorOnlyStopsThatSlot(t *testing.T) {
	eng := newFakeEngine()
	clock := newManualClock()
	rec := &fakeRecorder{}

	s := newTestScheduler(t, eng, 4, []string{"a", "b", "c", "d"}, Options{
		MinActive: 4,
		MaxActive: 4,
		After:     clock.After,
		Recorder:  rec,
	})
	stop := runScheduler(t, s)

	require.Eventually(t, func() bool { return s.Live() == 4 }, waitFor, pollEvery)

	var failing *fakePlayer
	for _, p := range eng.all() {
		if p.cell.Index == 1 {
			failing = p
		}
	}
	require.NotNil(t, failing)
	require.Eventually(t, func() bool {
		playing, _ := failing.state()
		return playing
	}, waitFor, pollEvery)

	failing.emitError(errors.New("decoder crashed"))

	slots := s.Slots()
	require.Eventually(t, func() bool {
		return failing.released() && slots[1].Session() == nil
	}, waitFor, pollEvery)

	assert.EqualValues(t, 3, s.Live())
	for _, i := range []int{0, 2, 3} {
		assert.NotEmpty(t, slots[i].URL(), "slot %d should keep playing", i)
	}
	assert.Len(t, eng.unreleased(), 3)
	assert.Equal(t, 1, rec.endReasons()[Failed])

	require.NoError(t, ignoreCanceled(stop()))
	assert.Empty(t, eng.unreleased())
}

func TestCancelReleasesInFlightSessions(t *testing.T) {
	eng := newFakeEngine()
	rec := &fakeRecorder{}

	s := newTestScheduler(t, eng, 6, []string{"a", "b", "c", "d", "e", "f"}, Options{
		MinActive: 6,
		MaxActive: 6,
		After:     newManualClock().After,
		Recorder:  rec,
	})
	stop := runScheduler(t, s)

	require.Eventually(t, func() bool { return s.Live() == 6 }, waitFor, pollEvery)
	require.NoError(t, ignoreCanceled(stop()))

	assert.Empty(t, eng.unreleased())
	assert.Len(t, eng.all(), 6)
	assert.Equal(t, 6, rec.endReasons()[Shutdown])
}

func TestSkipsUnreadySlot(t *testing.T) {
	eng := newFakeEngine()
	s := newTestScheduler(t, eng, 3, []string{"a", "b", "c"}, Options{
		MinActive: 3,
		MaxActive: 3,
		After:     newManualClock().After,
	})
	s.Slots()[1].SetReady(false)
	stop := runScheduler(t, s)

	require.Eventually(t, func() bool { return s.Live() == 2 }, waitFor, pollEvery)
	assert.Nil(t, s.Slots()[1].Session())
	for _, p := range eng.all() {
		assert.NotEqual(t, 1, p.cell.Index)
	}

	require.NoError(t, ignoreCanceled(stop()))
}

func TestFewerURLsThanSlots(t *testing.T) {
	eng := newFakeEngine()
	s := newTestScheduler(t, eng, 4, []string{"only"}, Options{
		MinActive: 4,
		MaxActive: 4,
		After:     newManualClock().After,
	})
	stop := runScheduler(t, s)

	require.Eventually(t, func() bool { return s.Live() == 1 }, waitFor, pollEvery)
	assert.Equal(t, "only", s.Slots()[0].URL())

	require.NoError(t, ignoreCanceled(stop()))
	assert.Len(t, eng.all(), 1)
}

func TestEmptyPlaylistRunsIdleCycles(t *testing.T) {
	eng := newFakeEngine()
	s := newTestScheduler(t, eng, 4, nil, Options{After: newManualClock().After})
	stop := runScheduler(t, s)

	require.Eventually(t, func() bool { return s.Stats().Cycles >= 1 }, waitFor, pollEvery)
	assert.Zero(t, s.Live())

	require.NoError(t, ignoreCanceled(stop()))
	assert.Empty(t, eng.all())
}

func TestCreatePlayerFailureSkipsSlot(t *testing.T) {
	eng := newFakeEngine()
	eng.failCells[0] = true

	s := newTestScheduler(t, eng, 2, []string{"a", "b"}, Options{
		MinActive: 2,
		MaxActive: 2,
		After:     newManualClock().After,
	})
	stop := runScheduler(t, s)

	require.Eventually(t, func() bool { return s.Live() == 1 }, waitFor, pollEvery)
	assert.Nil(t, s.Slots()[0].Session())
	assert.NotNil(t, s.Slots()[1].Session())

	require.NoError(t, ignoreCanceled(stop()))
}

func TestPrepareErrorReleasesPlayer(t *testing.T) {
	eng := newFakeEngine()
	eng.prepareErr = errors.New("unsupported codec")
	rec := &fakeRecorder{}

	s := newTestScheduler(t, eng, 2, []string{"a", "b"}, Options{
		MinActive: 2,
		MaxActive: 2,
		After:     newManualClock().After,
		Recorder:  rec,
	})
	stop := runScheduler(t, s)

	require.Eventually(t, func() bool { return rec.endReasons()[Failed] == 2 }, waitFor, pollEvery)
	assert.Empty(t, eng.unreleased())
	assert.Zero(t, s.Live())

	require.NoError(t, ignoreCanceled(stop()))
}

func TestSetURLsAppliesOnNextCycle(t *testing.T) {
	eng := newFakeEngine()
	clock := newManualClock()
	s := newTestScheduler(t, eng, 1, []string{"first"}, Options{After: clock.After})
	stop := runScheduler(t, s)

	slot := s.Slots()[0]
	require.Eventually(t, func() bool { return slot.URL() == "first" }, waitFor, pollEvery)

	s.SetURLs([]string{"second"})
	assert.Equal(t, "first", slot.URL(), "current session keeps playing until the next cycle")

	clock.tick()
	require.Eventually(t, func() bool { return slot.URL() == "second" }, waitFor, pollEvery)

	require.NoError(t, ignoreCanceled(stop()))
}

func TestPickCountWithinRange(t *testing.T) {
	s := newTestScheduler(t, newFakeEngine(), 9, nil, Options{
		MinActive: 1,
		MaxActive: 9,
		Rand:      rand.New(rand.NewSource(1)),
	})

	seen := make(map[int]bool)
	for i := 0; i < 2000; i++ {
		n := s.pickCount()
		require.GreaterOrEqual(t, n, 1)
		require.LessOrEqual(t, n, 9)
		seen[n] = true
	}
	assert.True(t, seen[1], "lower bound should be reachable")
	assert.True(t, seen[9], "upper bound should be reachable")
}

func TestMaxActiveClampedToSlots(t *testing.T) {
	s := newTestScheduler(t, newFakeEngine(), 3, nil, Options{MaxActive: 20})
	for i := 0; i < 200; i++ {
		assert.LessOrEqual(t, s.pickCount(), 3)
	}
}

func TestPickDelayWholeSeconds(t *testing.T) {
	s := newTestScheduler(t, newFakeEngine(), 1, nil, Options{
		MinDelay: 5 * time.Second,
		MaxDelay: 44*time.Second + 900*time.Millisecond,
		Rand:     rand.New(rand.NewSource(5)),
	})

	for i := 0; i < 1000; i++ {
		d := s.pickDelay()
		require.GreaterOrEqual(t, d, 5*time.Second)
		require.LessOrEqual(t, d, 44*time.Second)
		require.Zero(t, d%time.Second)
	}
}

func TestNewValidation(t *testing.T) {
	eng := newFakeEngine()
	slots := NewSlots(grid.Quad().Cells())

	_, err := New(eng, nil, nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(nil, slots, nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(eng, slots, nil, Options{MinActive: 5})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(eng, slots, nil, Options{MinDelay: 10 * time.Second, MaxDelay: 2 * time.Second})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	s, err := New(eng, slots, []string{"x"}, Options{Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, DefaultMinActive, s.minActive)
	assert.Equal(t, 4, s.maxActive)
	assert.Equal(t, 5, s.minDelay)
	assert.Equal(t, 44, s.maxDelay)
}

func TestSessionReleaseIsIdempotent(t *testing.T) {
	p := &fakePlayer{}
	slot := NewSlots(grid.Fullscreen().Cells())[0]
	sess := newSession(slot, "a", p)

	assert.False(t, sess.Released())
	sess.Release()
	sess.Release()

	assert.True(t, sess.Released())
	assert.EqualValues(t, 1, p.releases.Load())
	assert.Regexp(t, "^"+SessionPrefix, sess.ID)
}

func TestSlotAttachIsExclusive(t *testing.T) {
	slot := NewSlots(grid.Fullscreen().Cells())[0]
	a := newSession(slot, "a", &fakePlayer{})
	b := newSession(slot, "b", &fakePlayer{})

	require.True(t, slot.attach(a))
	assert.False(t, slot.attach(b))
	assert.Equal(t, "a", slot.URL())

	slot.detach(b) // not the holder, no effect
	assert.Same(t, a, slot.Session())

	slot.detach(a)
	assert.Nil(t, slot.Session())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
