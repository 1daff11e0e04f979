package session

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate_GeneratedID(t *testing.T) {
	store := NewStore(20, 24*time.Hour, time.Hour)

	sess := store.GetOrCreate("", "user-1")
	require.NotNil(t, sess)
	assert.Regexp(t, regexp.MustCompile(`^session_\d{8}_\d{6}_[0-9a-f]{8}$`), sess.ID)
	assert.Equal(t, "user-1", sess.UserID)

	// Same id resolves to the same session.
	again := store.GetOrCreate(sess.ID, "")
	assert.Same(t, sess, again)
	assert.Equal(t, 1, store.Count())
}

func TestGetOrCreate_UnknownIDCreatesUnderThatID(t *testing.T) {
	store := NewStore(20, 24*time.Hour, time.Hour)

	sess := store.GetOrCreate("session_20250101_000000_deadbeef", "")
	assert.Equal(t, "session_20250101_000000_deadbeef", sess.ID)
	assert.Equal(t, 1, store.Count())
}

func TestGetOrCreate_TouchesActivity(t *testing.T) {
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewStore(20, 24*time.Hour, time.Hour, WithClock(func() time.Time { return clock }))

	sess := store.GetOrCreate("", "")
	first := sess.LastActivity

	clock = clock.Add(10 * time.Minute)
	store.GetOrCreate(sess.ID, "")
	assert.True(t, sess.LastActivity.After(first))
}

func TestAppendTurn_IDsAndWindow(t *testing.T) {
	store := NewStore(3, 24*time.Hour, time.Hour)
	sess := store.GetOrCreate("", "")

	for i := 0; i < 5; i++ {
		turn, err := store.AppendTurn(sess.ID, Turn{UserInput: "hello", Response: "world"})
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^turn_\d+_[0-9a-f]{6}$`), turn.ID)
	}

	// Full history is unbounded, window is capped.
	assert.Len(t, sess.History, 5)
	window := store.RecentTurns(sess.ID, 0)
	assert.Len(t, window, 3)
	assert.Equal(t, sess.History[2].ID, window[0].ID)
	assert.Equal(t, sess.History[4].ID, window[2].ID)

	recent := store.RecentTurns(sess.ID, 2)
	assert.Len(t, recent, 2)
	assert.Equal(t, sess.History[4].ID, recent[1].ID)
}

func TestAppendTurn_UnknownSession(t *testing.T) {
	store := NewStore(20, 24*time.Hour, time.Hour)
	_, err := store.AppendTurn("nope", Turn{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCacheKey_Canonical(t *testing.T) {
	a := CacheKey("weather.get", map[string]interface{}{"city": "서울", "units": "c"})
	b := CacheKey("weather.get", map[string]interface{}{"units": "c", "city": "서울"})
	assert.Equal(t, a, b)

	c := CacheKey("weather.get", map[string]interface{}{"city": "부산", "units": "c"})
	assert.NotEqual(t, a, c)

	empty := CacheKey("calendar.get", nil)
	assert.Equal(t, "calendar.get:{}", empty)
}

func TestCache_TTL(t *testing.T) {
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewStore(20, 24*time.Hour, time.Hour, WithClock(func() time.Time { return clock }))
	sess := store.GetOrCreate("", "")

	key := CacheKey("weather.get", map[string]interface{}{"city": "서울"})
	store.SetCached(sess.ID, key, map[string]interface{}{"temperature": 23.5})

	got, ok := store.GetCached(sess.ID, key, 300*time.Second)
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"temperature": 23.5}, got)

	// Stale after TTL.
	clock = clock.Add(301 * time.Second)
	_, ok = store.GetCached(sess.ID, key, 300*time.Second)
	assert.False(t, ok)

	// ttl <= 0 means no expiry.
	_, ok = store.GetCached(sess.ID, key, 0)
	assert.True(t, ok)
}

func TestReap_RemovesIdleSessions(t *testing.T) {
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewStore(20, 24*time.Hour, time.Hour, WithClock(func() time.Time { return clock }))

	stale := store.GetOrCreate("", "")
	clock = clock.Add(25 * time.Hour)
	fresh := store.GetOrCreate("", "")

	removed := store.Reap()
	assert.Equal(t, 1, removed)
	assert.Nil(t, store.Get(stale.ID))
	assert.NotNil(t, store.Get(fresh.ID))
}
