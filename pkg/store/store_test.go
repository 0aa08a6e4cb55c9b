package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	db := New(nil)
	require.NoError(t, db.Set("foo", "bar", time.Time{}))

	val, ok, err := db.Get("foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bar", val)
}

func TestGetMissing(t *testing.T) {
	db := New(nil)
	_, ok, err := db.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetReplacesPriorString(t *testing.T) {
	db := New(nil)
	require.NoError(t, db.Set("k", "v1", time.Time{}))
	require.NoError(t, db.Set("k", "v2", time.Time{}))

	val, _, err := db.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", val)
}

func TestWrongTypeErrors(t *testing.T) {
	db := New(nil)
	_, err := db.RPush("l", []string{"a"})
	require.NoError(t, err)

	_, _, err = db.Get("l")
	assert.ErrorIs(t, err, ErrWrongType)
	assert.Equal(t,
		"WRONGTYPE Operation against a key holding the wrong kind of value",
		err.Error())

	err = db.Set("l", "v", time.Time{})
	assert.ErrorIs(t, err, ErrWrongType)

	require.NoError(t, db.Set("s", "v", time.Time{}))
	_, err = db.LPush("s", []string{"a"})
	assert.ErrorIs(t, err, ErrWrongType)
	_, err = db.RPush("s", []string{"a"})
	assert.ErrorIs(t, err, ErrWrongType)
	_, err = db.LRange("s", 0, -1)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestLPushOrder(t *testing.T) {
	db := New(nil)
	n, err := db.LPush("l", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Each value is prepended in turn, so the last one ends up at the head.
	vals, err := db.LRange("l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, vals)

	n, err = db.LPush("l", []string{"d"})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	vals, _ = db.LRange("l", 0, -1)
	assert.Equal(t, []string{"d", "c", "b", "a"}, vals)
}

func TestRPushOrder(t *testing.T) {
	db := New(nil)
	n, err := db.RPush("l", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = db.RPush("l", []string{"c"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	vals, err := db.LRange("l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, vals)
}

func TestLRange(t *testing.T) {
	db := New(nil)
	_, err := db.RPush("l", []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)

	cases := []struct {
		name        string
		start, stop int64
		want        []string
	}{
		{"full range", 0, -1, []string{"a", "b", "c", "d", "e"}},
		{"middle", 1, 3, []string{"b", "c", "d"}},
		{"single", 2, 2, []string{"c"}},
		{"negative pair", -3, -1, []string{"c", "d", "e"}},
		{"start clamped to tail", 10, 20, []string{"e"}},
		{"stop clamped to tail", 3, 100, []string{"d", "e"}},
		{"negative start clamped to head", -100, 1, []string{"a", "b"}},
		{"raw stop before start", 3, 1, nil},
		{"raw negative stop before start", -1, -3, nil},
	}
	for _, tc := range cases {
		vals, err := db.LRange("l", tc.start, tc.stop)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, vals, tc.name)
	}
}

func TestLRangeMissingKey(t *testing.T) {
	db := New(nil)
	vals, err := db.LRange("nope", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, vals)
}

func TestDel(t *testing.T) {
	db := New(nil)
	require.NoError(t, db.Set("k", "v", time.Time{}))

	assert.True(t, db.Del("k"))
	assert.False(t, db.Del("k"))

	_, ok, err := db.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBulkDel(t *testing.T) {
	db := New(nil)
	require.NoError(t, db.Set("a", "1", time.Time{}))
	require.NoError(t, db.Set("b", "2", time.Time{}))

	removed := db.BulkDel([]string{"a", "missing", "b"})
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, db.BulkDel([]string{"a", "b"}))
}

func TestSetPublishesExpiryEvent(t *testing.T) {
	db := New(nil)
	events := db.Subscribe()

	deadline := time.Now().UTC().Add(time.Minute)
	require.NoError(t, db.Set("k", "v", deadline))

	select {
	case ev := <-events:
		exp, ok := ev.(SetKeyExpiry)
		require.True(t, ok)
		assert.Equal(t, "k", exp.Key)
		assert.True(t, exp.Deadline.Equal(deadline))
	default:
		t.Fatal("expected a SetKeyExpiry event")
	}

	// No event without a deadline.
	require.NoError(t, db.Set("k2", "v", time.Time{}))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %#v", ev)
	default:
	}
}

func TestBulkDelPublishesExpiredPairs(t *testing.T) {
	db := New(nil)
	events := db.Subscribe()

	deadline := time.Now().UTC().Add(time.Minute)
	require.NoError(t, db.Set("ttl", "v", deadline))
	require.NoError(t, db.Set("plain", "v", time.Time{}))
	<-events // drain the SetKeyExpiry event

	db.BulkDel([]string{"ttl", "plain"})

	select {
	case ev := <-events:
		bulk, ok := ev.(BulkDelKeys)
		require.True(t, ok)
		require.Len(t, bulk.Keys, 1)
		assert.Equal(t, "ttl", bulk.Keys[0].Key)
		assert.True(t, bulk.Keys[0].Deadline.Equal(deadline))
	default:
		t.Fatal("expected a BulkDelKeys event")
	}

	// A bulk delete touching only expiry-free keys publishes nothing.
	require.NoError(t, db.Set("plain2", "v", time.Time{}))
	db.BulkDel([]string{"plain2"})
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %#v", ev)
	default:
	}
}

func TestDelDoesNotPublish(t *testing.T) {
	db := New(nil)
	events := db.Subscribe()

	deadline := time.Now().UTC().Add(time.Minute)
	require.NoError(t, db.Set("k", "v", deadline))
	<-events

	db.Del("k")
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %#v", ev)
	default:
	}
}
