package student

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestHandleIsValid(t *testing.T) {
	assert.True(t, Handle("tourist").IsValid())
	assert.True(t, Handle("chokudai").IsValid())
	assert.False(t, Handle("a").IsValid())
	assert.False(t, Handle("has space").IsValid())
	assert.False(t, Handle("").IsValid())
}

func TestRatingSum(t *testing.T) {
	s := &Student{
		Codeforces: &JudgeAccount{Handle: "alice_cf", Rating: intPtr(1900)},
		AtCoder:    &JudgeAccount{Handle: "alice_ac", Rating: intPtr(1200)},
	}
	assert.Equal(t, 3100, s.RatingSum())

	t.Run("unrated account contributes zero", func(t *testing.T) {
		s := &Student{Codeforces: &JudgeAccount{Handle: "bob"}}
		assert.Equal(t, 0, s.RatingSum())
	})

	t.Run("no accounts", func(t *testing.T) {
		s := &Student{}
		assert.Equal(t, 0, s.RatingSum())
		assert.False(t, s.HasAnyAccount())
	})
}

func TestNeedsRatingRefresh(t *testing.T) {
	now := time.Now()
	interval := 12 * time.Hour

	t.Run("never refreshed", func(t *testing.T) {
		a := &JudgeAccount{Handle: "alice"}
		assert.True(t, a.NeedsRatingRefresh(now, interval))
	})

	t.Run("refreshed recently", func(t *testing.T) {
		at := now.Add(-time.Hour)
		a := &JudgeAccount{Handle: "alice", RatingRefreshedAt: &at}
		assert.False(t, a.NeedsRatingRefresh(now, interval))
	})

	t.Run("refresh overdue", func(t *testing.T) {
		at := now.Add(-13 * time.Hour)
		a := &JudgeAccount{Handle: "alice", RatingRefreshedAt: &at}
		assert.True(t, a.NeedsRatingRefresh(now, interval))
	})

	t.Run("nil account", func(t *testing.T) {
		var a *JudgeAccount
		assert.False(t, a.NeedsRatingRefresh(now, interval))
	})
}
