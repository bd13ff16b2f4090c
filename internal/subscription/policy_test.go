package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyPausesAtThreshold(t *testing.T) {
	t.Parallel()
	p := Policy{DefaultMaxErrors: 3}
	s := &Subscription{Enabled: true}

	assert.False(t, p.OnFailure(s, "timeout"))
	assert.False(t, p.OnFailure(s, "timeout"))
	assert.True(t, p.OnFailure(s, "connection refused"))
	assert.True(t, s.AutoPaused)
	assert.Equal(t, 3, s.ConsecutiveErrors)
	assert.Equal(t, "connection refused", s.LastError)

	assert.False(t, p.OnFailure(s, "again"), "already paused")
	assert.Equal(t, 4, s.ConsecutiveErrors)
}

func TestPolicySuccessResetsStreak(t *testing.T) {
	t.Parallel()
	p := Policy{DefaultMaxErrors: 3}
	s := &Subscription{Enabled: true}
	p.OnFailure(s, "a")
	p.OnFailure(s, "b")
	p.OnSuccess(s)
	assert.Zero(t, s.ConsecutiveErrors)
	assert.Empty(t, s.LastError)
	p.OnFailure(s, "c")
	assert.False(t, s.AutoPaused)
}

func TestPolicyPerSubscriptionThreshold(t *testing.T) {
	t.Parallel()
	s := &Subscription{Enabled: true, MaxErrors: 1}
	assert.True(t, Policy{}.OnFailure(s, "x"))

	s2 := &Subscription{Enabled: true}
	var p Policy
	p.OnFailure(s2, "x")
	p.OnFailure(s2, "x")
	assert.False(t, s2.AutoPaused)
	assert.True(t, p.OnFailure(s2, "x"), "zero-value policy uses the package default")
}

func TestPolicyThreshold(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		p    Policy
		max  int
		want int
	}{
		{"subscription wins", Policy{DefaultMaxErrors: 5}, 2, 2},
		{"policy default", Policy{DefaultMaxErrors: 5}, 0, 5},
		{"package default", Policy{}, 0, DefaultMaxErrors},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.p.Threshold(&Subscription{MaxErrors: tc.max}), tc.name)
	}
}

func TestReactivate(t *testing.T) {
	t.Parallel()
	s := &Subscription{Enabled: false, AutoPaused: true, ConsecutiveErrors: 5, LastError: "boom"}
	Policy{}.Reactivate(s)
	assert.Equal(t, Subscription{Enabled: true}, *s)
	assert.True(t, s.Runnable())
}

func TestDue(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Minute), now.Add(time.Minute)

	assert.True(t, (&Subscription{Enabled: true}).Due(now))
	assert.True(t, (&Subscription{Enabled: true, NextRun: &now}).Due(now))
	assert.True(t, (&Subscription{Enabled: true, NextRun: &past}).Due(now))
	assert.False(t, (&Subscription{Enabled: true, NextRun: &future}).Due(now))
	assert.False(t, (&Subscription{Enabled: true, AutoPaused: true}).Due(now))
	assert.False(t, (&Subscription{}).Due(now))
}

func TestUserNotifiable(t *testing.T) {
	t.Parallel()
	var nilUser *User
	assert.False(t, nilUser.Notifiable())
	assert.False(t, (&User{Active: true, TelegramChatID: 5}).Notifiable())
	assert.True(t, (&User{Active: true, TelegramVerified: true, TelegramChatID: 5}).Notifiable())
}
