package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCreditGateAcquireReleaseConservesCount(t *testing.T) {
	g := NewCreditGate(3, nil)
	assert.Equal(t, 3, g.Snapshot())

	g.Acquire()
	g.Acquire()
	assert.Equal(t, 1, g.Snapshot())
	assert.True(t, g.Available())

	g.Acquire()
	assert.False(t, g.Available())
	assert.Equal(t, 0, g.Snapshot())

	g.Release()
	g.Release()
	g.Release()
	assert.Equal(t, 3, g.Snapshot())
}

func TestCreditGateNeverExceedsMax(t *testing.T) {
	g := NewCreditGate(2, nil)
	g.Release()
	g.Release()
	g.Release()
	assert.Equal(t, 2, g.Snapshot())
}

func TestCreditGateDefaultWhenNonPositive(t *testing.T) {
	g := NewCreditGate(0, nil)
	assert.Equal(t, DefaultCredits, g.Snapshot())
}

func TestCreditGateNotifiesLatchOnRelease(t *testing.T) {
	l := NewSyncLatch()
	g := NewCreditGate(1, l)
	g.Acquire()

	g.Release()
	assert.True(t, l.Wait(20*time.Millisecond))
}

func TestCreditGateReleaseFuncReleasesOneCredit(t *testing.T) {
	g := NewCreditGate(1, nil)
	g.Acquire()
	assert.Equal(t, 0, g.Snapshot())

	hook := g.ReleaseFunc()
	hook()
	assert.Equal(t, 1, g.Snapshot())
}
