package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWarnOnceAndReset(t *testing.T) {
	d := New()

	assert.True(t, d.WarnOnce("dtime"))
	assert.False(t, d.WarnOnce("dtime"))

	d.ClearWarned("dtime")
	assert.True(t, d.WarnOnce("dtime"))

	d.SetCollisionProblems()
	d.DTimeClamped()
	snap := d.Snapshot()
	assert.True(t, snap.CollisionProblems)
	assert.Equal(t, int64(1), snap.DTimeClamped)

	d.Reset()
	assert.False(t, d.CollisionProblems())
	assert.True(t, d.WarnOnce("dtime"))
	assert.Equal(t, Snapshot{}, d.Snapshot())
}
