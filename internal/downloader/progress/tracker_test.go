package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_ReportsEveryChunkWithoutInterval(t *testing.T) {
	tr := NewTracker(0, 0, 0)

	for i := 1; i <= 5; i++ {
		received, report := tr.Advance(10)
		assert.EqualValues(t, i*10, received)
		assert.True(t, report)
	}
}

func TestTracker_ThrottlesReports(t *testing.T) {
	tr := NewTracker(0, 1_000_000, time.Hour)

	_, first := tr.Advance(100)
	assert.True(t, first, "the first chunk is reported")

	for range 10 {
		_, report := tr.Advance(100)
		assert.False(t, report)
	}

	received, last := tr.Advance(1_000_000)
	assert.True(t, last, "reaching the total is always reported")
	assert.EqualValues(t, 1_001_100, received)
}

func TestTracker_StartsAtOffset(t *testing.T) {
	tr := NewTracker(500, 1000, 0)

	assert.EqualValues(t, 500, tr.Received())
	assert.InDelta(t, 50.0, tr.Percent(), 0.001)

	received, _ := tr.Advance(250)
	assert.EqualValues(t, 750, received)
	assert.InDelta(t, 75.0, tr.Percent(), 0.001)
}

func TestTracker_EmptyChunk(t *testing.T) {
	tr := NewTracker(0, 10, 0)

	received, report := tr.Advance(0)
	assert.Zero(t, received)
	assert.False(t, report)
}

func TestTracker_UnknownTotal(t *testing.T) {
	tr := NewTracker(0, 0, 0)
	tr.Advance(42)

	assert.Zero(t, tr.Percent())
	assert.Zero(t, tr.Total())
}
