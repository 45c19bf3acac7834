package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystem_IsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, System{}.Now().Location())
}

func TestManual(t *testing.T) {
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.FixedZone("X", 3600))
	c := NewManual(start)
	assert.True(t, c.Now().Equal(start))
	assert.Equal(t, time.UTC, c.Now().Location())

	c.Advance(90 * time.Second)
	assert.True(t, c.Now().Equal(start.Add(90*time.Second)))

	later := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Set(later)
	assert.True(t, c.Now().Equal(later))
}
