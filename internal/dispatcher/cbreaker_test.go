package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMicroBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewMicroBreaker(1, 10*time.Second, func() time.Time { return now })

	assert.True(t, b.TryAcquire())
	b.OnFailure()
	assert.False(t, b.Ready())
	assert.False(t, b.TryAcquire())

	now = now.Add(10 * time.Second)
	assert.True(t, b.Ready())
	assert.True(t, b.TryAcquire(), "trial")
	assert.False(t, b.TryAcquire(), "second trial while first in flight")

	b.OnFailure()
	assert.Equal(t, "open", b.State())

	now = now.Add(10 * time.Second)
	assert.True(t, b.TryAcquire())
	b.Release()
	assert.Equal(t, "half-open", b.State())
	assert.True(t, b.TryAcquire())
	b.OnSuccess()
	assert.Equal(t, "closed", b.State())
}
