package coordinate

import (
	"testing"
	"time"

	"github.com/casual-go/casual/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S6 — deadline expiry: a pending lookup registered with a 50ms
// deadline fires once that time passes, and does not fire again for a
// correlation already expired/removed.
func TestDeadlineExpiry(t *testing.T) {
	w := NewWheel()
	c := ids.NewCorrelation()
	base := time.Now()

	w.Add(Pending{When: base.Add(50 * time.Millisecond), Correlation: c, Target: "ECHO"})

	fired, next := w.Expired(base)
	assert.Empty(t, fired)
	assert.Equal(t, base.Add(50*time.Millisecond), next)

	fired, next = w.Expired(base.Add(60 * time.Millisecond))
	require.Len(t, fired, 1)
	assert.Equal(t, c, fired[0].Correlation)
	assert.True(t, next.IsZero())

	// A late re-check must not refire the already-expired entry.
	fired, _ = w.Expired(base.Add(100 * time.Millisecond))
	assert.Empty(t, fired)
}

func TestDeadlineOrdering(t *testing.T) {
	w := NewWheel()
	base := time.Now()
	c1, c2, c3 := ids.NewCorrelation(), ids.NewCorrelation(), ids.NewCorrelation()

	w.Add(Pending{When: base.Add(30 * time.Millisecond), Correlation: c2})
	w.Add(Pending{When: base.Add(10 * time.Millisecond), Correlation: c1})
	w.Add(Pending{When: base.Add(50 * time.Millisecond), Correlation: c3})

	fired, _ := w.Expired(base.Add(40 * time.Millisecond))
	require.Len(t, fired, 2)
	assert.Equal(t, c1, fired[0].Correlation)
	assert.Equal(t, c2, fired[1].Correlation)
}

func TestDeadlineRemoveCancelsBeforeFiring(t *testing.T) {
	w := NewWheel()
	c := ids.NewCorrelation()
	base := time.Now()
	w.Add(Pending{When: base.Add(10 * time.Millisecond), Correlation: c})

	require.True(t, w.Remove(c))
	fired, _ := w.Expired(base.Add(time.Second))
	assert.Empty(t, fired)
	assert.False(t, w.Remove(c), "second removal reports not-found")
}

func TestDeadlineRemoveTargetBulk(t *testing.T) {
	w := NewWheel()
	base := time.Now()
	w.Add(Pending{When: base.Add(10 * time.Millisecond), Correlation: ids.NewCorrelation(), Target: "dead"})
	w.Add(Pending{When: base.Add(10 * time.Millisecond), Correlation: ids.NewCorrelation(), Target: "dead"})
	keep := ids.NewCorrelation()
	w.Add(Pending{When: base.Add(10 * time.Millisecond), Correlation: keep, Target: "alive"})

	w.RemoveTarget("dead")
	require.Equal(t, 1, w.Len())

	fired, _ := w.Expired(base.Add(time.Second))
	require.Len(t, fired, 1)
	assert.Equal(t, keep, fired[0].Correlation)
}
