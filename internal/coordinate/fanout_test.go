package coordinate

import (
	"testing"

	"github.com/casual-go/casual/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S5 — fan-out partial failure: register pending [(A,c1),(B,c2),(C,c3)];
// deliver c2; bulk-fail A (kills c1); callback must not fire until c3
// also resolves, then fires exactly once with the right per-target
// outcome.
func TestFanoutPartialFailure(t *testing.T) {
	c1, c2, c3 := ids.NewCorrelation(), ids.NewCorrelation(), ids.NewCorrelation()

	fired := 0
	var lastResults map[ids.Correlation]Outcome

	f := Register([]Entry{
		{Target: "A", Correlation: c1},
		{Target: "B", Correlation: c2},
		{Target: "C", Correlation: c3},
	}, func(results map[ids.Correlation]Outcome) {
		fired++
		lastResults = results
	})

	f.Deliver(c2)
	assert.Equal(t, 0, fired, "callback must not fire while c1/c3 are still pending")

	f.FailID("A")
	assert.Equal(t, 0, fired, "callback must not fire while c3 is still pending")
	assert.Equal(t, Pending, f.Snapshot()[c3])

	f.Deliver(c3)
	require.Equal(t, 1, fired, "callback must fire exactly once")
	assert.Equal(t, Failed, lastResults[c1])
	assert.Equal(t, Received, lastResults[c2])
	assert.Equal(t, Received, lastResults[c3])

	// Firing must be idempotent: further deliveries don't re-fire.
	f.Deliver(c1)
	assert.Equal(t, 1, fired)
}

func TestFanoutFiresImmediatelyWhenEmpty(t *testing.T) {
	fired := 0
	Register(nil, func(map[ids.Correlation]Outcome) { fired++ })
	assert.Equal(t, 1, fired)
}

func TestFanoutEveryEntryResolvesOnce(t *testing.T) {
	entries := make([]Entry, 0, 4)
	corrs := make([]ids.Correlation, 4)
	for i := range corrs {
		corrs[i] = ids.NewCorrelation()
		entries = append(entries, Entry{Target: "T", Correlation: corrs[i]})
	}

	var results map[ids.Correlation]Outcome
	f := Register(entries, func(r map[ids.Correlation]Outcome) { results = r })

	for _, c := range corrs[:3] {
		f.Deliver(c)
	}
	assert.Nil(t, results)
	f.Fail(corrs[3])

	require.Len(t, results, 4)
	for _, c := range corrs[:3] {
		assert.Equal(t, Received, results[c])
	}
	assert.Equal(t, Failed, results[corrs[3]])
}
