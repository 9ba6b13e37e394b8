package service

import (
	"testing"

	"github.com/casual-go/casual/internal/ids"
	"github.com/casual-go/casual/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S2 — sequential lookup: advertise ECHO from P1; lookup replies idle;
// a second identical lookup (no ACK yet) replies busy; after ACK, a
// third lookup replies idle again.
func TestSequentialLookupLifecycle(t *testing.T) {
	d := New(nil)
	p1 := ids.Handle{PID: 101}

	d.Advertise(AdvertiseDelta{
		Process: p1,
		Add:     []wire.ServiceDescriptor{{Name: "ECHO"}},
	})

	var first Reply
	d.Lookup(Request{Requested: "ECHO", Context: ContextRegular}, func(r Reply) { first = r })
	require.Equal(t, ReplyIdle, first.State)
	assert.Equal(t, p1, first.Process)

	var second Reply
	d.Lookup(Request{Requested: "ECHO", Context: ContextRegular}, func(r Reply) { second = r })
	assert.Equal(t, ReplyBusy, second.State)

	instHandle := findInstanceHandle(t, d, "ECHO")
	d.Acknowledge(instHandle, AckMetric{})

	var third Reply
	d.Lookup(Request{Requested: "ECHO", Context: ContextRegular}, func(r Reply) { third = r })
	require.Equal(t, ReplyIdle, third.State)
	assert.Equal(t, p1, third.Process)
}

// S3 — concurrent tie-break: G1 configured/order10/hops1 must win over
// G2 discovered/order1/hops0 because configured < discovered regardless
// of order/hops.
func TestConcurrentTieBreakPrefersConfigured(t *testing.T) {
	d := New(nil)

	d.ConcurrentAdvertise(ConcurrentDelta{
		Gateway: "G2",
		Order:   1,
		Add:     []ConcurrentCandidate{{Name: "ECHO", Hops: 0, Property: PropertyDiscovered}},
	})
	d.ConcurrentAdvertise(ConcurrentDelta{
		Gateway: "G1",
		Order:   10,
		Add:     []ConcurrentCandidate{{Name: "ECHO", Hops: 1, Property: PropertyConfigured}},
	})

	var reply Reply
	d.Lookup(Request{Requested: "ECHO", Context: ContextRegular}, func(r Reply) { reply = r })
	require.Equal(t, ReplyIdle, reply.State)
	assert.Equal(t, "G1", reply.Gateway)
}

func TestLookupAbsentServiceRegular(t *testing.T) {
	d := New(nil)
	var reply Reply
	d.Lookup(Request{Requested: "GHOST", Context: ContextRegular}, func(r Reply) { reply = r })
	assert.Equal(t, ReplyAbsent, reply.State)
}

func TestRoutesResolveToSameEntry(t *testing.T) {
	d := New(nil)
	p1 := ids.Handle{PID: 1}
	d.SetRoutes("alias", []string{"nameA", "nameB"})
	d.Advertise(AdvertiseDelta{Process: p1, Add: []wire.ServiceDescriptor{{Name: "alias"}}})

	var viaA, viaB Reply
	d.Lookup(Request{Requested: "nameA", Context: ContextRegular}, func(r Reply) { viaA = r })
	assert.Equal(t, ReplyIdle, viaA.State)

	d.Acknowledge(findInstanceHandle(t, d, "alias"), AckMetric{})
	d.Lookup(Request{Requested: "nameB", Context: ContextRegular}, func(r Reply) { viaB = r })
	assert.Equal(t, ReplyIdle, viaB.State)
	assert.Equal(t, viaA.EntryHandle, viaB.EntryHandle)
}

func mustEntry(t *testing.T, d *Directory, name string) *Entry {
	t.Helper()
	e, _, ok := d.entryFor(name)
	require.True(t, ok)
	return e
}

func findInstanceHandle(t *testing.T, d *Directory, name string) InstanceHandle {
	t.Helper()
	e := mustEntry(t, d, name)
	require.NotEmpty(t, e.Sequential)
	return e.Sequential[0]
}
