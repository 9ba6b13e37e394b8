package service

import (
	"testing"
	"time"

	"github.com/casual-go/casual/internal/ids"
	"github.com/casual-go/casual/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetachProcessFailsBusyReservation(t *testing.T) {
	d := New(nil)
	p1 := ids.Handle{PID: 1}
	caller := ids.Handle{PID: 2}
	d.Advertise(AdvertiseDelta{Process: p1, Add: []wire.ServiceDescriptor{{Name: "ECHO"}}})

	corr := ids.NewCorrelation()
	var reply Reply
	d.Lookup(Request{Requested: "ECHO", Context: ContextRegular, Caller: caller, Correlation: corr}, func(r Reply) { reply = r })
	require.Equal(t, ReplyIdle, reply.State)

	failed := d.DetachProcess(p1)
	require.Len(t, failed, 1)
	assert.Equal(t, caller, failed[0].Caller)
	assert.Equal(t, corr, failed[0].Correlation)

	// The entry had exactly one instance and no routes; once it's
	// detached the entry itself is gone, so lookup reports absent.
	var after Reply
	d.Lookup(Request{Requested: "ECHO", Context: ContextRegular}, func(r Reply) { after = r })
	assert.Equal(t, ReplyAbsent, after.State)
}

// An idle instance is extracted immediately on prepare-shutdown, per
// spec §4.4; with no other instance and no routes, its entry goes
// empty and is reported in ServicesGoneEmpty.
func TestPrepareShutdownExtractsIdleInstanceImmediately(t *testing.T) {
	d := New(nil)
	p1 := ids.Handle{PID: 1}
	d.Advertise(AdvertiseDelta{Process: p1, Add: []wire.ServiceDescriptor{{Name: "ECHO"}}})

	result := d.PrepareShutdown([]ids.Handle{p1})
	assert.Equal(t, []ids.Handle{p1}, result.ExtractedSequential)
	assert.Equal(t, []string{"ECHO"}, result.ServicesGoneEmpty)
	assert.Empty(t, result.Unknown)

	var reply Reply
	d.Lookup(Request{Requested: "ECHO", Context: ContextRegular}, func(r Reply) { reply = r })
	assert.Equal(t, ReplyAbsent, reply.State, "the only instance was extracted, so the entry is gone")
}

// A busy instance is left reserved (marked draining so it is not
// offered to new lookups) until its caller ACKs — "shutdown is honored
// only between calls, never mid-call".
func TestPrepareShutdownLeavesBusyInstanceReservedUntilAck(t *testing.T) {
	d := New(nil)
	p1 := ids.Handle{PID: 1}
	caller := ids.Handle{PID: 2}
	d.Advertise(AdvertiseDelta{Process: p1, Add: []wire.ServiceDescriptor{{Name: "ECHO"}}})

	corr := ids.NewCorrelation()
	var reply Reply
	d.Lookup(Request{Requested: "ECHO", Context: ContextRegular, Caller: caller, Correlation: corr}, func(r Reply) { reply = r })
	require.Equal(t, ReplyIdle, reply.State)

	result := d.PrepareShutdown([]ids.Handle{p1})
	assert.Empty(t, result.ExtractedSequential, "the busy instance is not extracted mid-call")
	assert.Empty(t, result.ServicesGoneEmpty)

	var after Reply
	d.Lookup(Request{Requested: "ECHO", Context: ContextRegular}, func(r Reply) { after = r })
	assert.Equal(t, ReplyBusy, after.State, "draining instance must not be offered, but entry still exists")

	result2 := d.PrepareShutdown([]ids.Handle{{PID: 99}})
	assert.Equal(t, []ids.Handle{{PID: 99}}, result2.Unknown)
}

// Once a draining instance's caller finally ACKs, Acknowledge detaches
// it instead of returning it to idle, per PrepareShutdown's contract —
// the process is mid-shutdown, so it must never be handed a second
// reservation.
func TestAcknowledgeDetachesDrainingInstance(t *testing.T) {
	d := New(nil)
	p1 := ids.Handle{PID: 1}
	caller := ids.Handle{PID: 2}
	d.Advertise(AdvertiseDelta{Process: p1, Add: []wire.ServiceDescriptor{{Name: "ECHO"}}})

	corr := ids.NewCorrelation()
	var reply Reply
	d.Lookup(Request{Requested: "ECHO", Context: ContextRegular, Caller: caller, Correlation: corr}, func(r Reply) { reply = r })
	require.Equal(t, ReplyIdle, reply.State)
	inst := findInstanceHandle(t, d, "ECHO")

	result := d.PrepareShutdown([]ids.Handle{p1})
	require.Empty(t, result.ExtractedSequential, "busy instance stays reserved across prepare-shutdown")

	ack := d.Acknowledge(inst, AckMetric{})
	assert.True(t, ack.Drained)
	assert.True(t, ack.ServiceGoneEmpty)
	assert.Equal(t, "ECHO", ack.ServiceName)

	var after Reply
	d.Lookup(Request{Requested: "ECHO", Context: ContextRegular}, func(r Reply) { after = r })
	assert.Equal(t, ReplyAbsent, after.State, "the drained instance's entry is gone, not idle")
}

// S6 at the directory level: a wait-context lookup for an absent
// service times out after its deadline and a later advertise does not
// deliver a stale reply.
func TestDirectoryDeadlineExpiry(t *testing.T) {
	d := New(nil)
	now := time.Now()

	var reply Reply
	replied := false
	d.Lookup(Request{
		Requested: "ECHO",
		Context:   ContextWait,
		Deadline:  now.Add(10 * time.Millisecond),
	}, func(r Reply) { reply = r; replied = true })
	assert.False(t, replied)

	d.ExpireDeadlines(now.Add(20 * time.Millisecond))
	require.True(t, replied)
	assert.Equal(t, ReplyTimeout, reply.State)

	replied = false
	d.Advertise(AdvertiseDelta{Process: ids.Handle{PID: 9}, Add: []wire.ServiceDescriptor{{Name: "ECHO"}}})
	assert.False(t, replied, "a late advertise must not trigger the already-expired reply")
}
