package pump

import (
	"context"
	"testing"
	"time"

	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/ids"
	"github.com/casual-go/casual/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPumpDispatchesByType(t *testing.T) {
	inbox := make(chan wire.Message, 1)
	var got wire.Type

	table := BuildTable(Registration{
		Type: wire.TypeLookupRequest,
		Handler: func(ctx context.Context, msg wire.Message) error {
			got = msg.Type
			return nil
		},
	})

	done := make(chan struct{})
	p := New(inbox, table, Hooks{
		Done: func() bool {
			select {
			case <-done:
				return true
			default:
				return false
			}
		},
	})

	inbox <- wire.Message{Type: wire.TypeLookupRequest, Correlation: ids.NewCorrelation()}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(done)
	}()

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, wire.TypeLookupRequest, got)
}

func TestPumpUnknownTypeIsDropped(t *testing.T) {
	inbox := make(chan wire.Message, 1)
	var unknownSeen wire.Type

	done := make(chan struct{})
	p := New(inbox, BuildTable(), Hooks{
		Done: func() bool {
			select {
			case <-done:
				return true
			default:
				return false
			}
		},
	})
	p.OnUnknownType(func(ty wire.Type) { unknownSeen = ty })

	inbox <- wire.Message{Type: wire.TypeEnqueueRequest}
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(done)
	}()

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, wire.TypeEnqueueRequest, unknownSeen)
}

func TestPumpStopsOnFatalError(t *testing.T) {
	inbox := make(chan wire.Message, 1)
	table := BuildTable(Registration{
		Type: wire.TypeLookupRequest,
		Handler: func(ctx context.Context, msg wire.Message) error {
			return casualerr.New(casualerr.KindInternalUnexpected, "boom")
		},
	})
	p := New(inbox, table, Hooks{})
	inbox <- wire.Message{Type: wire.TypeLookupRequest}

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, casualerr.KindInternalUnexpected, casualerr.KindOf(err))
}

func TestPumpContextCancellation(t *testing.T) {
	inbox := make(chan wire.Message)
	p := New(inbox, BuildTable(), Hooks{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
}
