package gatewaywire

import (
	"testing"
	"time"

	"github.com/casual-go/casual/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerHandshakeAndRoundTrip(t *testing.T) {
	serverHandshake := Handshake{DomainName: "server-domain", ProtocolVersion: 1}
	clientHandshake := Handshake{DomainName: "client-domain", ProtocolVersion: 1}

	received := make(chan wire.Message, 1)
	accepted := make(chan Handshake, 1)

	ln, err := Listen(ListenerConfig{
		Addr:  "127.0.0.1:0",
		Local: serverHandshake,
		Handler: func(conn *Conn, remote Handshake) {
			accepted <- remote
			msg, err := conn.Receive()
			if err == nil {
				received <- msg
			}
		},
	})
	require.NoError(t, err)
	defer ln.Close()

	conn, remote, err := Dial(ln.Addr().String(), RetrySchedule{Delay: 10 * time.Millisecond, Attempts: 5}, clientHandshake)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, serverHandshake.DomainName, remote.DomainName)

	select {
	case gotRemote := <-accepted:
		assert.Equal(t, clientHandshake.DomainName, gotRemote.DomainName)
	case <-time.After(time.Second):
		t.Fatal("server never completed handshake")
	}

	payload := []byte("hello gateway")
	require.NoError(t, conn.Send(wire.Message{Type: 42, Payload: payload}))

	select {
	case msg := <-received:
		assert.Equal(t, payload, msg.Payload)
		assert.EqualValues(t, 42, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("server never received the message")
	}
}

func TestDialFailsAfterExhaustingSchedule(t *testing.T) {
	_, _, err := Dial("127.0.0.1:1", RetrySchedule{Delay: time.Millisecond, Attempts: 2}, Handshake{})
	assert.Error(t, err)
}
