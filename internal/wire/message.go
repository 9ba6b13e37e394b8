// Package wire defines the logical message envelope and the service
// descriptor types shared by every casual component.
package wire

import "github.com/casual-go/casual/internal/ids"

// Type identifies a message's payload shape; handler tables are keyed
// by it.
type Type uint64

// Core message types. Component-specific types are defined alongside
// their owning package and allocated from the same space.
const (
	TypeUnknown Type = iota
	TypeConnect
	TypeShutdownRequest
	TypeShutdownAck
	TypeServiceAdvertise
	TypeServiceConcurrentAdvertise
	TypeLookupRequest
	TypeLookupReply
	TypeServiceAcknowledge
	TypeEnqueueRequest
	TypeEnqueueReply
	TypeDequeueRequest
	TypeDequeueReply
	TypeDequeueForget
	TypeResourcePrepare
	TypeResourceCommit
	TypeResourceRollback
	TypeTaskDone
	TypeDiscoveryRequest
	TypeDiscoveryReply
)

// Message is the tuple every casual component sends and receives. The
// payload is an opaque, already-serialized byte sequence; messages are
// immutable once framed.
type Message struct {
	Type        Type
	Correlation ids.Correlation
	Execution   ids.Execution
	Payload     []byte
}
