package pump

import "github.com/casual-go/casual/internal/wire"

// Registration binds one message type to the handler that processes
// it. Per spec.md's Design Notes, a component's handler table is built
// once at startup from a list of such registrations rather than a
// variadic, reflection-driven dispatcher.
type Registration struct {
	Type    wire.Type
	Handler HandlerFunc
}

// BuildTable assembles a handler table from a list of registrations.
// A duplicate Type overwrites the earlier registration, matching a
// plain map literal's semantics.
func BuildTable(regs ...Registration) map[wire.Type]HandlerFunc {
	table := make(map[wire.Type]HandlerFunc, len(regs))
	for _, r := range regs {
		table[r.Type] = r.Handler
	}
	return table
}
