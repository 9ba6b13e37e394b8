// Package ids defines the identifiers threaded through every casual
// message: correlation ids, execution ids, ipc ids and process handles.
package ids

import (
	"github.com/google/uuid"
)

// Correlation uniquely tags a request/reply pair end-to-end.
type Correlation uuid.UUID

// NewCorrelation generates a fresh correlation id.
func NewCorrelation() Correlation {
	return Correlation(uuid.New())
}

// String renders the correlation as its canonical UUID text form.
func (c Correlation) String() string {
	return uuid.UUID(c).String()
}

// IsZero reports whether c was never assigned.
func (c Correlation) IsZero() bool {
	return c == Correlation{}
}

// ParseCorrelation parses a correlation id from its canonical UUID
// text form, e.g. when reloading one from persisted queue storage.
func ParseCorrelation(s string) (Correlation, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Correlation{}, err
	}
	return Correlation(u), nil
}

// Execution tags a causally related chain of calls, propagated across
// service hops.
type Execution uuid.UUID

// NewExecution generates a fresh execution id.
func NewExecution() Execution {
	return Execution(uuid.New())
}

func (e Execution) String() string {
	return uuid.UUID(e).String()
}

// IPC identifies the owner of an inbound FIFO endpoint.
type IPC uuid.UUID

// NewIPC generates a fresh ipc id.
func NewIPC() IPC {
	return IPC(uuid.New())
}

func (i IPC) String() string {
	return uuid.UUID(i).String()
}

func (i IPC) IsZero() bool {
	return i == IPC{}
}

// Handle identifies a process within a domain: its OS pid plus the ipc
// id of its inbound endpoint.
type Handle struct {
	PID int
	IPC IPC
}

// IsZero reports whether h refers to no process.
func (h Handle) IsZero() bool {
	return h.PID == 0 && h.IPC.IsZero()
}

// Domain identifies one casual domain, stable for its lifetime.
// Discovery messages carry a visited list of these to avoid
// re-broadcasting to a domain that has already seen the request,
// replacing the original implementation's fragile process-id-based
// loop check.
type Domain uuid.UUID

// NewDomain generates a fresh domain id.
func NewDomain() Domain {
	return Domain(uuid.New())
}

func (d Domain) String() string {
	return uuid.UUID(d).String()
}

func (d Domain) Equal(other Domain) bool {
	return d == other
}
