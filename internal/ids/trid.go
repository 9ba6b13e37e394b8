package ids

import "github.com/google/uuid"

// Trid is a global transaction id plus a per-branch suffix. The zero
// value is null: "not in transaction".
type Trid struct {
	Global [16]byte
	Suffix [16]byte
}

// NewTrid starts a brand new global transaction.
func NewTrid() Trid {
	return Trid{Global: uuid.New()}
}

// IsNull reports whether t represents "not in transaction".
func (t Trid) IsNull() bool {
	return t.Global == [16]byte{}
}

// Equal reports trid equality: global parts match (the branch suffix is
// ignored, per spec: two trids are equal iff global parts match).
func (t Trid) Equal(other Trid) bool {
	return t.Global == other.Global
}

// Branch derives a new, distinct branch of the same global transaction:
// same ownership tree, different identity.
func (t Trid) Branch() Trid {
	return Trid{Global: t.Global, Suffix: uuid.New()}
}

func (t Trid) String() string {
	if t.IsNull() {
		return "null"
	}
	return uuid.UUID(t.Global).String() + "." + uuid.UUID(t.Suffix).String()
}
