package dynatx

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// UUID is a thin wrapper over github.com/google/uuid.UUID to keep dynatx decoupled from the
// external package.
type UUID uuid.UUID

// ParseUUID converts a string to a UUID. It returns an error if the input is not a valid UUID.
func ParseUUID(id string) (UUID, error) {
	u, err := uuid.Parse(id)
	return UUID(u), err
}

// NewUUID returns a new time-ordered (v7) UUID, so that tx_uuid/rec_uuid/log_uuid sort in
// creation order without a separate creation_date column doing the work. It retries on error
// with a 1ms backoff up to 10 times and panics only if all attempts fail, which should never
// happen under normal conditions.
func NewUUID() UUID {
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewV7()
		if err == nil {
			return UUID(id)
		}
		time.Sleep(1 * time.Millisecond)
	}
	panic(err)
}

// NilUUID is the zero-value UUID.
var NilUUID UUID

// IsNil reports whether the UUID equals the zero-value UUID.
func (id UUID) IsNil() bool {
	return bytes.Equal(id[:], NilUUID[:])
}

// String returns the canonical string representation of the UUID.
func (id UUID) String() string {
	return uuid.UUID(id).String()
}

// Compare compares two UUIDs and returns -1 if x < y, 1 if x > y, and 0 if they are equal.
func (x UUID) Compare(y UUID) int {
	return bytes.Compare(x[:], y[:])
}

// MarshalJSON renders the UUID as its canonical string form.
func (id UUID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON parses the UUID from its canonical string form.
func (id *UUID) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		*id = NilUUID
		return nil
	}
	u, err := uuid.Parse(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*id = UUID(u)
	return nil
}
