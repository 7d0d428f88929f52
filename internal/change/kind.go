package change

import (
	"errors"
	"fmt"
)

// ErrUnknownOperation is returned when an envelope carries an operation code
// outside of c/u/d/t/m.
var ErrUnknownOperation = errors.New("unknown operation")

// Kind is the operation carried by a decoded record.
type Kind int

const (
	KindUnknown Kind = iota
	KindCreate
	KindUpdate
	KindDelete
	KindTruncate
	KindAnnotation
)

// ParseKind maps a Debezium operation code to a Kind.
func ParseKind(code string) (Kind, error) {
	switch code {
	case "c":
		return KindCreate, nil
	case "u":
		return KindUpdate, nil
	case "d":
		return KindDelete, nil
	case "t":
		return KindTruncate, nil
	case "m":
		return KindAnnotation, nil
	default:
		return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownOperation, code)
	}
}

// String returns the operation name stored in the sink.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "CREATE"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	case KindTruncate:
		return "TRUNCATE"
	case KindAnnotation:
		return "MESSAGE"
	case KindUnknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsMutation reports whether the kind describes a row mutation.
func (k Kind) IsMutation() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete, KindTruncate:
		return true
	case KindAnnotation, KindUnknown:
		return false
	}
	return false
}
