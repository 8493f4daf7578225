package activitypub

import "fmt"

// A ValidationError reports a field contract violation during activity
// construction or parsing. Callers drop the offending message.
type ValidationError struct {
	Kind  Kind
	Field string
	Cause string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("activitypub: invalid %s: field %q %s", e.Kind, e.Field, e.Cause)
	}
	return fmt.Sprintf("activitypub: invalid payload: %s", e.Cause)
}

// A SerializerError reports a contract mismatch between an activity and
// the local entity it is being converted to or from, or a resolution
// chain that ran away. Recoverable at the inbox boundary.
type SerializerError struct {
	Msg string
}

func (e *SerializerError) Error() string {
	return "activitypub: " + e.Msg
}

func serializerErrorf(format string, args ...any) error {
	return &SerializerError{Msg: fmt.Sprintf(format, args...)}
}

// A ConnectorError reports a network fetch failure: unreachable host,
// non-2xx response, or a body that is not JSON.
type ConnectorError struct {
	URL string
	Err error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("activitypub: fetch %s: %v", e.URL, e.Err)
}

func (e *ConnectorError) Unwrap() error { return e.Err }
