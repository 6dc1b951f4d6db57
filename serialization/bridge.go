package serialization

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
)

// Content types written to the message properties
const (
	ContentTypeBinary = "application/octet-stream"
	ContentTypeText   = "text/plain"
	ContentTypeJSON   = "application/json"
)

// DefaultContentEncoding is the content encoding of every envelope
const DefaultContentEncoding = "utf-8"

var (
	// ErrNilValue is returned when encoding a nil value
	ErrNilValue = errors.New("serialization: value is nil")
	// ErrNilSerializer is returned when a bridge is built without serializer
	ErrNilSerializer = errors.New("serialization: serializer is nil")
)

// Envelope is a serialized message body with its content headers
type Envelope struct {
	ContentType     string
	ContentEncoding string
	Body            []byte
}

// DecodeError reports a structured payload that could not be decoded
type DecodeError struct {
	Type    string // Target type name
	Payload []byte // Offending payload
	Err     error  // Underlying error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("serialization: cannot decode %q into %s: %v", truncate(e.Payload), e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Bridge turns typed values into envelopes and back. Raw bytes and
// strings bypass the structured serializer.
type Bridge struct {
	serializer Serializer
}

// NewBridge creates a bridge delegating structured payloads to s
func NewBridge(s Serializer) (*Bridge, error) {
	if s == nil {
		return nil, ErrNilSerializer
	}
	return &Bridge{serializer: s}, nil
}

// Encode serializes v
func (b *Bridge) Encode(v interface{}) (Envelope, error) {
	env := Envelope{ContentEncoding: DefaultContentEncoding}

	switch m := v.(type) {
	case nil:
		return Envelope{}, ErrNilValue
	case []byte:
		env.ContentType = ContentTypeBinary
		env.Body = m
	case string:
		env.ContentType = ContentTypeText
		env.Body = []byte(m)
	default:
		if rv := reflect.ValueOf(v); isNilable(rv.Kind()) && rv.IsNil() {
			return Envelope{}, ErrNilValue
		}
		body, err := b.serializer.Marshal(v)
		if err != nil {
			return Envelope{}, fmt.Errorf("serialization: cannot encode %T: %w", v, err)
		}
		env.ContentType = ContentTypeJSON
		env.Body = body
	}
	return env, nil
}

// Decode deserializes body into a T. The boolean is false when a
// structured payload is intentionally empty (no body or a JSON null); raw
// bytes and strings are always present.
func Decode[T any](b *Bridge, body []byte) (T, bool, error) {
	var v T
	switch p := any(&v).(type) {
	case *[]byte:
		*p = body
		return v, true, nil
	case *string:
		*p = string(body)
		return v, true, nil
	}

	if isEmptyPayload(body) {
		return v, false, nil
	}
	if err := b.serializer.Unmarshal(body, &v); err != nil {
		return v, false, &DecodeError{
			Type:    reflect.TypeOf(&v).Elem().String(),
			Payload: body,
			Err:     err,
		}
	}
	return v, true, nil
}

func isEmptyPayload(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isNilable(k reflect.Kind) bool {
	switch k {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func truncate(payload []byte) string {
	const max = 256
	if len(payload) > max {
		return string(payload[:max]) + "..."
	}
	return string(payload)
}
