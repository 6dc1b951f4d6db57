package serialization

import (
	"encoding/json"

	"github.com/mailru/easyjson"
)

// Serializer encodes and decodes structured payloads
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONSerializer is the default structured serializer. Types generated by
// easyjson take the generated fast path, everything else goes through
// encoding/json.
type JSONSerializer struct{}

// NewJSONSerializer creates a JSON serializer
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Marshal encodes v as JSON
func (s *JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	if m, ok := v.(easyjson.Marshaler); ok {
		return easyjson.Marshal(m)
	}
	return json.Marshal(v)
}

// Unmarshal decodes JSON data into v, which must be a pointer
func (s *JSONSerializer) Unmarshal(data []byte, v interface{}) error {
	if u, ok := v.(easyjson.Unmarshaler); ok {
		return easyjson.Unmarshal(data, u)
	}
	return json.Unmarshal(data, v)
}
