package serialization

import (
	"errors"
	"testing"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	ID    string   `json:"id"`
	Items []string `json:"items"`
	Total float64  `json:"total"`
}

// ticket implements the easyjson interfaces by hand, the way generated code does
type ticket struct {
	ID    string
	Seats int
}

var easyjsonCalls int

func (t ticket) MarshalEasyJSON(w *jwriter.Writer) {
	easyjsonCalls++
	w.RawString(`{"id":`)
	w.String(t.ID)
	w.RawString(`,"seats":`)
	w.Int(t.Seats)
	w.RawByte('}')
}

func (t *ticket) UnmarshalEasyJSON(l *jlexer.Lexer) {
	easyjsonCalls++
	l.Delim('{')
	for !l.IsDelim('}') {
		key := l.UnsafeString()
		l.WantColon()
		switch key {
		case "id":
			t.ID = l.String()
		case "seats":
			t.Seats = l.Int()
		default:
			l.SkipRecursive()
		}
		l.WantComma()
	}
	l.Delim('}')
}

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b, err := NewBridge(NewJSONSerializer())
	require.NoError(t, err)
	return b
}

func TestBridgeEncode(t *testing.T) {
	b := newTestBridge(t)

	t.Run("binary passes through", func(t *testing.T) {
		body := []byte{0x00, 0xff, 0x10}
		env, err := b.Encode(body)
		require.NoError(t, err)
		assert.Equal(t, ContentTypeBinary, env.ContentType)
		assert.Equal(t, DefaultContentEncoding, env.ContentEncoding)
		assert.Equal(t, body, env.Body)
	})

	t.Run("text is utf-8", func(t *testing.T) {
		env, err := b.Encode("ping é")
		require.NoError(t, err)
		assert.Equal(t, ContentTypeText, env.ContentType)
		assert.Equal(t, []byte("ping é"), env.Body)
	})

	t.Run("structured goes through the serializer", func(t *testing.T) {
		env, err := b.Encode(order{ID: "o-1", Items: []string{"a"}, Total: 2.5})
		require.NoError(t, err)
		assert.Equal(t, ContentTypeJSON, env.ContentType)
		assert.JSONEq(t, `{"id":"o-1","items":["a"],"total":2.5}`, string(env.Body))
	})

	t.Run("nil values are rejected", func(t *testing.T) {
		_, err := b.Encode(nil)
		assert.ErrorIs(t, err, ErrNilValue)

		var o *order
		_, err = b.Encode(o)
		assert.ErrorIs(t, err, ErrNilValue)
	})

	t.Run("serializer failures are wrapped", func(t *testing.T) {
		_, err := b.Encode(make(chan int))
		assert.Error(t, err)
	})
}

func TestBridgeRoundTrip(t *testing.T) {
	b := newTestBridge(t)

	t.Run("text", func(t *testing.T) {
		env, err := b.Encode("hello")
		require.NoError(t, err)

		got, ok, err := Decode[string](b, env.Body)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "hello", got)
	})

	t.Run("binary is byte exact", func(t *testing.T) {
		in := []byte{0, 1, 2, 254, 255}
		env, err := b.Encode(in)
		require.NoError(t, err)

		got, ok, err := Decode[[]byte](b, env.Body)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, in, got)
	})

	t.Run("structured value", func(t *testing.T) {
		in := order{ID: "o-2", Items: []string{"x", "y"}, Total: 10}
		env, err := b.Encode(in)
		require.NoError(t, err)

		got, ok, err := Decode[order](b, env.Body)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, in, got)

		ptr, ok, err := Decode[*order](b, env.Body)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, in, *ptr)
	})

	t.Run("easyjson fast path", func(t *testing.T) {
		easyjsonCalls = 0
		env, err := b.Encode(ticket{ID: "t-1", Seats: 3})
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"t-1","seats":3}`, string(env.Body))

		got, ok, err := Decode[ticket](b, env.Body)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, ticket{ID: "t-1", Seats: 3}, got)
		assert.Equal(t, 2, easyjsonCalls)
	})
}

func TestDecode(t *testing.T) {
	b := newTestBridge(t)

	t.Run("empty structured payload is absent", func(t *testing.T) {
		for _, body := range [][]byte{nil, {}, []byte("  "), []byte("null")} {
			_, ok, err := Decode[order](b, body)
			assert.NoError(t, err)
			assert.False(t, ok)
		}
	})

	t.Run("empty text is present", func(t *testing.T) {
		got, ok, err := Decode[string](b, nil)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, got)
	})

	t.Run("invalid payload carries type and body", func(t *testing.T) {
		_, ok, err := Decode[order](b, []byte(`{"id":`))
		assert.False(t, ok)

		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr))
		assert.Equal(t, "serialization.order", decodeErr.Type)
		assert.Equal(t, []byte(`{"id":`), decodeErr.Payload)
		assert.Contains(t, err.Error(), "serialization.order")
	})
}

func TestNewBridge(t *testing.T) {
	_, err := NewBridge(nil)
	assert.ErrorIs(t, err, ErrNilSerializer)
}
