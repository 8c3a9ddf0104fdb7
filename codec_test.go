package idrange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec(t *testing.T) {
	var events = map[string]Event{
		"hint request": &HintRequest{
			RequestHeader: RequestHeader{Route: 3, RequestID: 17, Requester: "peer-a"},
			PoolName:      "objects",
		},
		"veto request": &VetoRequest{
			RequestHeader: RequestHeader{Route: 3, RequestID: 18, Requester: "peer-a"},
			PoolName:      "objects",
			SubPoolName:   "objects_sub_0a1b2c3d4e5f_100_10",
			Start:         100,
			Size:          10,
		},
		"response": &ResponseEvent{
			Route:     3,
			RequestID: 18,
			Requester: "peer-a",
			Responder: "peer-b",
			Value:     ResponseOK,
		},
		"finalize": &FinalizeEvent{
			Route:       3,
			From:        "peer-a",
			PoolName:    "objects",
			SubPoolName: "objects_sub_0a1b2c3d4e5f_100_10",
			Start:       100,
			Size:        10,
			Keep:        true,
		},
	}

	for name, ev := range events {
		t.Run("should round trip a "+name, func(t *testing.T) {
			// Act
			var data, err = EncodeEvent(ev)
			require.NoError(t, err)
			decoded, err := DecodeEvent(data)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, ev, decoded)
			assert.Equal(t, ev.Sender(), decoded.Sender())
		})
	}

	t.Run("should reject an unknown kind", func(t *testing.T) {
		// Act
		var _, err = DecodeEvent([]byte{0x7f})

		// Assert
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("should reject an empty buffer", func(t *testing.T) {
		// Act
		var _, err = DecodeEvent(nil)

		// Assert
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("should reject a truncated event", func(t *testing.T) {
		// Arrange
		var data, err = EncodeEvent(events["veto request"])
		require.NoError(t, err)

		// Act
		_, err = DecodeEvent(data[:len(data)-3])

		// Assert
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("should reject trailing bytes", func(t *testing.T) {
		// Arrange
		var data, err = EncodeEvent(events["response"])
		require.NoError(t, err)

		// Act
		_, err = DecodeEvent(append(data, 0x00))

		// Assert
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("should refuse to encode foreign events", func(t *testing.T) {
		// Act
		var _, err = EncodeEvent(foreignEvent{})

		// Assert
		assert.Error(t, err)
	})
}

type foreignEvent struct{}

func (foreignEvent) Kind() EventKind { return EventKind(99) }

func (foreignEvent) Sender() PeerID { return "stranger" }
