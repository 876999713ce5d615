package serializer

import (
	"reflect"
	"testing"

	"github.com/guildkv/guildkv/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Forwarded get request
		{
			MsgType: common.MsgTGet,
			GuildID: "guild-1842",
			Hops:    1,
		},

		// Put response carrying the stored record
		{
			MsgType: common.MsgTPut,
			GuildID: "guild-1842",
			Payload: []byte(`{"prefix":"!","locale":"de"}`),
			Version: 7,
			Sender:  "node-a",
		},

		// Stale read response
		{
			MsgType: common.MsgTGet,
			GuildID: "guild-1842",
			Payload: []byte("cached"),
			Version: 6,
			Ok:      true,
			Stale:   true,
		},

		// Heartbeat with digest
		{
			MsgType:    common.MsgTHeartbeat,
			Sender:     "node-b",
			SenderAddr: "10.0.0.2:4000",
			Digest:     "9f2c41aa03",
			Timestamp:  1712345678901,
		},

		// View response with encoded membership
		{
			MsgType: common.MsgTViewRequest,
			View:    []byte(`{"nodes":[],"ring_version":3}`),
		},

		// Error response with a stable kind
		{
			MsgType: common.MsgTError,
			ErrKind: "owner_unavailable",
			Err:     "owner node-c of guild guild-7 is unavailable",
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d mismatch:\n  sent:     %+v\n  received: %+v", i, msg, result)
				}
			}
		})
	}
}

// TestBinaryDeserializeTruncated tests that truncated input is rejected
// instead of panicking
func TestBinaryDeserializeTruncated(t *testing.T) {
	serializer := NewBinarySerializer()

	data, err := serializer.Serialize(common.Message{
		MsgType: common.MsgTPut,
		GuildID: "guild-1",
		Payload: []byte("payload"),
		Version: 1,
	})
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	for n := 0; n < len(data); n++ {
		var msg common.Message
		if err := serializer.Deserialize(data[:n], &msg); err == nil {
			t.Errorf("Expected error for input truncated to %d bytes", n)
		}
	}
}

// TestBinaryReusesBuffers tests that deserializing into a reused message
// does not leak previous field values
func TestBinaryReusesBuffers(t *testing.T) {
	serializer := NewBinarySerializer()

	var msg common.Message
	first, _ := serializer.Serialize(common.Message{
		MsgType: common.MsgTPut,
		GuildID: "guild-1",
		Payload: []byte("long payload value"),
		Sender:  "node-a",
		Ok:      true,
	})
	second, _ := serializer.Serialize(common.Message{
		MsgType: common.MsgTDelete,
		GuildID: "guild-2",
	})

	if err := serializer.Deserialize(first, &msg); err != nil {
		t.Fatalf("Failed to deserialize first message: %v", err)
	}
	if err := serializer.Deserialize(second, &msg); err != nil {
		t.Fatalf("Failed to deserialize second message: %v", err)
	}

	want := common.Message{MsgType: common.MsgTDelete, GuildID: "guild-2"}
	if !reflect.DeepEqual(want, msg) {
		t.Errorf("Stale fields after reuse:\n  want: %+v\n  got:  %+v", want, msg)
	}
}
