package common

import (
	"encoding/json"
	"fmt"

	"github.com/guildkv/guildkv/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Record fields
	GuildID string `json:"guild_id,omitempty"` // Used for: Get, Put, Delete, Invalidate
	Payload []byte `json:"payload,omitempty"`  // Used for: Put (request), Get/Put (response)
	Version uint64 `json:"version,omitempty"`  // Used for: Get, Put responses
	Hops    int    `json:"hops,omitempty"`     // Forwarding budget already consumed

	// Membership fields
	Sender     string `json:"sender,omitempty"`      // Node ID of the sending node
	SenderAddr string `json:"sender_addr,omitempty"` // Advertise address of the sender
	Digest     string `json:"digest,omitempty"`      // Cluster view digest
	View       []byte `json:"view,omitempty"`        // Encoded cluster view
	Timestamp  int64  `json:"timestamp,omitempty"`   // Unix millis, heartbeat send time

	// Response only fields
	Ok      bool   `json:"ok,omitempty"`       // Used for: Get (record found)
	Stale   bool   `json:"stale,omitempty"`    // Read served from a replica cache
	ErrKind string `json:"err_kind,omitempty"` // Stable error kind, see store.ErrKind
	Err     string `json:"err,omitempty"`      // Empty if no error
}

// setError fills the error fields of a response from a Go error, preserving
// the stable kind when the error carries one.
func (m *Message) setError(err error) {
	if err == nil {
		return
	}
	m.Err = err.Error()
	m.ErrKind = string(store.KindOf(err))
}

// Error reconstructs the error carried by a response, or nil.
func (m *Message) Error() error {
	if m.Err == "" {
		return nil
	}
	kind := store.ErrKind(m.ErrKind)
	if kind == "" {
		kind = store.KindInternal
	}
	return store.NewError(kind, "%s", m.Err)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewGetRequest creates a new Get request
func NewGetRequest(guildID string, hops int) *Message {
	return &Message{
		MsgType: MsgTGet,
		GuildID: guildID,
		Hops:    hops,
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(rec store.Record, found, stale bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTGet,
		GuildID: rec.GuildID,
		Payload: rec.Payload,
		Version: rec.Version,
		Sender:  rec.Owner,
		Ok:      found,
		Stale:   stale,
	}
	msg.setError(err)
	return msg
}

// NewPutRequest creates a new Put request
func NewPutRequest(guildID string, payload []byte, hops int) *Message {
	return &Message{
		MsgType: MsgTPut,
		GuildID: guildID,
		Payload: payload,
		Hops:    hops,
	}
}

// NewPutResponse creates a new Put response
func NewPutResponse(rec store.Record, err error) *Message {
	msg := &Message{
		MsgType: MsgTPut,
		GuildID: rec.GuildID,
		Payload: rec.Payload,
		Version: rec.Version,
		Sender:  rec.Owner,
	}
	msg.setError(err)
	return msg
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(guildID string, hops int) *Message {
	return &Message{
		MsgType: MsgTDelete,
		GuildID: guildID,
		Hops:    hops,
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTDelete,
	}
	msg.setError(err)
	return msg
}

// NewPingRequest creates a new Ping request
func NewPingRequest() *Message {
	return &Message{
		MsgType: MsgTPing,
	}
}

// NewPingResponse creates a new Ping response
func NewPingResponse(sender string) *Message {
	return &Message{
		MsgType: MsgTPing,
		Sender:  sender,
		Ok:      true,
	}
}

// NewJoinRequest creates a new Join request
func NewJoinRequest(senderID, senderAddr string) *Message {
	return &Message{
		MsgType:    MsgTJoin,
		Sender:     senderID,
		SenderAddr: senderAddr,
	}
}

// NewJoinResponse creates a new Join response carrying the encoded view
func NewJoinResponse(view []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTJoin,
		View:    view,
	}
	msg.setError(err)
	return msg
}

// NewHeartbeatRequest creates a new Heartbeat request
func NewHeartbeatRequest(senderID, senderAddr, digest string, timestampMillis int64) *Message {
	return &Message{
		MsgType:    MsgTHeartbeat,
		Sender:     senderID,
		SenderAddr: senderAddr,
		Digest:     digest,
		Timestamp:  timestampMillis,
	}
}

// NewHeartbeatResponse creates a new Heartbeat response carrying the
// receiver's view digest
func NewHeartbeatResponse(digest string) *Message {
	return &Message{
		MsgType: MsgTHeartbeat,
		Digest:  digest,
		Ok:      true,
	}
}

// NewViewRequest creates a new ViewRequest request
func NewViewRequest(senderID string) *Message {
	return &Message{
		MsgType: MsgTViewRequest,
		Sender:  senderID,
	}
}

// NewViewResponse creates a new ViewRequest response
func NewViewResponse(view []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTViewRequest,
		View:    view,
	}
	msg.setError(err)
	return msg
}

// NewInvalidateRequest creates a new Invalidate request
func NewInvalidateRequest(guildID, senderID string) *Message {
	return &Message{
		MsgType: MsgTInvalidate,
		GuildID: guildID,
		Sender:  senderID,
	}
}

// NewInvalidateResponse creates a new Invalidate response
func NewInvalidateResponse() *Message {
	return &Message{
		MsgType: MsgTInvalidate,
		Ok:      true,
	}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(kind store.ErrKind, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		ErrKind: string(kind),
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTGet:
		return "get"
	case MsgTPut:
		return "put"
	case MsgTDelete:
		return "delete"
	case MsgTPing:
		return "ping"
	case MsgTJoin:
		return "join"
	case MsgTHeartbeat:
		return "heartbeat"
	case MsgTViewRequest:
		return "viewRequest"
	case MsgTInvalidate:
		return "invalidate"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "get":
		*t = MsgTGet
	case "put":
		*t = MsgTPut
	case "delete":
		*t = MsgTDelete
	case "ping":
		*t = MsgTPing
	case "join":
		*t = MsgTJoin
	case "heartbeat":
		*t = MsgTHeartbeat
	case "viewRequest":
		*t = MsgTViewRequest
	case "invalidate":
		*t = MsgTInvalidate
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Record operations (client API, also used node-to-node when forwarding)

	MsgTGet    // Get a guild record
	MsgTPut    // Put a guild record
	MsgTDelete // Delete a guild record
	MsgTPing   // Liveness check

	// Membership operations (node-to-node)

	MsgTJoin        // Announce a new node to a seed
	MsgTHeartbeat   // Periodic liveness exchange with view digest
	MsgTViewRequest // Fetch the full cluster view after a digest mismatch
	MsgTInvalidate  // Drop a cached replica after an owner-side write
)
