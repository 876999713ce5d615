package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/guildkv/guildkv/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present. Boolean fields
// carry no body bytes: the set flag is the value.
const (
	hasGuildID uint16 = 1 << iota
	hasPayload
	hasVersion
	hasHops
	hasSender
	hasSenderAddr
	hasDigest
	hasView
	hasTimestamp
	hasOk
	hasStale
	hasErrKind
	hasErr
)

// header is MsgType (1 byte) plus the flags word (2 bytes)
const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags uint16
	pos := headerSize

	if msg.GuildID != "" {
		flags |= hasGuildID
		pos = writeBytes(result, pos, []byte(msg.GuildID))
	}
	if msg.Payload != nil {
		flags |= hasPayload
		pos = writeBytes(result, pos, msg.Payload)
	}
	if msg.Version > 0 {
		flags |= hasVersion
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Version)
		pos += 8
	}
	if msg.Hops > 0 {
		flags |= hasHops
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(msg.Hops))
		pos += 4
	}
	if msg.Sender != "" {
		flags |= hasSender
		pos = writeBytes(result, pos, []byte(msg.Sender))
	}
	if msg.SenderAddr != "" {
		flags |= hasSenderAddr
		pos = writeBytes(result, pos, []byte(msg.SenderAddr))
	}
	if msg.Digest != "" {
		flags |= hasDigest
		pos = writeBytes(result, pos, []byte(msg.Digest))
	}
	if msg.View != nil {
		flags |= hasView
		pos = writeBytes(result, pos, msg.View)
	}
	if msg.Timestamp != 0 {
		flags |= hasTimestamp
		binary.BigEndian.PutUint64(result[pos:pos+8], uint64(msg.Timestamp))
		pos += 8
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Stale {
		flags |= hasStale
	}
	if msg.ErrKind != "" {
		flags |= hasErrKind
		pos = writeBytes(result, pos, []byte(msg.ErrKind))
	}
	if msg.Err != "" {
		flags |= hasErr
		writeBytes(result, pos, []byte(msg.Err))
	}

	binary.BigEndian.PutUint16(result[1:3], flags)
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	flags := binary.BigEndian.Uint16(data[1:3])
	pos := headerSize

	var err error
	var raw []byte

	if flags&hasGuildID != 0 {
		if raw, pos, err = readBytes(data, pos, "guild id"); err != nil {
			return err
		}
		msg.GuildID = string(raw)
	} else {
		msg.GuildID = ""
	}

	if flags&hasPayload != 0 {
		if raw, pos, err = readBytes(data, pos, "payload"); err != nil {
			return err
		}
		msg.Payload = append(msg.Payload[:0], raw...)
	} else {
		msg.Payload = nil
	}

	if flags&hasVersion != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for version")
		}
		msg.Version = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	} else {
		msg.Version = 0
	}

	if flags&hasHops != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for hops")
		}
		msg.Hops = int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
	} else {
		msg.Hops = 0
	}

	if flags&hasSender != 0 {
		if raw, pos, err = readBytes(data, pos, "sender"); err != nil {
			return err
		}
		msg.Sender = string(raw)
	} else {
		msg.Sender = ""
	}

	if flags&hasSenderAddr != 0 {
		if raw, pos, err = readBytes(data, pos, "sender addr"); err != nil {
			return err
		}
		msg.SenderAddr = string(raw)
	} else {
		msg.SenderAddr = ""
	}

	if flags&hasDigest != 0 {
		if raw, pos, err = readBytes(data, pos, "digest"); err != nil {
			return err
		}
		msg.Digest = string(raw)
	} else {
		msg.Digest = ""
	}

	if flags&hasView != 0 {
		if raw, pos, err = readBytes(data, pos, "view"); err != nil {
			return err
		}
		msg.View = append(msg.View[:0], raw...)
	} else {
		msg.View = nil
	}

	if flags&hasTimestamp != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for timestamp")
		}
		msg.Timestamp = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8
	} else {
		msg.Timestamp = 0
	}

	msg.Ok = flags&hasOk != 0
	msg.Stale = flags&hasStale != 0

	if flags&hasErrKind != 0 {
		if raw, pos, err = readBytes(data, pos, "error kind"); err != nil {
			return err
		}
		msg.ErrKind = string(raw)
	} else {
		msg.ErrKind = ""
	}

	if flags&hasErr != 0 {
		if raw, _, err = readBytes(data, pos, "error"); err != nil {
			return err
		}
		msg.Err = string(raw)
	} else {
		msg.Err = ""
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// writeBytes writes a 4-byte length prefix followed by the data and returns
// the new write position.
func writeBytes(dst []byte, pos int, data []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(data)))
	pos += 4
	copy(dst[pos:pos+len(data)], data)
	return pos + len(data)
}

// readBytes reads a 4-byte length prefix followed by the data and returns
// the slice (aliasing the input), the new read position and an error for
// truncated input.
func readBytes(data []byte, pos int, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s data", field)
	}
	return data[pos : pos+n], pos + n, nil
}

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	if msg.GuildID != "" {
		size += 4 + len(msg.GuildID)
	}
	if msg.Payload != nil {
		size += 4 + len(msg.Payload)
	}
	if msg.Version > 0 {
		size += 8
	}
	if msg.Hops > 0 {
		size += 4
	}
	if msg.Sender != "" {
		size += 4 + len(msg.Sender)
	}
	if msg.SenderAddr != "" {
		size += 4 + len(msg.SenderAddr)
	}
	if msg.Digest != "" {
		size += 4 + len(msg.Digest)
	}
	if msg.View != nil {
		size += 4 + len(msg.View)
	}
	if msg.Timestamp != 0 {
		size += 8
	}
	if msg.ErrKind != "" {
		size += 4 + len(msg.ErrKind)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}

	return size
}
