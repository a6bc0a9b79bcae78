package wire

import "fmt"

// Message is implemented by every request/response payload type. Type
// returns the message_type byte tag; EncodedLen and Encode exclude the
// 5-byte frame header (the caller writes the header separately, with
// EncodeHeader, or writes header and payload together with EncodeFrame).
type Message interface {
	Type() MessageType
	// EncodedLen returns the number of bytes Encode will write, including
	// the leading message_type byte.
	EncodedLen() int
	// Encode serializes the message into buf, which must be at least
	// EncodedLen() bytes, and returns the number of bytes written.
	Encode(buf []byte) (int, error)
}

type ReqSetMsg struct {
	Key, Value string
}

func (m ReqSetMsg) Type() MessageType { return ReqSet }
func (m ReqSetMsg) EncodedLen() int   { return 1 + encodedStringLen(m.Key) + encodedStringLen(m.Value) }
func (m ReqSetMsg) Encode(buf []byte) (int, error) {
	if len(buf) < m.EncodedLen() {
		return 0, ErrShortBuffer
	}
	buf[0] = byte(ReqSet)
	n := 1
	n += putString(buf[n:], m.Key)
	n += putString(buf[n:], m.Value)
	return n, nil
}

type ReqGetMsg struct{ Key string }

func (m ReqGetMsg) Type() MessageType { return ReqGet }
func (m ReqGetMsg) EncodedLen() int   { return 1 + encodedStringLen(m.Key) }
func (m ReqGetMsg) Encode(buf []byte) (int, error) {
	if len(buf) < m.EncodedLen() {
		return 0, ErrShortBuffer
	}
	buf[0] = byte(ReqGet)
	n := 1 + putString(buf[1:], m.Key)
	return n, nil
}

type ReqRemoveMsg struct{ Key string }

func (m ReqRemoveMsg) Type() MessageType { return ReqRemove }
func (m ReqRemoveMsg) EncodedLen() int   { return 1 + encodedStringLen(m.Key) }
func (m ReqRemoveMsg) Encode(buf []byte) (int, error) {
	if len(buf) < m.EncodedLen() {
		return 0, ErrShortBuffer
	}
	buf[0] = byte(ReqRemove)
	n := 1 + putString(buf[1:], m.Key)
	return n, nil
}

type RespSetMsg struct{ Status StatusCode }

func (m RespSetMsg) Type() MessageType { return RespSet }
func (m RespSetMsg) EncodedLen() int   { return 2 }
func (m RespSetMsg) Encode(buf []byte) (int, error) {
	if len(buf) < m.EncodedLen() {
		return 0, ErrShortBuffer
	}
	buf[0] = byte(RespSet)
	buf[1] = byte(m.Status)
	return 2, nil
}

type RespGetMsg struct {
	Status StatusCode
	Value  *string
}

func (m RespGetMsg) Type() MessageType { return RespGet }
func (m RespGetMsg) EncodedLen() int   { return 2 + encodedOptionStringLen(m.Value) }
func (m RespGetMsg) Encode(buf []byte) (int, error) {
	if len(buf) < m.EncodedLen() {
		return 0, ErrShortBuffer
	}
	buf[0] = byte(RespGet)
	buf[1] = byte(m.Status)
	n := 2 + putOptionString(buf[2:], m.Value)
	return n, nil
}

type RespRemoveMsg struct{ Status StatusCode }

func (m RespRemoveMsg) Type() MessageType { return RespRemove }
func (m RespRemoveMsg) EncodedLen() int   { return 2 }
func (m RespRemoveMsg) Encode(buf []byte) (int, error) {
	if len(buf) < m.EncodedLen() {
		return 0, ErrShortBuffer
	}
	buf[0] = byte(RespRemove)
	buf[1] = byte(m.Status)
	return 2, nil
}

// EncodeFrame writes a full frame (header + payload) for m into buf, which
// must be at least HeaderLen+m.EncodedLen() bytes.
func EncodeFrame(buf []byte, m Message) (int, error) {
	n := HeaderLen + m.EncodedLen()
	if len(buf) < n {
		return 0, ErrShortBuffer
	}
	if err := EncodeHeader(buf, uint32(m.EncodedLen())); err != nil {
		return 0, err
	}
	if _, err := m.Encode(buf[HeaderLen:]); err != nil {
		return 0, err
	}
	return n, nil
}

// DecodePayload decodes a payload (message_type byte plus body) into the
// concrete Message it tags. buf must be exactly one payload's worth of
// bytes, as delimited by a frame header's payload_length.
func DecodePayload(buf []byte) (Message, error) {
	if len(buf) < 1 {
		return nil, ErrUnexpectedEOF
	}
	switch MessageType(buf[0]) {
	case ReqSet:
		key, n, err := getString(buf[1:])
		if err != nil {
			return nil, err
		}
		value, _, err := getString(buf[1+n:])
		if err != nil {
			return nil, err
		}
		return ReqSetMsg{Key: key, Value: value}, nil
	case ReqGet:
		key, _, err := getString(buf[1:])
		if err != nil {
			return nil, err
		}
		return ReqGetMsg{Key: key}, nil
	case ReqRemove:
		key, _, err := getString(buf[1:])
		if err != nil {
			return nil, err
		}
		return ReqRemoveMsg{Key: key}, nil
	case RespSet:
		if len(buf) < 2 {
			return nil, ErrUnexpectedEOF
		}
		status, err := getStatusCode(buf[1])
		if err != nil {
			return nil, err
		}
		return RespSetMsg{Status: status}, nil
	case RespGet:
		if len(buf) < 2 {
			return nil, ErrUnexpectedEOF
		}
		status, err := getStatusCode(buf[1])
		if err != nil {
			return nil, err
		}
		value, _, err := getOptionString(buf[2:])
		if err != nil {
			return nil, err
		}
		return RespGetMsg{Status: status, Value: value}, nil
	case RespRemove:
		if len(buf) < 2 {
			return nil, ErrUnexpectedEOF
		}
		status, err := getStatusCode(buf[1])
		if err != nil {
			return nil, err
		}
		return RespRemoveMsg{Status: status}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownMessageType, buf[0])
	}
}
