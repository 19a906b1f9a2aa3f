package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire layout: [ticket:u8][message_id:u8][payload_len:u16 big-endian][payload].
const (
	HeaderLen     = 4
	MaxPayloadLen = 0xFFFF
	MaxFrameLen   = HeaderLen + MaxPayloadLen
)

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrTruncated       = errors.New("frame: truncated payload")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrLengthMismatch  = errors.New("frame: header length does not match frame size")
)

// Header is the fixed 4-byte wire header. Ticket is carried for peers that
// correlate requests; nothing in this package interprets it.
type Header struct {
	Ticket     uint8
	MessageID  uint8
	PayloadLen uint16
}

// FrameLen is the total on-wire size of a frame carrying this header.
func (h Header) FrameLen() int {
	return HeaderLen + int(h.PayloadLen)
}

func EncodeHeader(h Header) [HeaderLen]byte {
	var b [HeaderLen]byte
	b[0] = h.Ticket
	b[1] = h.MessageID
	binary.BigEndian.PutUint16(b[2:4], h.PayloadLen)
	return b
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	return Header{
		Ticket:     b[0],
		MessageID:  b[1],
		PayloadLen: binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

// Encode builds one complete frame.
func Encode(ticket, messageID byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	out := make([]byte, HeaderLen+len(payload))
	hdr := EncodeHeader(Header{Ticket: ticket, MessageID: messageID, PayloadLen: uint16(len(payload))})
	copy(out, hdr[:])
	copy(out[HeaderLen:], payload)
	return out, nil
}

// Len peeks the header at the start of buf and returns the total frame
// length. ok is false until the full header is present.
func Len(buf []byte) (n int, ok bool) {
	if len(buf) < HeaderLen {
		return 0, false
	}
	return HeaderLen + int(binary.BigEndian.Uint16(buf[2:4])), true
}

// Complete reports whether buf starts with a whole frame.
func Complete(buf []byte) bool {
	n, ok := Len(buf)
	return ok && len(buf) >= n
}

func Ticket(f []byte) uint8 {
	if len(f) < HeaderLen {
		return 0
	}
	return f[0]
}

func MessageID(f []byte) uint8 {
	if len(f) < HeaderLen {
		return 0
	}
	return f[1]
}

// Payload returns the payload slice of a complete frame, or nil.
func Payload(f []byte) []byte {
	if !Complete(f) {
		return nil
	}
	n, _ := Len(f)
	return f[HeaderLen:n]
}

// ReadFrame blocks until one whole frame has been read from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	h, _ := DecodeHeader(hdr[:])
	out := make([]byte, h.FrameLen())
	copy(out, hdr[:])
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, out[HeaderLen:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrTruncated
			}
			return nil, err
		}
	}
	return out, nil
}

// WriteFrame writes an already-encoded frame after checking its header.
func WriteFrame(w io.Writer, f []byte) error {
	n, ok := Len(f)
	if !ok {
		return ErrShortHeader
	}
	if n != len(f) {
		return fmt.Errorf("%w: header=%d frame=%d", ErrLengthMismatch, n, len(f))
	}
	_, err := w.Write(f)
	return err
}
