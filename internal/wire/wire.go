// Package wire implements the byte layout of gateway CAN frames.
//
// Frame layout (no alignment padding):
//
//	byte 0:     DLC[7:4], bus[3:1], fd[0]
//	bytes 1..4: (addr << 3) | (extended << 2) | (returned << 1) | rejected, little-endian
//	byte 5:     checksum = XOR(bytes 0..4 and all payload bytes)
//	bytes 6..:  payload, length selected by the DLC code in byte 0
//
// Frames are concatenated back-to-back on the transport with no extra
// framing; the total length of a frame is fully determined by its first
// byte.
package wire

import (
	"errors"
	"fmt"

	"github.com/canlink/go-can-gateway/internal/can"
)

const (
	// HeaderLen is the fixed frame header size in bytes.
	HeaderLen = 6
	// MaxPayload is the largest payload a CAN FD frame carries.
	MaxPayload = 64
	// MaxFrameLen is the largest possible on-wire frame.
	MaxFrameLen = HeaderLen + MaxPayload
)

// dlcToLen maps the 4-bit length-class code to payload bytes (CAN FD DLC
// table; classic frames only use codes 0..8).
var dlcToLen = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// ErrInvalidLengthCode is returned when a length-class code is outside the
// range valid for the frame's class (a classic frame declaring a >8 byte
// class). It must be treated as stream corruption, never used to size a
// buffer.
var ErrInvalidLengthCode = errors.New("wire: invalid length code")

// ErrTruncatedFrame is returned when a buffer ends before the payload its
// header declares.
var ErrTruncatedFrame = errors.New("wire: truncated frame")

// ErrBadPayloadLen is returned when a frame's Len does not match any DLC
// length class.
var ErrBadPayloadLen = errors.New("wire: payload length not a DLC class")

// PayloadLen returns the payload length selected by a 4-bit length-class
// code. The code is masked to 4 bits before lookup; for classic frames
// codes above 8 are rejected rather than trusted.
func PayloadLen(code uint8, fd bool) (int, error) {
	code &= 0x0F
	if !fd && code > 8 {
		return 0, fmt.Errorf("%w: %d (classic)", ErrInvalidLengthCode, code)
	}
	return int(dlcToLen[code]), nil
}

// FrameLen returns the total on-wire length of the frame starting with
// first. Both the length-class code and the FD flag live in byte 0, so the
// first byte alone decides the frame length.
func FrameLen(first byte) (int, error) {
	n, err := PayloadLen(first>>4, first&0x01 != 0)
	if err != nil {
		return 0, err
	}
	return HeaderLen + n, nil
}

// CodeForLen returns the length-class code encoding a payload of n bytes.
func CodeForLen(n int, fd bool) (uint8, error) {
	if n >= 0 && n <= 8 {
		return uint8(n), nil
	}
	if fd {
		for code := 9; code < 16; code++ {
			if int(dlcToLen[code]) == n {
				return uint8(code), nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrBadPayloadLen, n)
}

// Checksum computes the XOR checksum over a serialized frame, skipping the
// checksum byte itself. buf must hold at least HeaderLen bytes.
func Checksum(buf []byte) byte {
	var sum byte
	for i, b := range buf {
		if i == 5 {
			continue
		}
		sum ^= b
	}
	return sum
}

// VerifyChecksum reports whether a serialized frame carries a valid
// checksum byte. The gateway core never calls this on ingest (content
// validation is a downstream concern); it exists for consumers that do.
func VerifyChecksum(buf []byte) bool {
	if len(buf) < HeaderLen {
		return false
	}
	return buf[5] == Checksum(buf)
}

// MarshalInto serializes f into dst and returns the frame length.
// dst must hold the whole frame; MaxFrameLen always suffices.
func MarshalInto(dst []byte, f *can.Frame) (int, error) {
	code, err := CodeForLen(int(f.Len), f.FD)
	if err != nil {
		return 0, err
	}
	total := HeaderLen + int(f.Len)
	if len(dst) < total {
		return 0, fmt.Errorf("wire: marshal buffer too small: %d < %d", len(dst), total)
	}
	b0 := code << 4
	b0 |= (f.Bus & can.MaxBus) << 1
	if f.FD {
		b0 |= 0x01
	}
	dst[0] = b0
	packed := f.Addr << 3
	if f.Extended {
		packed |= 1 << 2
	}
	if f.Returned {
		packed |= 1 << 1
	}
	if f.Rejected {
		packed |= 1
	}
	dst[1] = byte(packed)
	dst[2] = byte(packed >> 8)
	dst[3] = byte(packed >> 16)
	dst[4] = byte(packed >> 24)
	copy(dst[HeaderLen:total], f.Data[:f.Len])
	dst[5] = Checksum(dst[:total])
	return total, nil
}

// AppendFrame appends the serialized form of f to dst.
func AppendFrame(dst []byte, f *can.Frame) ([]byte, error) {
	var tmp [MaxFrameLen]byte
	n, err := MarshalInto(tmp[:], f)
	if err != nil {
		return dst, err
	}
	return append(dst, tmp[:n]...), nil
}

// Unmarshal decodes one frame from the start of buf with bounds-checked
// field extraction. It returns the frame and the number of bytes consumed.
// The checksum byte is carried through unchecked.
func Unmarshal(buf []byte) (can.Frame, int, error) {
	var f can.Frame
	if len(buf) < HeaderLen {
		return f, 0, fmt.Errorf("%w: %d header bytes", ErrTruncatedFrame, len(buf))
	}
	b0 := buf[0]
	f.FD = b0&0x01 != 0
	f.Bus = (b0 >> 1) & can.MaxBus
	n, err := PayloadLen(b0>>4, f.FD)
	if err != nil {
		return f, 0, err
	}
	total := HeaderLen + n
	if len(buf) < total {
		return f, 0, fmt.Errorf("%w: %d of %d bytes", ErrTruncatedFrame, len(buf), total)
	}
	packed := uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16 | uint32(buf[4])<<24
	f.Addr = packed >> 3
	f.Extended = packed&(1<<2) != 0
	f.Returned = packed&(1<<1) != 0
	f.Rejected = packed&1 != 0
	f.Len = uint8(n)
	copy(f.Data[:n], buf[HeaderLen:total])
	return f, total, nil
}
