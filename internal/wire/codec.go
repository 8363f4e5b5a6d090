// Package wire implements the KMSG framing codec: a fixed "BUS0" magic plus
// five big-endian length fields followed by five payloads, as specified in
// spec.md §4.4. Encoding targets net.Buffers so a single write performs
// scatter-gather I/O (writev) exactly as the original C++ implementation's
// iovec-based sendmsg did.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/orizon-lang/litebus/internal/aid"
	liteerrors "github.com/orizon-lang/litebus/internal/errors"
	"github.com/orizon-lang/litebus/internal/message"
)

// Magic is the fixed four-byte frame marker.
const Magic = "BUS0"

// HeaderSize is magic(4) + five u32 length fields.
const HeaderSize = 4 + 5*4

// Field size limits from spec.md §4.4. Exceeding any of these is a fatal
// parse error (DISCONNECTING), never a partial-read condition.
const (
	MaxNameLen      = 1024
	MaxToLen        = 1024
	MaxFromLen      = 1024
	MaxSignatureLen = 2048
	MaxBodyLen      = 100 * 1024 * 1024
)

// ErrBadMagic is returned when a frame's first four bytes are not "BUS0".
var ErrBadMagic = errors.New("wire: bad magic")

// ErrOversize is returned when a declared field length exceeds its cap.
var ErrOversize = errors.New("wire: field exceeds size limit")

// ErrBadAddress is returned when the wire "to"/"from" fields do not parse as
// valid AID hash-strings once the frame is fully reassembled.
var ErrBadAddress = errors.New("wire: invalid address in reassembled frame")

// oversizeErr wraps both ErrOversize (for errors.Is callers that only care
// about the sentinel) and a categorized liteerrors.OverLimit (for callers
// that want the offending field and its limit).
func oversizeErr(field string, got, max int) error {
	return fmt.Errorf("%w: %w", ErrOversize, liteerrors.OverLimit(field, got, max))
}

// Encode renders m as scatter-gather buffers suitable for a single
// net.Buffers.WriteTo call (writev under the hood). The returned buffers
// alias m's fields; callers must not mutate m until the write completes.
func Encode(m *message.Message) (net.Buffers, error) {
	name := []byte(m.Name)
	to := []byte(m.To.HashString())
	from := []byte(m.From.HashString())
	sig := m.Signature
	body := m.Body

	if len(sig) == 0 {
		sig = []byte(message.DefaultSignature)
	}

	switch {
	case len(name) > MaxNameLen:
		return nil, oversizeErr("name", len(name), MaxNameLen)
	case len(to) > MaxToLen:
		return nil, oversizeErr("to", len(to), MaxToLen)
	case len(from) > MaxFromLen:
		return nil, oversizeErr("from", len(from), MaxFromLen)
	case len(sig) > MaxSignatureLen:
		return nil, oversizeErr("signature", len(sig), MaxSignatureLen)
	case len(body) > MaxBodyLen:
		return nil, oversizeErr("body", len(body), MaxBodyLen)
	}

	hdr := make([]byte, HeaderSize)
	copy(hdr[0:4], Magic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(name)))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(to)))
	binary.BigEndian.PutUint32(hdr[12:16], uint32(len(from)))
	binary.BigEndian.PutUint32(hdr[16:20], uint32(len(sig)))
	binary.BigEndian.PutUint32(hdr[20:24], uint32(len(body)))

	return net.Buffers{hdr, name, to, from, sig, body}, nil
}

type decodeStage int

const (
	stageHeader decodeStage = iota
	stageBody
)

type rawHeader struct {
	nameLen uint32
	toLen   uint32
	fromLen uint32
	sigLen  uint32
	bodyLen uint32
}

func (h rawHeader) total() int {
	return int(h.nameLen) + int(h.toLen) + int(h.fromLen) + int(h.sigLen) + int(h.bodyLen)
}

// Decoder is an incremental KMSG frame parser. It is not safe for concurrent
// use; each Connection owns exactly one Decoder, matching the single-threaded
// per-loop ownership model of spec.md §5.
type Decoder struct {
	stage decodeStage
	buf   []byte
	hdr   rawHeader
}

// NewDecoder returns a Decoder positioned at the start of a frame (the
// MSG_HEADER state of spec.md §4.4's receive state machine).
func NewDecoder() *Decoder { return &Decoder{stage: stageHeader} }

// Feed appends newly received bytes and returns every complete frame that
// can be extracted from the accumulated buffer, in wire order. A nil/empty
// slice with no error means "more bytes needed"; it never blocks and never
// retains more than one partial frame's worth of backlog.
func (d *Decoder) Feed(chunk []byte) ([]*message.Message, error) {
	if len(chunk) > 0 {
		d.buf = append(d.buf, chunk...)
	}

	var out []*message.Message

	for {
		switch d.stage {
		case stageHeader:
			if len(d.buf) < HeaderSize {
				return out, nil
			}

			if string(d.buf[0:4]) != Magic {
				return out, ErrBadMagic
			}

			h := rawHeader{
				nameLen: binary.BigEndian.Uint32(d.buf[4:8]),
				toLen:   binary.BigEndian.Uint32(d.buf[8:12]),
				fromLen: binary.BigEndian.Uint32(d.buf[12:16]),
				sigLen:  binary.BigEndian.Uint32(d.buf[16:20]),
				bodyLen: binary.BigEndian.Uint32(d.buf[20:24]),
			}

			switch {
			case h.nameLen > MaxNameLen:
				return out, oversizeErr("name", int(h.nameLen), MaxNameLen)
			case h.toLen > MaxToLen:
				return out, oversizeErr("to", int(h.toLen), MaxToLen)
			case h.fromLen > MaxFromLen:
				return out, oversizeErr("from", int(h.fromLen), MaxFromLen)
			case h.sigLen > MaxSignatureLen:
				return out, oversizeErr("signature", int(h.sigLen), MaxSignatureLen)
			case h.bodyLen > MaxBodyLen:
				return out, oversizeErr("body", int(h.bodyLen), MaxBodyLen)
			}

			d.hdr = h
			d.buf = d.buf[HeaderSize:]
			d.stage = stageBody

		case stageBody:
			need := d.hdr.total()
			if len(d.buf) < need {
				return out, nil
			}

			p := d.buf
			name := p[:d.hdr.nameLen]
			p = p[d.hdr.nameLen:]
			to := p[:d.hdr.toLen]
			p = p[d.hdr.toLen:]
			from := p[:d.hdr.fromLen]
			p = p[d.hdr.fromLen:]
			sig := p[:d.hdr.sigLen]
			p = p[d.hdr.sigLen:]
			body := p[:d.hdr.bodyLen]

			toAID, errTo := aid.New(string(to))
			fromAID, errFrom := aid.New(string(from))

			if errTo != nil || errFrom != nil || !toAID.OK() || !fromAID.OK() {
				return out, fmt.Errorf("%w: to=%q from=%q", ErrBadAddress, to, from)
			}

			out = append(out, &message.Message{
				From:      fromAID,
				To:        toAID,
				Name:      string(name),
				Body:      append([]byte(nil), body...),
				Signature: append([]byte(nil), sig...),
				Type:      message.KMSG,
			})

			d.buf = d.buf[need:]
			d.stage = stageHeader
		}
	}
}

// Reset clears in-flight decode state, used when a Connection is reused
// after a reconnect with a fresh fd but the same Decoder instance is not
// desired (callers normally just allocate a new Decoder instead).
func (d *Decoder) Reset() {
	d.stage = stageHeader
	d.buf = nil
	d.hdr = rawHeader{}
}

// Protocol is the classification Classify reports for the first bytes of a
// fresh stream, per spec.md §4.4's "Protocol classification".
type Protocol int

const (
	ProtoUnknown Protocol = iota
	ProtoKMSG
	ProtoHTTPResponse
	ProtoHTTPRequest
)

// Classify requires at least 4 bytes; fewer bytes means the caller should
// wait for more data before calling again.
func Classify(peek []byte) Protocol {
	if len(peek) < 4 {
		return ProtoUnknown
	}

	if string(peek[:4]) == Magic {
		return ProtoKMSG
	}

	if string(peek[:4]) == "HTTP" {
		return ProtoHTTPResponse
	}

	return ProtoHTTPRequest
}
