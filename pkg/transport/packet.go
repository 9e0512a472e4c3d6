package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ProtocolVersion is carried in HELLO; peers with a different version are refused.
const ProtocolVersion = 1

// PacketHeaderSize is kind(1) + txid(1).
const PacketHeaderSize = 2

const helloBodySize = 5

// ErrMalformedPacket indicates a frame that is not a valid packet.
var ErrMalformedPacket = errors.New("malformed packet")

// PacketKind identifies a channel packet.
type PacketKind uint8

const (
	PacketHello PacketKind = 1
	PacketPush  PacketKind = 2
	PacketAck   PacketKind = 3
	PacketNack  PacketKind = 4
)

// String returns the packet kind name.
func (k PacketKind) String() string {
	switch k {
	case PacketHello:
		return "HELLO"
	case PacketPush:
		return "PUSH"
	case PacketAck:
		return "ACK"
	case PacketNack:
		return "NACK"
	default:
		return "UNKNOWN"
	}
}

type packet struct {
	Kind PacketKind
	TxID uint8
	Body []byte
}

func encodePacket(kind PacketKind, txid uint8, body []byte) []byte {
	buf := make([]byte, PacketHeaderSize+len(body))
	buf[0] = byte(kind)
	buf[1] = txid
	copy(buf[PacketHeaderSize:], body)
	return buf
}

func decodePacket(frame []byte) (packet, error) {
	if len(frame) < PacketHeaderSize {
		return packet{}, fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(frame))
	}
	p := packet{
		Kind: PacketKind(frame[0]),
		TxID: frame[1],
		Body: frame[PacketHeaderSize:],
	}
	switch p.Kind {
	case PacketHello:
		if len(p.Body) != helloBodySize {
			return packet{}, fmt.Errorf("%w: hello body %d bytes", ErrMalformedPacket, len(p.Body))
		}
	case PacketPush:
	case PacketAck, PacketNack:
		if len(p.Body) != 0 {
			return packet{}, fmt.Errorf("%w: %s with body", ErrMalformedPacket, p.Kind)
		}
	default:
		return packet{}, fmt.Errorf("%w: unknown kind %d", ErrMalformedPacket, frame[0])
	}
	return p, nil
}

// hello is the negotiation body.
type hello struct {
	Version  uint8
	Inbound  int
	Outbound int
}

func encodeHello(h hello) []byte {
	body := make([]byte, helloBodySize)
	body[0] = h.Version
	binary.LittleEndian.PutUint16(body[1:], uint16(h.Inbound))
	binary.LittleEndian.PutUint16(body[3:], uint16(h.Outbound))
	return encodePacket(PacketHello, 0, body)
}

func decodeHello(p packet) (hello, error) {
	if p.Kind != PacketHello {
		return hello{}, fmt.Errorf("expected HELLO, got %s", p.Kind)
	}
	return hello{
		Version:  p.Body[0],
		Inbound:  int(binary.LittleEndian.Uint16(p.Body[1:])),
		Outbound: int(binary.LittleEndian.Uint16(p.Body[3:])),
	}, nil
}
