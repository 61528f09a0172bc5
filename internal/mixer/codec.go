package mixer

import (
	"fmt"
	"strings"

	"github.com/scgolang/osc"
)

// maxDatagramSize bounds a single OSC datagram. The mixer never sends
// anything close to this outside of meter blobs.
const maxDatagramSize = 4096

// Message is a decoded OSC message.
type Message struct {
	Address   string
	Arguments osc.Arguments
}

// Float returns argument i as a float64. Int arguments are widened.
func (m Message) Float(i int) (float64, bool) {
	if i < 0 || i >= len(m.Arguments) {
		return 0, false
	}
	arg := m.Arguments[i]
	if f, err := arg.ReadFloat32(); err == nil {
		return float64(f), true
	}
	if n, err := arg.ReadInt32(); err == nil {
		return float64(n), true
	}
	return 0, false
}

// String returns argument i if it is an OSC string.
func (m Message) String(i int) (string, bool) {
	if i < 0 || i >= len(m.Arguments) {
		return "", false
	}
	s, err := m.Arguments[i].ReadString()
	if err != nil {
		return "", false
	}
	return s, true
}

// Encode builds an OSC datagram. Supported argument types are float32,
// float64 (sent as float32), int, int32 and string.
func Encode(address string, args ...any) ([]byte, error) {
	if !strings.HasPrefix(address, "/") {
		return nil, fmt.Errorf("encoding %q: address must start with /", address)
	}

	msg := osc.Message{Address: address}
	for i, a := range args {
		switch v := a.(type) {
		case float32:
			msg.Arguments = append(msg.Arguments, osc.Float(v))
		case float64:
			msg.Arguments = append(msg.Arguments, osc.Float(float32(v)))
		case int:
			msg.Arguments = append(msg.Arguments, osc.Int(int32(v))) //nolint:gosec // G115: OSC ints are 32-bit
		case int32:
			msg.Arguments = append(msg.Arguments, osc.Int(v))
		case string:
			msg.Arguments = append(msg.Arguments, osc.String(v))
		default:
			return nil, fmt.Errorf("encoding %s: unsupported argument %d of type %T", address, i, a)
		}
	}
	return msg.Bytes(), nil
}

// Decode parses a datagram into a Message. Bundles are not supported.
// All failures wrap ErrMalformedMessage.
func Decode(datagram []byte) (Message, error) {
	if len(datagram) == 0 {
		return Message{}, fmt.Errorf("%w: empty datagram", ErrMalformedMessage)
	}
	if datagram[0] != '/' {
		return Message{}, fmt.Errorf("%w: not an OSC message (leading byte %q)", ErrMalformedMessage, datagram[0])
	}

	msg, err := osc.ParseMessage(datagram, nil)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return Message{Address: msg.Address, Arguments: msg.Arguments}, nil
}
