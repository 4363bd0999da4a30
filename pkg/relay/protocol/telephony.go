package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the version reported in the connected handshake frame.
const ProtocolVersion = "1.0"

// MalformedEventError reports an inbound frame that does not decode into a
// recognized event kind. It is handled once at the edge: logged and dropped,
// never propagated downstream.
type MalformedEventError struct {
	Message string
	Param   string
}

func (e *MalformedEventError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func malformed(message, param string) *MalformedEventError {
	return &MalformedEventError{Message: message, Param: param}
}

// StreamStart is the telephony "start" control event carrying the stream
// identifier assigned by the provider.
type StreamStart struct {
	StreamSID string
}

// MediaFrame is one inbound audio payload from the telephony stream.
type MediaFrame struct {
	Payload   string
	Timestamp int64
}

// StreamStop is the explicit end-of-call event.
type StreamStop struct{}

// DecodeTelephonyEvent parses an inbound telephony frame into one of the
// closed set of event kinds: StreamStart, MediaFrame, or StreamStop.
// Anything else yields a MalformedEventError.
func DecodeTelephonyEvent(data []byte) (any, error) {
	var envelope struct {
		Event string `json:"event"`
		Start struct {
			StreamSID string `json:"streamSid"`
		} `json:"start"`
		Media struct {
			Payload   string `json:"payload"`
			Timestamp int64  `json:"timestamp"`
		} `json:"media"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, malformed("invalid json frame", "")
	}

	switch strings.TrimSpace(envelope.Event) {
	case "":
		return nil, malformed("missing event", "event")
	case "start":
		if strings.TrimSpace(envelope.Start.StreamSID) == "" {
			return nil, malformed("start.streamSid is required", "start.streamSid")
		}
		return StreamStart{StreamSID: envelope.Start.StreamSID}, nil
	case "media":
		if envelope.Media.Payload == "" {
			return nil, malformed("media.payload is required", "media.payload")
		}
		return MediaFrame{Payload: envelope.Media.Payload, Timestamp: envelope.Media.Timestamp}, nil
	case "stop":
		return StreamStop{}, nil
	default:
		return nil, malformed("unsupported event kind", "event")
	}
}

// Outbound frames written to the telephony connection.

type ConnectedFrame struct {
	Event           string           `json:"event"`
	ProtocolVersion string           `json:"protocolVersion,omitempty"`
	StreamSID       string           `json:"streamSid,omitempty"`
	Parameters      *ConnectedParams `json:"parameters,omitempty"`
}

type ConnectedParams struct {
	Name  string `json:"name"`
	Track string `json:"track"`
}

type OutboundMedia struct {
	Event string       `json:"event"`
	Media MediaPayload `json:"media"`
}

type MediaPayload struct {
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type ResponseFrame struct {
	Event string `json:"event"`
	Text  string `json:"text"`
}

type EscalateFrame struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

type KeepaliveFrame struct {
	Event string `json:"event"`
}
