package protocol

import (
	"encoding/json"
	"strings"
)

// Event type strings on the speech-AI backend stream. The relay only
// interprets this closed subset; all other types merely refresh the
// session's last-response timestamp.
const (
	AIEventResponseDone = "response.done"
	AIEventAudioDelta   = "response.audio.delta"
)

// AIEvent is one decoded event from the speech-AI backend. The backend
// stream is otherwise opaque: unrecognized types are preserved with their
// Type only.
type AIEvent struct {
	Type       string
	Transcript string
	AudioB64   string
	Escalation bool
}

// DecodeAIEvent parses a backend frame. A completed response carries the
// finalized transcript chunk in response.output[0].content[0].transcript;
// audio deltas carry a base64 payload in delta.
func DecodeAIEvent(data []byte) (AIEvent, error) {
	var envelope struct {
		Type     string `json:"type"`
		Delta    string `json:"delta"`
		Response struct {
			Escalation bool `json:"escalation"`
			Output     []struct {
				Content []struct {
					Transcript string `json:"transcript"`
				} `json:"content"`
			} `json:"output"`
		} `json:"response"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return AIEvent{}, malformed("invalid backend frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return AIEvent{}, malformed("missing type", "type")
	}

	ev := AIEvent{Type: typ}
	switch typ {
	case AIEventResponseDone:
		if len(envelope.Response.Output) > 0 && len(envelope.Response.Output[0].Content) > 0 {
			ev.Transcript = envelope.Response.Output[0].Content[0].Transcript
		}
		ev.Escalation = envelope.Response.Escalation
	case AIEventAudioDelta:
		ev.AudioB64 = envelope.Delta
	}
	return ev, nil
}

// Session-configuration frames sent to the backend on open.

type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type SessionConfig struct {
	TurnDetection     TurnDetection `json:"turn_detection"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	Voice             string        `json:"voice"`
	Instructions      string        `json:"instructions"`
	Modalities        []string      `json:"modalities"`
	Temperature       float64       `json:"temperature"`
	Model             string        `json:"model"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ItemContent `json:"content"`
}

type ItemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ResponseCreate struct {
	Type string `json:"type"`
}

type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}
