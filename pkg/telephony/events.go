package telephony

import (
	"encoding/base64"
	"encoding/json"
)

// The provider's stream envelope is decoded exactly once at the transport
// boundary into a tagged event, one variant per lifecycle message. Anything
// unparseable is protocol noise and is dropped, not an error.

// Event is one decoded inbound stream message.
type Event interface{ isEvent() }

// StartEvent carries the stream token and caller metadata that establish
// the call's media path.
type StartEvent struct {
	StreamSID string
	CallSID   string
	Caller    string
}

// MediaEvent carries one decoded inbound audio chunk.
type MediaEvent struct {
	Audio []byte
}

// StopEvent signals call end.
type StopEvent struct{}

func (StartEvent) isEvent() {}
func (MediaEvent) isEvent() {}
func (StopEvent) isEvent()  {}

// callerParamName is the custom parameter the voice webhook threads through
// to the media stream so the session knows who is calling.
const callerParamName = "callerNumber"

type streamEnvelope struct {
	Event string        `json:"event"`
	Start *startPayload `json:"start,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
}

type startPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	From             string            `json:"from"`
	CustomParameters map[string]string `json:"customParameters"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// decodeEvent turns one raw websocket message into a tagged event. The
// second return is false for malformed or unrecognized input.
func decodeEvent(msg []byte) (Event, bool) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, false
	}
	switch env.Event {
	case "start":
		if env.Start == nil {
			return nil, false
		}
		caller := env.Start.CustomParameters[callerParamName]
		if caller == "" {
			caller = env.Start.From
		}
		return StartEvent{
			StreamSID: env.Start.StreamSID,
			CallSID:   env.Start.CallSID,
			Caller:    caller,
		}, true
	case "media":
		if env.Media == nil {
			return nil, false
		}
		audio, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return nil, false
		}
		return MediaEvent{Audio: audio}, true
	case "stop":
		return StopEvent{}, true
	default:
		return nil, false
	}
}
