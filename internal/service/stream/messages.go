package stream

import "encoding/json"

// envelope carries only the fields needed to route an inbound frame. The
// payload itself is kept verbatim; unrecognized types are ignored without
// error.
type envelope struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
}

const (
	msgHello          = "hello"
	msgProviderStatus = "provider_status"
	msgSymbolStatus   = "symbol_status"
	msgTick           = "tick"
	msgBar            = "bar"
	msgError          = "error"
)

// controlMessage is the outbound subscribe/unsubscribe frame.
type controlMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// barMessage is the minute-aggregate frame shape.
type barMessage struct {
	Symbol       string  `json:"symbol"`
	Start        int64   `json:"start"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
	SessionStart int64   `json:"sessionStart,omitempty"`
}

// errorMessage is the upstream protocol error frame.
type errorMessage struct {
	Message string `json:"message"`
}

func decodeEnvelope(b []byte) (envelope, bool) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, false
	}
	return env, true
}
