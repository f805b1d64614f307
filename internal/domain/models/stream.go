package models

import "encoding/json"

// ConnectionState describes the realtime stream connection. Owned exclusively
// by the socket adapter; consumers read snapshots only.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// Tick is a verbatim market-data payload for one symbol. Payload is stored
// exactly as received; no smoothing or derivation happens at this layer.
type Tick struct {
	Symbol     string          `json:"symbol"`
	ReceivedMs int64           `json:"receivedMs"`
	Payload    json.RawMessage `json:"payload"`
}

// StreamBar is an aggregate bar delivered over the socket (e.g. a minute
// aggregate event). Stored as received, keyed by symbol.
type StreamBar struct {
	Symbol string  `json:"symbol"`
	Start  int64   `json:"start"` // epoch ms of bar open
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// StreamSnapshot is a point-in-time copy of adapter state for consumers.
type StreamSnapshot struct {
	State          ConnectionState            `json:"state"`
	LastMessageMs  int64                      `json:"lastMessageMs"`
	LastError      string                     `json:"lastError,omitempty"`
	Tracked        []string                   `json:"tracked"`
	ProviderStatus json.RawMessage            `json:"providerStatus,omitempty"`
	SymbolStatus   map[string]json.RawMessage `json:"symbolStatus,omitempty"`
}
