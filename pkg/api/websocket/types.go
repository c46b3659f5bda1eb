package websocket

import (
	"encoding/json"
)

// Message types
const (
	TypeEvent        = "event"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

// Message is the envelope of every frame in both directions
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribeRequest is accepted for subscribe and unsubscribe messages.
// Every client receives every event; the fields are only echoed back.
type SubscribeRequest struct {
	SubscriptionID *uint64 `json:"subscriptionId,omitempty"`
	ChainID        *uint64 `json:"chainId,omitempty"`
}

// AckMessage acknowledges a subscribe or unsubscribe request
type AckMessage struct {
	Status  string            `json:"status"`
	Request *SubscribeRequest `json:"request,omitempty"`
}

// ErrorMessage represents an error message
type ErrorMessage struct {
	Error string `json:"error"`
}
