package types

import (
	"encoding/json"
	"time"
)

// Chain is a registered EVM network the collector can read from
type Chain struct {
	// ID is the registry identifier referenced by subscriptions
	ID uint64 `json:"id"`

	Name        string `json:"name"`
	RPCEndpoint string `json:"rpcEndpoint"`

	// ChainID is the numeric network id reported by the node (not required to be unique)
	ChainID uint64 `json:"chainId"`

	CreatedAt time.Time `json:"createdAt"`
}

// Subscription is a standing request to ingest one named event from one contract on one chain
type Subscription struct {
	ID              uint64 `json:"id"`
	ChainID         uint64 `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	EventName       string `json:"eventName"`

	// ABI is the JSON array of fragment descriptors, kept in its original order
	ABI json.RawMessage `json:"abi"`

	Description *string `json:"description,omitempty"`

	// FromBlock enables a bounded backfill when the subscription starts
	FromBlock *uint64 `json:"fromBlock,omitempty"`

	// IsActive=false is a soft delete; inactive subscriptions are never ingested
	IsActive bool `json:"isActive"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CollectedEvent is a decoded contract event as persisted by the event store
type CollectedEvent struct {
	ID              uint64 `json:"id"`
	SubscriptionID  uint64 `json:"subscriptionId"`
	ChainID         uint64 `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	EventName       string `json:"eventName"`
	BlockNumber     uint64 `json:"blockNumber"`
	TransactionHash string `json:"transactionHash"`
	LogIndex        uint   `json:"logIndex"`

	// Data maps argument name (or arg<i> when unnamed) to its rendered value.
	// A log that failed to decode carries a single "raw" entry instead.
	Data map[string]string `json:"data"`

	CreatedAt time.Time `json:"createdAt"`
}

// RawDataKey is the Data key used when a log could not be decoded
const RawDataKey = "raw"

// Stats holds aggregate counters exposed at the transport boundary
type Stats struct {
	TotalEvents        uint64 `json:"totalEvents"`
	TotalSubscriptions int    `json:"totalSubscriptions"`
	TotalChains        int    `json:"totalChains"`
}
