package storage

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Key prefixes for different data types
const (
	prefixMeta  = "/meta/"
	prefixData  = "/data/"
	prefixIndex = "/index/"

	prefixEvents = prefixData + "events/"
	prefixChains = prefixData + "chains/"
	prefixSubs   = prefixData + "subscriptions/"

	prefixIdxEventsAll   = prefixIndex + "events/all/"
	prefixIdxEventsSub   = prefixIndex + "events/sub/"
	prefixIdxEventsChain = prefixIndex + "events/chain/"
	prefixIdxEventsDedup = prefixIndex + "events/dedup/"

	prefixSeq = prefixMeta + "seq/"
)

// Sequence names
const (
	seqEvents        = "events"
	seqChains        = "chains"
	seqSubscriptions = "subscriptions"
)

// EventKey returns the key for an event record
// Format: /data/events/{id}
func EventKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvents, id))
}

// ChainKey returns the key for a chain record
// Format: /data/chains/{id}
func ChainKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixChains, id))
}

// SubscriptionKey returns the key for a subscription record
// Format: /data/subscriptions/{id}
func SubscriptionKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixSubs, id))
}

// eventOrderSuffix encodes the sort order of event indexes.
// Zero padding keeps lexicographic order equal to numeric order.
func eventOrderSuffix(blockNumber uint64, createdNanos uint64, id uint64) string {
	return fmt.Sprintf("%020d/%020d/%020d", blockNumber, createdNanos, id)
}

// EventIndexAllKey returns the global ordering index key
// Format: /index/events/all/{block}/{created}/{id}
func EventIndexAllKey(blockNumber, createdNanos, id uint64) []byte {
	return []byte(prefixIdxEventsAll + eventOrderSuffix(blockNumber, createdNanos, id))
}

// EventIndexSubscriptionKey returns the per-subscription ordering index key
// Format: /index/events/sub/{subscriptionID}/{block}/{created}/{id}
func EventIndexSubscriptionKey(subID, blockNumber, createdNanos, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixIdxEventsSub, subID, eventOrderSuffix(blockNumber, createdNanos, id)))
}

// EventIndexChainKey returns the per-chain ordering index key
// Format: /index/events/chain/{chainID}/{block}/{created}/{id}
func EventIndexChainKey(chainID, blockNumber, createdNanos, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixIdxEventsChain, chainID, eventOrderSuffix(blockNumber, createdNanos, id)))
}

// EventDedupKey returns the uniqueness key of an observed log
// Format: /index/events/dedup/{subscriptionID}/{txHash}/{logIndex}
func EventDedupKey(subID uint64, txHash string, logIndex uint) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s/%010d", prefixIdxEventsDedup, subID, strings.ToLower(txHash), logIndex))
}

// EventIndexSubscriptionPrefix returns the prefix of one subscription's index
func EventIndexSubscriptionPrefix(subID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/", prefixIdxEventsSub, subID))
}

// EventIndexChainPrefix returns the prefix of one chain's index
func EventIndexChainPrefix(chainID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/", prefixIdxEventsChain, chainID))
}

// EventCountKey returns the key for the total event count
func EventCountKey() []byte {
	return []byte(prefixMeta + "events/count")
}

// SequenceKey returns the key of a named id sequence
func SequenceKey(name string) []byte {
	return []byte(prefixSeq + name)
}

// EncodeUint64 encodes uint64 to bytes in big-endian format
func EncodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeUint64 decodes bytes to uint64 in big-endian format
func DecodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid uint64 data length: %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// incrementPrefix returns the smallest key greater than every key with prefix
func incrementPrefix(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	result := make([]byte, len(prefix))
	copy(result, prefix)
	for i := len(result) - 1; i >= 0; i-- {
		if result[i] < 0xff {
			result[i]++
			return result[:i+1]
		}
	}
	// All bytes were 0xff: no upper bound
	return nil
}
