package rebalance

import "encoding/json"

// RebalanceProtocolVersion is bumped whenever the wire shape of
// DemandMessage or SupplyMessage changes incompatibly. A peer advertising
// a lower version than this, or no version at all (a zero-value
// ProtocolVersion, indistinguishable on the wire from an absent field),
// is rejected with ErrProtocolMismatch rather than risk misinterpreting
// its payload.
const RebalanceProtocolVersion = 1

// WireEntry is one key/value pair carried in a SupplyMessage, matching
// the (key, value, version, ttl, expireAt) tuple PartitionHandle.InitialValue
// consumes directly.
type WireEntry struct {
	Key        []byte `json:"key"`
	Value      []byte `json:"value"`
	Version    int64  `json:"version"`
	TTLMillis  int64  `json:"ttlMillis,omitempty"`
	ExpireAtMs int64  `json:"expireAtMs,omitempty"`
}

// DemandMessage is sent by the demander to a supplier, requesting entries
// for Partitions at TopologyVersion. A demander also sends a DemandMessage
// with an empty Partitions slice as a per-lane acknowledgment after
// applying a SupplyMessage, mirroring the request/ack ping-pong the
// protocol uses to pace the supplier.
type DemandMessage struct {
	ProtocolVersion int             `json:"protocolVersion"`
	CacheID         uint32          `json:"cacheId"`
	TopologyVersion TopologyVersion `json:"topologyVersion"`
	UpdateSeq       int64           `json:"updateSeq"`
	TimeoutMillis   int64           `json:"timeoutMillis"`
	Partitions      []PartitionID   `json:"partitions,omitempty"`
}

// SupplyMessage is sent by a supplier in response to a DemandMessage. Last
// lists the partitions for which this is the final batch: once a demander
// applies a partition's entries from a message where that partition
// appears in Last, it transitions the partition to OWNING and marks it
// done on the RebalanceFuture. Missed lists partitions the supplier could
// not serve at all (e.g. it no longer holds them locally). ClassError, if
// non-empty, indicates the supplier failed to deserialize the demand
// message itself, aborting the whole exchange for that supplier.
type SupplyMessage struct {
	ProtocolVersion int                        `json:"protocolVersion"`
	CacheID         uint32                     `json:"cacheId"`
	TopologyVersion TopologyVersion            `json:"topologyVersion"`
	UpdateSeq       int64                      `json:"updateSeq"`
	ClassError      string                     `json:"classError,omitempty"`
	PerPartition    map[PartitionID][]WireEntry `json:"perPartition,omitempty"`
	Last            []PartitionID              `json:"last,omitempty"`
	Missed          []PartitionID              `json:"missed,omitempty"`
}

// HasClassError reports whether the supplier failed before producing any
// usable entries.
func (m SupplyMessage) HasClassError() bool {
	return m.ClassError != ""
}

// lastSet returns Last as a PartitionSet for membership checks.
func (m SupplyMessage) lastSet() PartitionSet {
	return NewPartitionSet(m.Last...)
}

func encodeDemandMessage(msg DemandMessage) ([]byte, error) {
	msg.ProtocolVersion = RebalanceProtocolVersion

	return json.Marshal(msg)
}

func decodeDemandMessage(payload []byte) (DemandMessage, error) {
	var msg DemandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return DemandMessage{}, err
	}

	if msg.ProtocolVersion < RebalanceProtocolVersion {
		return DemandMessage{}, ErrProtocolMismatch
	}

	return msg, nil
}

func encodeSupplyMessage(msg SupplyMessage) ([]byte, error) {
	msg.ProtocolVersion = RebalanceProtocolVersion

	return json.Marshal(msg)
}

func decodeSupplyMessage(payload []byte) (SupplyMessage, error) {
	var msg SupplyMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return SupplyMessage{}, err
	}

	if msg.ProtocolVersion < RebalanceProtocolVersion {
		return SupplyMessage{}, ErrProtocolMismatch
	}

	return msg, nil
}
