// Package pbft implements the three-phase Byzantine agreement protocol:
// pre-prepare, prepare, commit, run by a fixed ensemble of replicas on
// behalf of one or more clients.
package pbft

import "fmt"

// NodeID identifies a replica within the ensemble.
type NodeID uint32

// primaryNodeID is the fixed primary, R_0. There is no view-change, so
// this assignment never moves for the lifetime of an ensemble.
const primaryNodeID NodeID = 0

// Phase is a replica's position in a single agreement round.
type Phase int

const (
	Idle Phase = iota
	PrePrepare
	Prepare
	Commit
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case PrePrepare:
		return "PrePrepare"
	case Prepare:
		return "Prepare"
	case Commit:
		return "Commit"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// VoteKind distinguishes the two semantic roles a VoteMsg can carry.
type VoteKind string

const (
	PrepareVote VoteKind = "PrepareMsg"
	CommitVote  VoteKind = "CommitMsg"
)

// RequestMsg is the client's <REQUEST, o, t, c> tuple. Digest is never
// serialized on the wire; every receiver recomputes it on arrival.
type RequestMsg struct {
	Operation  string `json:"operation"`
	Timestamp  uint64 `json:"time_stamp"`
	ClientID   uint32 `json:"client_id"`
	SequenceID uint32 `json:"sequence_id"`
	Digest     string `json:"-"`
}

// digestKey is the subset of RequestMsg fields canonicalized for
// hashing. SequenceID is excluded: it is not yet authoritative when the
// digest is first computed, since the primary assigns it only after
// the request is already buffered.
type digestKey struct {
	Operation string `json:"operation"`
	Timestamp uint64 `json:"time_stamp"`
	ClientID  uint32 `json:"client_id"`
}

// PrePrepareMsg is the primary's <<PRE-PREPARE, v, n, d>, m> assignment.
type PrePrepareMsg struct {
	ViewID     uint32     `json:"view_id"`
	SequenceID uint32     `json:"sequence_id"`
	Digest     string     `json:"digest"`
	Request    RequestMsg `json:"request_msg"`
}

// VoteMsg is a Prepare or Commit vote, distinguished by Kind.
type VoteMsg struct {
	ViewID     uint32   `json:"view_id"`
	SequenceID uint32   `json:"sequence_id"`
	Digest     string   `json:"digest"`
	NodeID     NodeID   `json:"node_id"`
	Kind       VoteKind `json:"msg_type"`
}

// ReplyMsg is a replica's echoed-result acknowledgement to a client.
type ReplyMsg struct {
	Timestamp uint64 `json:"time_stamp"`
	ViewID    uint32 `json:"view_id"`
	NodeID    NodeID `json:"node_id"`
	ClientID  uint32 `json:"client_id"`
	Result    string `json:"result"`
}

// roundKey identifies one agreement round for buffer/quorum indexing.
type roundKey struct {
	ViewID uint32
	Digest string
}
