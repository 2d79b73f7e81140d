package pbft

import (
	"context"
	"fmt"
	"sync"

	apierrors "github.com/0xjeffro/pbftd/internal/errors"
	"github.com/0xjeffro/pbftd/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Quorum is the number of matching votes a replica needs before it may
// advance past the Prepare or Commit phase of a round: 2f+1 out of
// n=3f+1 replicas.
func Quorum(f uint32) int {
	return int(2*f + 1)
}

// Replica runs one node's side of the agreement protocol. R_0 is
// always the primary; there is no view-change, so the primary
// assignment never moves for the lifetime of a Replica.
type Replica struct {
	id     NodeID
	faulty bool
	n, f   uint32
	viewID uint32

	peers       map[NodeID]string
	clientAddrs map[uint32]string
	sender      Sender
	log         *zap.Logger
	metrics     *metrics.Metrics

	phaseMu sync.Mutex
	phase   Phase

	seqMu sync.Mutex
	seq   uint32

	requestMu sync.Mutex
	requests  map[string]RequestMsg // keyed by digest

	preprepareMu sync.Mutex
	preprepares  map[roundKey]PrePrepareMsg

	prepareMu     sync.Mutex
	prepareVotes  map[roundKey]map[NodeID]struct{}
	prepareDone   map[roundKey]bool
	orphanPrepare map[roundKey][]VoteMsg

	commitMu     sync.Mutex
	commitVotes  map[roundKey]map[NodeID]struct{}
	commitDone   map[roundKey]bool
	orphanCommit map[roundKey][]VoteMsg

	committedMu sync.Mutex
	committed   []RequestMsg
}

// NewReplica constructs a Replica. peers must contain every replica in
// the ensemble, including this one, keyed by id. clientAddrs maps a
// client id to the address replies are delivered to.
func NewReplica(id NodeID, faulty bool, n, f uint32, peers map[NodeID]string, clientAddrs map[uint32]string, sender Sender, log *zap.Logger, m *metrics.Metrics) *Replica {
	return &Replica{
		id:     id,
		faulty: faulty,
		n:      n,
		f:      f,
		viewID: 0,

		peers:       peers,
		clientAddrs: clientAddrs,
		sender:      sender,
		log:         log.With(zap.Uint32("node_id", uint32(id))),
		metrics:     m,

		requests: make(map[string]RequestMsg),

		preprepares: make(map[roundKey]PrePrepareMsg),

		prepareVotes:  make(map[roundKey]map[NodeID]struct{}),
		prepareDone:   make(map[roundKey]bool),
		orphanPrepare: make(map[roundKey][]VoteMsg),

		commitVotes:  make(map[roundKey]map[NodeID]struct{}),
		commitDone:   make(map[roundKey]bool),
		orphanCommit: make(map[roundKey][]VoteMsg),
	}
}

// ID returns this replica's node id.
func (r *Replica) ID() NodeID { return r.id }

// IsFaulty reports whether this replica was assigned a Byzantine role
// at launch. The replica itself never changes behavior based on this
// flag; fault injection lives in the Sender it is given.
func (r *Replica) IsFaulty() bool { return r.faulty }

// IsPrimary reports whether this replica is the fixed primary, R_0.
func (r *Replica) IsPrimary() bool { return r.id == primaryNodeID }

// Phase returns the replica's current single-valued phase.
func (r *Replica) Phase() Phase {
	r.phaseMu.Lock()
	defer r.phaseMu.Unlock()
	return r.phase
}

func (r *Replica) setPhase(p Phase) {
	r.phaseMu.Lock()
	r.phase = p
	r.phaseMu.Unlock()
	r.metrics.SetPhase(fmt.Sprintf("%d", r.id), int(p))
}

// ReplicaStatus is the lightweight snapshot exposed on /status.
type ReplicaStatus struct {
	NodeID      NodeID `json:"node_id"`
	IsPrimary   bool   `json:"is_primary"`
	ViewID      uint32 `json:"view_id"`
	Phase       string `json:"phase"`
	Committed   int    `json:"committed"`
	LastSeqUsed uint32 `json:"last_sequence_used"`
}

// Status returns a point-in-time snapshot suitable for operator
// polling; it takes each field's own lock in turn rather than a single
// replica-wide lock, so the fields are individually consistent but not
// a single atomic snapshot.
func (r *Replica) Status() ReplicaStatus {
	r.seqMu.Lock()
	seq := r.seq
	r.seqMu.Unlock()

	return ReplicaStatus{
		NodeID:      r.id,
		IsPrimary:   r.IsPrimary(),
		ViewID:      r.viewID,
		Phase:       r.Phase().String(),
		Committed:   len(r.CommittedRequests()),
		LastSeqUsed: seq,
	}
}

// CommittedRequests returns every request this replica has finalized,
// in commit order.
func (r *Replica) CommittedRequests() []RequestMsg {
	r.committedMu.Lock()
	defer r.committedMu.Unlock()
	out := make([]RequestMsg, len(r.committed))
	copy(out, r.committed)
	return out
}

func (r *Replica) nextSequence() uint32 {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	r.seq++
	return r.seq
}

// HandleRequest processes a client request delivered directly to this
// replica. The client multicasts to every replica, so both the
// primary and every backup see it: the primary additionally assigns a
// sequence number and broadcasts a PrePrepareMsg.
func (r *Replica) HandleRequest(ctx context.Context, req RequestMsg) error {
	r.metrics.RecordReceived("request")

	digest := Digest(req)
	req.Digest = digest

	r.requestMu.Lock()
	r.requests[digest] = req
	r.requestMu.Unlock()

	if !r.IsPrimary() {
		return nil
	}

	seq := r.nextSequence()
	pp := PrePrepareMsg{
		ViewID:     r.viewID,
		SequenceID: seq,
		Digest:     digest,
		Request:    req,
	}

	if err := r.acceptPrePrepare(ctx, pp); err != nil {
		return err
	}

	r.broadcastPrePrepare(ctx, pp)
	return nil
}

// HandlePrePrepare processes a PrePrepareMsg received from the
// primary.
func (r *Replica) HandlePrePrepare(ctx context.Context, pp PrePrepareMsg) error {
	r.metrics.RecordReceived("preprepare")
	return r.acceptPrePrepare(ctx, pp)
}

// acceptPrePrepare runs the install logic shared by the primary's own
// assignment and a backup's network-delivered copy: look up an
// independently buffered RequestMsg matching the claimed digest,
// verify, install once, cast this replica's own Prepare vote,
// broadcast it, and replay any votes that arrived before the
// pre-prepare did.
//
// The embedded pp.Request is never trusted on its own: a replica only
// ever executes the copy it independently buffered via its own
// HandleRequest, never a copy supplied solely by the primary. A
// forging primary that fabricates a request no client ever sent has
// no buffered entry to match against and is dropped here.
func (r *Replica) acceptPrePrepare(ctx context.Context, pp PrePrepareMsg) error {
	r.requestMu.Lock()
	req, ok := r.requests[pp.Digest]
	r.requestMu.Unlock()
	if !ok {
		apiErr := apierrors.NewMissingRequestError(pp.Digest)
		r.log.Debug("dropping pre-prepare", zap.String("code", string(apiErr.Code)), zap.String("details", apiErr.Details))
		return nil
	}
	pp.Request = req

	wantDigest := Digest(req)
	if wantDigest != pp.Digest {
		return apierrors.NewDigestMismatchError(fmt.Sprintf("view %d: got %s want %s", pp.ViewID, pp.Digest, wantDigest))
	}
	if pp.ViewID != r.viewID {
		return apierrors.NewViewMismatchError(fmt.Sprintf("message view %d, replica view %d", pp.ViewID, r.viewID))
	}

	key := roundKey{ViewID: pp.ViewID, Digest: pp.Digest}

	r.preprepareMu.Lock()
	if _, exists := r.preprepares[key]; exists {
		r.preprepareMu.Unlock()
		apiErr := apierrors.NewDuplicatePrePrepareError(pp.Digest)
		r.log.Debug("dropping pre-prepare", zap.String("code", string(apiErr.Code)), zap.String("details", apiErr.Details))
		return nil
	}
	r.preprepares[key] = pp
	r.preprepareMu.Unlock()

	r.setPhase(PrePrepare)

	selfVote := VoteMsg{
		ViewID:     pp.ViewID,
		SequenceID: pp.SequenceID,
		Digest:     pp.Digest,
		NodeID:     r.id,
		Kind:       PrepareVote,
	}
	if reached := r.recordPrepareVote(key, selfVote); reached {
		r.onPrepareQuorum(ctx, pp)
	}
	r.broadcastVote(ctx, selfVote)

	r.replayOrphans(ctx, key, pp)
	return nil
}

func (r *Replica) replayOrphans(ctx context.Context, key roundKey, pp PrePrepareMsg) {
	r.prepareMu.Lock()
	pending := r.orphanPrepare[key]
	delete(r.orphanPrepare, key)
	r.prepareMu.Unlock()

	for _, v := range pending {
		if reached := r.recordPrepareVote(key, v); reached {
			r.onPrepareQuorum(ctx, pp)
		}
	}

	r.commitMu.Lock()
	pendingCommit := r.orphanCommit[key]
	delete(r.orphanCommit, key)
	r.commitMu.Unlock()

	for _, v := range pendingCommit {
		if reached := r.recordCommitVote(key, v); reached {
			r.onCommitQuorum(ctx, pp)
		}
	}
}

// HandlePrepare processes a Prepare vote from a peer. A vote whose
// matching pre-prepare has not yet been installed is parked until it
// is.
func (r *Replica) HandlePrepare(ctx context.Context, vote VoteMsg) error {
	r.metrics.RecordReceived("prepare")

	key := roundKey{ViewID: vote.ViewID, Digest: vote.Digest}

	r.preprepareMu.Lock()
	pp, ok := r.preprepares[key]
	r.preprepareMu.Unlock()

	if !ok {
		apiErr := apierrors.NewMissingPrePrepareError(vote.Digest)
		r.log.Debug("parking vote until pre-prepare arrives", zap.String("code", string(apiErr.Code)), zap.String("details", apiErr.Details))
		r.prepareMu.Lock()
		r.orphanPrepare[key] = append(r.orphanPrepare[key], vote)
		r.prepareMu.Unlock()
		return nil
	}

	if reached := r.recordPrepareVote(key, vote); reached {
		r.onPrepareQuorum(ctx, pp)
	}
	return nil
}

// recordPrepareVote dedups by NodeID and reports whether this call is
// the one that first crosses the quorum threshold for this round.
func (r *Replica) recordPrepareVote(key roundKey, vote VoteMsg) bool {
	r.prepareMu.Lock()
	defer r.prepareMu.Unlock()

	set, ok := r.prepareVotes[key]
	if !ok {
		set = make(map[NodeID]struct{})
		r.prepareVotes[key] = set
	}
	set[vote.NodeID] = struct{}{}

	if r.prepareDone[key] {
		return false
	}
	if len(set) < Quorum(r.f) {
		return false
	}
	r.prepareDone[key] = true
	return true
}

func (r *Replica) onPrepareQuorum(ctx context.Context, pp PrePrepareMsg) {
	r.metrics.RecordQuorum("prepare")
	r.setPhase(Commit)

	key := roundKey{ViewID: pp.ViewID, Digest: pp.Digest}
	selfVote := VoteMsg{
		ViewID:     pp.ViewID,
		SequenceID: pp.SequenceID,
		Digest:     pp.Digest,
		NodeID:     r.id,
		Kind:       CommitVote,
	}
	if reached := r.recordCommitVote(key, selfVote); reached {
		r.onCommitQuorum(ctx, pp)
	}
	r.broadcastVote(ctx, selfVote)
}

// HandleCommit processes a Commit vote from a peer.
func (r *Replica) HandleCommit(ctx context.Context, vote VoteMsg) error {
	r.metrics.RecordReceived("commit")

	key := roundKey{ViewID: vote.ViewID, Digest: vote.Digest}

	r.preprepareMu.Lock()
	pp, ok := r.preprepares[key]
	r.preprepareMu.Unlock()

	if !ok {
		apiErr := apierrors.NewMissingPrePrepareError(vote.Digest)
		r.log.Debug("parking vote until pre-prepare arrives", zap.String("code", string(apiErr.Code)), zap.String("details", apiErr.Details))
		r.commitMu.Lock()
		r.orphanCommit[key] = append(r.orphanCommit[key], vote)
		r.commitMu.Unlock()
		return nil
	}

	if reached := r.recordCommitVote(key, vote); reached {
		r.onCommitQuorum(ctx, pp)
	}
	return nil
}

func (r *Replica) recordCommitVote(key roundKey, vote VoteMsg) bool {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	set, ok := r.commitVotes[key]
	if !ok {
		set = make(map[NodeID]struct{})
		r.commitVotes[key] = set
	}
	set[vote.NodeID] = struct{}{}

	if r.commitDone[key] {
		return false
	}
	if len(set) < Quorum(r.f) {
		return false
	}
	r.commitDone[key] = true
	return true
}

func (r *Replica) onCommitQuorum(ctx context.Context, pp PrePrepareMsg) {
	r.metrics.RecordQuorum("commit")

	r.committedMu.Lock()
	r.committed = append(r.committed, pp.Request)
	r.committedMu.Unlock()

	reply := ReplyMsg{
		Timestamp: pp.Request.Timestamp,
		ViewID:    pp.ViewID,
		NodeID:    r.id,
		ClientID:  pp.Request.ClientID,
		Result:    pp.Request.Operation,
	}

	addr, ok := r.clientAddrs[pp.Request.ClientID]
	if !ok {
		apiErr := apierrors.NewUnknownPeerError(fmt.Sprintf("client %d", pp.Request.ClientID))
		r.log.Warn("dropping reply", zap.String("code", string(apiErr.Code)), zap.String("details", apiErr.Details))
		return
	}

	if err := r.sender.SendReply(ctx, addr, reply); err != nil {
		apiErr := apierrors.NewTransportFailureError(err.Error())
		r.log.Warn("failed to deliver reply", zap.String("code", string(apiErr.Code)), zap.String("details", apiErr.Details))
		return
	}
	r.metrics.RecordSent("reply")
}

func (r *Replica) broadcastPrePrepare(ctx context.Context, pp PrePrepareMsg) {
	g, gctx := errgroup.WithContext(ctx)
	for id, addr := range r.peers {
		if id == r.id {
			continue
		}
		id, addr := id, addr
		g.Go(func() error {
			if err := r.sender.SendPrePrepare(gctx, addr, pp); err != nil {
				apiErr := apierrors.NewTransportFailureError(err.Error())
				r.log.Warn("failed to deliver pre-prepare", zap.Uint32("to", uint32(id)), zap.String("code", string(apiErr.Code)), zap.String("details", apiErr.Details))
				return nil
			}
			r.metrics.RecordSent("preprepare")
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Replica) broadcastVote(ctx context.Context, vote VoteMsg) {
	g, gctx := errgroup.WithContext(ctx)
	for id, addr := range r.peers {
		if id == r.id {
			continue
		}
		id, addr := id, addr
		g.Go(func() error {
			if err := r.sender.SendVote(gctx, addr, vote); err != nil {
				apiErr := apierrors.NewTransportFailureError(err.Error())
				r.log.Warn("failed to deliver vote", zap.Uint32("to", uint32(id)), zap.String("kind", string(vote.Kind)), zap.String("code", string(apiErr.Code)), zap.String("details", apiErr.Details))
				return nil
			}
			r.metrics.RecordSent(string(vote.Kind))
			return nil
		})
	}
	_ = g.Wait()
}
