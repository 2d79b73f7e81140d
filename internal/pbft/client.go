package pbft

import (
	"context"
	"fmt"
	"sync"

	"github.com/0xjeffro/pbftd/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Client submits requests to every replica in the ensemble and waits
// for 2f+1 matching replies before declaring the operation settled.
type Client struct {
	id      uint32
	f       uint32
	peers   map[NodeID]string
	sender  Sender
	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	replies  map[string]map[NodeID]ReplyMsg // keyed by "view:timestamp:client:result"
	declared map[string]bool
}

// NewClient constructs a Client. peers must contain every replica in
// the ensemble.
func NewClient(id uint32, f uint32, peers map[NodeID]string, sender Sender, log *zap.Logger, m *metrics.Metrics) *Client {
	return &Client{
		id:      id,
		f:       f,
		peers:   peers,
		sender:  sender,
		log:     log.With(zap.Uint32("client_id", id)),
		metrics: m,

		replies:  make(map[string]map[NodeID]ReplyMsg),
		declared: make(map[string]bool),
	}
}

// Submit multicasts a request to every backup first, then to the
// primary last, and returns once every delivery attempt has completed.
// The primary must go last: once it receives the request it cascades a
// pre-prepare to every backup, and a backup only ever acts on a
// pre-prepare if it already holds its own independently-delivered copy
// of the request. Delivering to the primary first could let its
// cascade race ahead of this client's own delivery to a backup, and
// the backup would drop a pre-prepare for a request it was always
// going to receive anyway. Per-peer failures are logged, not returned:
// the protocol tolerates up to f silent or Byzantine replicas, so a
// single unreachable peer is not a Submit failure.
func (c *Client) Submit(ctx context.Context, req RequestMsg) error {
	req.ClientID = c.id

	g, gctx := errgroup.WithContext(ctx)
	for id, addr := range c.peers {
		if id == primaryNodeID {
			continue
		}
		id, addr := id, addr
		g.Go(func() error {
			if err := c.sender.SendRequest(gctx, addr, req); err != nil {
				c.log.Warn("failed to submit request", zap.Uint32("to", uint32(id)), zap.Error(err))
				return nil
			}
			c.metrics.RecordSent("request")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if addr, ok := c.peers[primaryNodeID]; ok {
		if err := c.sender.SendRequest(ctx, addr, req); err != nil {
			c.log.Warn("failed to submit request", zap.Uint32("to", uint32(primaryNodeID)), zap.Error(err))
			return nil
		}
		c.metrics.RecordSent("request")
	}
	return nil
}

// OnReply records a reply from a replica. It returns true exactly once
// per round, the first time 2f+1 replicas have echoed the same result
// for that round. The entire read-modify-check runs under a single
// critical section so no interleaving can double-declare or deadlock.
func (c *Client) OnReply(reply ReplyMsg) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.RecordReply(fmt.Sprintf("%d", reply.ClientID))

	key := roundReplyKey(reply)
	set, ok := c.replies[key]
	if !ok {
		set = make(map[NodeID]ReplyMsg)
		c.replies[key] = set
	}
	set[reply.NodeID] = reply

	if c.declared[key] {
		return false
	}
	if len(set) < Quorum(c.f) {
		return false
	}
	c.declared[key] = true
	return true
}

// ClientStatus is the lightweight snapshot exposed on /status.
type ClientStatus struct {
	ClientID       uint32 `json:"client_id"`
	RoundsTracked  int    `json:"rounds_tracked"`
	RoundsDeclared int    `json:"rounds_declared"`
}

// Status returns a point-in-time snapshot suitable for operator
// polling.
func (c *Client) Status() ClientStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	declared := 0
	for _, d := range c.declared {
		if d {
			declared++
		}
	}
	return ClientStatus{
		ClientID:       c.id,
		RoundsTracked:  len(c.replies),
		RoundsDeclared: declared,
	}
}

// roundReplyKey identifies the round a reply belongs to. Timestamp
// ties a reply back to the specific request it answers, since a
// client may have several outstanding rounds at once; Result is part
// of the key so only replies echoing the same result count together.
func roundReplyKey(r ReplyMsg) string {
	return fmt.Sprintf("%d:%d:%d:%s", r.ViewID, r.Timestamp, r.ClientID, r.Result)
}
