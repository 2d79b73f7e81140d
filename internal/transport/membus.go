package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/0xjeffro/pbftd/internal/pbft"
)

// replicaSink is the subset of *pbft.Replica that MemoryBus needs to
// deliver to, narrowed so the client side can be registered the same
// way.
type replicaSink interface {
	HandleRequest(ctx context.Context, msg pbft.RequestMsg) error
	HandlePrePrepare(ctx context.Context, msg pbft.PrePrepareMsg) error
	HandlePrepare(ctx context.Context, msg pbft.VoteMsg) error
	HandleCommit(ctx context.Context, msg pbft.VoteMsg) error
}

type clientSink interface {
	OnReply(msg pbft.ReplyMsg) bool
}

// MemoryBus is an in-process pbft.Sender that dispatches directly to
// registered replicas and clients by address, skipping the network
// entirely. It exists for deterministic, single-process test
// scenarios.
type MemoryBus struct {
	mu       sync.RWMutex
	replicas map[string]replicaSink
	clients  map[string]clientSink
}

var _ pbft.Sender = (*MemoryBus)(nil)

// NewMemoryBus creates an empty bus. Deliveries run synchronously and
// return once the handler returns, so tests can assert on state
// immediately after a Submit call completes.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		replicas: make(map[string]replicaSink),
		clients:  make(map[string]clientSink),
	}
}

// RegisterReplica makes a replica reachable at addr.
func (b *MemoryBus) RegisterReplica(addr string, r replicaSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replicas[addr] = r
}

// RegisterClient makes a client reachable at addr.
func (b *MemoryBus) RegisterClient(addr string, c clientSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[addr] = c
}

func (b *MemoryBus) replica(addr string) (replicaSink, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.replicas[addr]
	if !ok {
		return nil, fmt.Errorf("membus: no replica registered at %q", addr)
	}
	return r, nil
}

func (b *MemoryBus) client(addr string) (clientSink, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.clients[addr]
	if !ok {
		return nil, fmt.Errorf("membus: no client registered at %q", addr)
	}
	return c, nil
}

func (b *MemoryBus) SendRequest(ctx context.Context, addr string, msg pbft.RequestMsg) error {
	r, err := b.replica(addr)
	if err != nil {
		return err
	}
	return r.HandleRequest(ctx, msg)
}

func (b *MemoryBus) SendPrePrepare(ctx context.Context, addr string, msg pbft.PrePrepareMsg) error {
	r, err := b.replica(addr)
	if err != nil {
		return err
	}
	return r.HandlePrePrepare(ctx, msg)
}

func (b *MemoryBus) SendVote(ctx context.Context, addr string, msg pbft.VoteMsg) error {
	r, err := b.replica(addr)
	if err != nil {
		return err
	}
	if msg.Kind == pbft.CommitVote {
		return r.HandleCommit(ctx, msg)
	}
	return r.HandlePrepare(ctx, msg)
}

func (b *MemoryBus) SendReply(ctx context.Context, addr string, msg pbft.ReplyMsg) error {
	c, err := b.client(addr)
	if err != nil {
		return err
	}
	c.OnReply(msg)
	return nil
}
