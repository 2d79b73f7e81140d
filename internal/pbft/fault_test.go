package pbft

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	prePrepares int
	votes       int
}

func (r *recordingSender) SendRequest(ctx context.Context, addr string, msg RequestMsg) error {
	return nil
}

func (r *recordingSender) SendPrePrepare(ctx context.Context, addr string, msg PrePrepareMsg) error {
	r.prePrepares++
	return nil
}

func (r *recordingSender) SendVote(ctx context.Context, addr string, msg VoteMsg) error {
	r.votes++
	return nil
}

func (r *recordingSender) SendReply(ctx context.Context, addr string, msg ReplyMsg) error {
	return nil
}

func TestFaultInjectingSenderDropsPrePrepare(t *testing.T) {
	inner := &recordingSender{}
	f := &FaultInjectingSender{Inner: inner, Profile: FaultProfile{DropPrePrepare: true}}

	require.NoError(t, f.SendPrePrepare(context.Background(), "addr", PrePrepareMsg{}))
	assert.Equal(t, 0, inner.prePrepares, "dropped pre-prepare must not reach the wrapped sender")
}

func TestFaultInjectingSenderCorruptsDigest(t *testing.T) {
	inner := &recordingSender{}
	f := &FaultInjectingSender{Inner: inner, Profile: FaultProfile{CorruptDigest: true}}

	vote := VoteMsg{Digest: "real-digest"}
	require.NoError(t, f.SendVote(context.Background(), "addr", vote))
	assert.Equal(t, 1, inner.votes, "corrupted vote should still be forwarded, just with a bad digest")
}

func TestFaultInjectingSenderPassthroughByDefault(t *testing.T) {
	inner := &recordingSender{}
	f := &FaultInjectingSender{Inner: inner}

	f.SendPrePrepare(context.Background(), "addr", PrePrepareMsg{})
	f.SendVote(context.Background(), "addr", VoteMsg{})

	assert.Equal(t, 1, inner.prePrepares)
	assert.Equal(t, 1, inner.votes)
}
