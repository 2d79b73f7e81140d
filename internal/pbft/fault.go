package pbft

import (
	"context"
	"fmt"
)

// FaultProfile describes how a FaultInjectingSender should misbehave.
// The zero value injects nothing and behaves like a pass-through.
type FaultProfile struct {
	// DropRequest, DropPrePrepare, DropVote, DropReply silently discard
	// the corresponding message instead of forwarding it.
	DropRequest    bool
	DropPrePrepare bool
	DropVote       bool
	DropReply      bool

	// CorruptDigest rewrites a forwarded PrePrepareMsg or VoteMsg's
	// Digest field, simulating an equivocating or forging replica.
	CorruptDigest bool
}

// FaultInjectingSender wraps a Sender and applies a FaultProfile to
// everything it forwards. It exists only to drive test scenarios; the
// honest code paths never construct one.
type FaultInjectingSender struct {
	Inner   Sender
	Profile FaultProfile
}

var _ Sender = (*FaultInjectingSender)(nil)

func (f *FaultInjectingSender) SendRequest(ctx context.Context, addr string, msg RequestMsg) error {
	if f.Profile.DropRequest {
		return nil
	}
	return f.Inner.SendRequest(ctx, addr, msg)
}

func (f *FaultInjectingSender) SendPrePrepare(ctx context.Context, addr string, msg PrePrepareMsg) error {
	if f.Profile.DropPrePrepare {
		return nil
	}
	if f.Profile.CorruptDigest {
		msg.Digest = corruptedDigest(msg.Digest)
	}
	return f.Inner.SendPrePrepare(ctx, addr, msg)
}

func (f *FaultInjectingSender) SendVote(ctx context.Context, addr string, msg VoteMsg) error {
	if f.Profile.DropVote {
		return nil
	}
	if f.Profile.CorruptDigest {
		msg.Digest = corruptedDigest(msg.Digest)
	}
	return f.Inner.SendVote(ctx, addr, msg)
}

func (f *FaultInjectingSender) SendReply(ctx context.Context, addr string, msg ReplyMsg) error {
	if f.Profile.DropReply {
		return nil
	}
	return f.Inner.SendReply(ctx, addr, msg)
}

func corruptedDigest(d string) string {
	return fmt.Sprintf("forged-%s", d)
}
