package pbft

import "context"

// Sender delivers protocol messages to a peer identified by address.
// Implementations live outside this package (internal/transport) to
// avoid an import cycle: pbft defines the contract its handlers need,
// transport supplies concrete HTTP and in-memory wiring.
type Sender interface {
	SendRequest(ctx context.Context, addr string, msg RequestMsg) error
	SendPrePrepare(ctx context.Context, addr string, msg PrePrepareMsg) error
	SendVote(ctx context.Context, addr string, msg VoteMsg) error
	SendReply(ctx context.Context, addr string, msg ReplyMsg) error
}
