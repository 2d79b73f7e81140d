package pbft

import (
	"testing"

	"github.com/0xjeffro/pbftd/pkg/metrics"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, f uint32) *Client {
	t.Helper()
	peers := map[NodeID]string{0: "r0", 1: "r1", 2: "r2", 3: "r3"}
	return NewClient(0, f, peers, newFakeBus(), zaptest.NewLogger(t), metrics.New())
}

func TestClientDeclaresOnceAtQuorum(t *testing.T) {
	c := newTestClient(t, 1) // quorum 2f+1 = 3

	reply := func(node NodeID) ReplyMsg {
		return ReplyMsg{Timestamp: 10, ViewID: 0, NodeID: node, ClientID: 0, Result: "x"}
	}

	if declared := c.OnReply(reply(0)); declared {
		t.Fatal("should not declare consensus on the first reply")
	}
	if declared := c.OnReply(reply(1)); declared {
		t.Fatal("should not declare consensus before quorum is reached")
	}
	if declared := c.OnReply(reply(2)); !declared {
		t.Fatal("should declare consensus once 2f+1=3 matching replies arrive")
	}
	if declared := c.OnReply(reply(3)); declared {
		t.Fatal("must not declare consensus a second time for the same round")
	}
}

func TestClientDedupsRepliesByNodeID(t *testing.T) {
	c := newTestClient(t, 1) // quorum 2f+1 = 3

	reply := func(node NodeID) ReplyMsg {
		return ReplyMsg{Timestamp: 10, ViewID: 0, NodeID: node, ClientID: 0, Result: "x"}
	}

	c.OnReply(reply(0))
	c.OnReply(reply(0)) // duplicate from the same node
	declared := c.OnReply(reply(1))

	if declared {
		t.Fatal("a repeated reply from the same node must not count toward quorum, so only 2 distinct nodes have replied")
	}
}

func TestClientTracksDistinctRoundsIndependently(t *testing.T) {
	c := newTestClient(t, 1)

	roundA := ReplyMsg{Timestamp: 1, ViewID: 0, NodeID: 0, ClientID: 0, Result: "a"}
	roundB := ReplyMsg{Timestamp: 2, ViewID: 0, NodeID: 0, ClientID: 0, Result: "b"}

	c.OnReply(roundA)
	c.OnReply(roundB)

	if len(c.replies) != 2 {
		t.Fatalf("expected 2 independent rounds tracked, got %d", len(c.replies))
	}
}
