package pbft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigestStableAcrossCalls(t *testing.T) {
	req := RequestMsg{Operation: "op", Timestamp: 0, ClientID: 0, SequenceID: 0}

	d1 := Digest(req)
	d2 := Digest(req)

	assert.Equal(t, d1, d2, "digest must be stable across repeated computation")
	assert.Len(t, d1, 64, "expected a 64-char hex sha256 digest")
}

func TestDigestIgnoresSequenceID(t *testing.T) {
	a := RequestMsg{Operation: "op", Timestamp: 1, ClientID: 2, SequenceID: 0}
	b := RequestMsg{Operation: "op", Timestamp: 1, ClientID: 2, SequenceID: 99}

	assert.Equal(t, Digest(a), Digest(b), "digest must not depend on SequenceID")
}

func TestDigestDistinguishesOperations(t *testing.T) {
	a := RequestMsg{Operation: "x", Timestamp: 1, ClientID: 1}
	b := RequestMsg{Operation: "y", Timestamp: 1, ClientID: 1}

	assert.NotEqual(t, Digest(a), Digest(b), "distinct operations must not collide")
}
