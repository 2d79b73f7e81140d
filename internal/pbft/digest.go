package pbft

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Digest computes the canonical SHA-256 fingerprint of a request,
// excluding the Digest and SequenceID fields. The result is the
// lowercase-hex encoding of the 32-byte hash, stable across processes
// and invocations (encoding/json emits struct fields in declaration
// order, giving the canonical form without a custom marshaler).
func Digest(m RequestMsg) string {
	canonical, err := json.Marshal(digestKey{
		Operation: m.Operation,
		Timestamp: m.Timestamp,
		ClientID:  m.ClientID,
	})
	if err != nil {
		// digestKey has no unmarshalable fields; this cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
