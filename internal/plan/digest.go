package plan

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Digest returns a deterministic hash of p's levels and items, in the
// same fixed length-prefixed encoding style as internal/identity — two
// independently built plans against the same inputs hash identically.
// Scheduling does not use it and no telemetry event carries it; the
// plan tests use it to check that plan construction is deterministic.
func (p *Plan) Digest() [32]byte {
	var buf []byte
	field := func(data []byte) {
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, data...)
	}
	str := func(s string) { field([]byte(s)) }
	u64 := func(v uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		field(b[:])
	}

	str("plan")
	u64(uint64(len(p.Levels)))
	for _, level := range p.Levels {
		u64(uint64(len(level)))
		for _, item := range level {
			field(item.NodeID[:])
			str(item.AgentID)
			str(item.ProviderName)
			str(item.FrameType)
		}
	}
	return blake2b.Sum256(buf)
}
