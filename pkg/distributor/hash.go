package distributor

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/fireflyer/ffs/pkg/schema"
)

// hashSalt distinguishes the second xxhash call from the first so the
// two halves of the 128-bit score aren't simply the same 64 bits
// twice. Any fixed, distinct-from-zero byte works; this is purely a
// domain separator, not a security boundary.
const hashSalt = 0x5f

// score computes H(nodeID, inode): a stable 128-bit score built from
// two xxhash.Sum64 calls over the same (node, inode) pair, the second
// salted so it doesn't just repeat the first. This is the concrete
// choice spec.md leaves open ("H is a stable 128-bit hash, MurmurHash3
// or equivalent") — xxhash is already pulled in transitively through
// prometheus/client_golang, so running it twice needs no new
// dependency.
type score [2]uint64

func computeScore(nodeID uint32, inode schema.InodeId) score {
	buf := make([]byte, 4+8+1)
	binary.BigEndian.PutUint32(buf[0:4], nodeID)
	binary.BigEndian.PutUint64(buf[4:12], uint64(inode))

	lo := xxhash.Sum64(buf[:12])

	buf[12] = hashSalt
	hi := xxhash.Sum64(buf)

	return score{hi, lo}
}

// less reports whether a sorts strictly before b, comparing the high
// 64 bits first and falling back to the low 64 bits — the ordering
// that makes `score` behave like a single 128-bit integer.
func (a score) less(b score) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}
