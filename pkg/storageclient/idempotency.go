package storageclient

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// updateIDSalt separates the two xxhash calls that build a 128-bit
// update_id, the same domain-separation trick pkg/distributor/hash.go
// uses for its placement score, reusing the one hashing primitive
// already wired into this tree rather than adding a second.
const updateIDSalt = 0xa3

// deriveUpdateID computes a stable 128-bit update_id from
// {client_id, request_uuid, sub_op_index}. A retried sub-op (same
// client, same request, same index) always derives the identical id.
// HEAD does not deduplicate on it: storagetarget's Write applies a
// replayed sub-op again as a new chunk version.
func deriveUpdateID(clientID string, requestUUID uuid.UUID, subOpIndex int) [16]byte {
	buf := make([]byte, 0, len(clientID)+16+4+1)
	buf = append(buf, clientID...)
	idBytes, _ := requestUUID.MarshalBinary()
	buf = append(buf, idBytes...)
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], uint32(subOpIndex))
	buf = append(buf, idxBuf[:]...)

	lo := xxhash.Sum64(buf)
	buf = append(buf, updateIDSalt)
	hi := xxhash.Sum64(buf)

	var out [16]byte
	binary.BigEndian.PutUint64(out[0:8], hi)
	binary.BigEndian.PutUint64(out[8:16], lo)
	return out
}
