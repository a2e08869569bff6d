package kv

import "encoding/binary"

// VersionstampLen is the wire size of a Versionstamp: an 8-byte big-endian
// commit version plus a 2-byte big-endian intra-transaction sequence.
const VersionstampLen = 10

// Versionstamp is assigned by the engine at commit time. It is strictly
// monotonic across the engine: CommitVersion increases with every committed
// transaction, and Seq disambiguates multiple versionstamped writes within
// the same transaction.
type Versionstamp struct {
	CommitVersion uint64
	Seq           uint16
}

// Encode serializes the versionstamp to its fixed 10-byte wire form.
func (v Versionstamp) Encode() [VersionstampLen]byte {
	var out [VersionstampLen]byte
	binary.BigEndian.PutUint64(out[0:8], v.CommitVersion)
	binary.BigEndian.PutUint16(out[8:10], v.Seq)
	return out
}

// DecodeVersionstamp parses a 10-byte versionstamp. It reports false if b is
// not exactly VersionstampLen bytes.
func DecodeVersionstamp(b []byte) (Versionstamp, bool) {
	if len(b) != VersionstampLen {
		return Versionstamp{}, false
	}
	return Versionstamp{
		CommitVersion: binary.BigEndian.Uint64(b[0:8]),
		Seq:           binary.BigEndian.Uint16(b[8:10]),
	}, true
}

// Less reports strict monotonic ordering, (commit_version, seq) lexical.
func (v Versionstamp) Less(other Versionstamp) bool {
	if v.CommitVersion != other.CommitVersion {
		return v.CommitVersion < other.CommitVersion
	}
	return v.Seq < other.Seq
}

// Zero is the smallest possible versionstamp, used as a sentinel for "never
// written".
var Zero = Versionstamp{}
