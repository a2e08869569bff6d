package distributor

import "github.com/fireflyer/ffs/pkg/schema"

// ServerMap is the single META key's value: the set of metadata
// servers currently considered active. The versionstamp spec.md's
// `ServerMap{active, versionstamp}` shape names is the commit
// versionstamp returned by the transaction that wrote this value, not
// a field carried inside it. Every write of the set also bumps the
// separate metadata-version key (schema.MetaVersionKey); the in-process
// cache is refreshed by comparing the stored active set with the cached
// one, not by reading that key.
type ServerMap struct {
	Active []uint32
}

const tagServerMapActive = 1

// EncodeServerMap serializes a ServerMap as repeated big-endian uint32
// node ids packed into one field.
func EncodeServerMap(m ServerMap) []byte {
	e := schema.NewEncoder()
	buf := make([]byte, 0, len(m.Active)*4)
	for _, id := range m.Active {
		var b [4]byte
		putUint32(b[:], id)
		buf = append(buf, b[:]...)
	}
	e.PutBytes(tagServerMapActive, buf)
	return e.Encode()
}

// DecodeServerMap is the inverse of EncodeServerMap.
func DecodeServerMap(b []byte) (ServerMap, error) {
	if len(b) == 0 {
		return ServerMap{}, nil
	}
	d, err := schema.DecodeRecord(b)
	if err != nil {
		return ServerMap{}, err
	}
	var m ServerMap
	if raw, ok := d.Bytes(tagServerMapActive); ok {
		for i := 0; i+4 <= len(raw); i += 4 {
			m.Active = append(m.Active, getUint32(raw[i:i+4]))
		}
	}
	return m, nil
}

// Contains reports whether nodeID is in the active set.
func (m ServerMap) Contains(nodeID uint32) bool {
	for _, id := range m.Active {
		if id == nodeID {
			return true
		}
	}
	return false
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
