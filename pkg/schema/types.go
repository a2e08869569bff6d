package schema

import "fmt"

// InodeId is a 64-bit dense identifier, never reused within a generation
// (see pkg/idgen).
type InodeId uint64

// InodeType tags the Inode union's active variant.
type InodeType uint8

const (
	InodeTypeFile InodeType = iota + 1
	InodeTypeDirectory
	InodeTypeSymlink
)

func (t InodeType) String() string {
	switch t {
	case InodeTypeFile:
		return "file"
	case InodeTypeDirectory:
		return "directory"
	case InodeTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Permission bits tested against ACL.Mode, per §4.6's "EXEC=1, WRITE=2,
// READ=4".
const (
	PermExec  = 1
	PermWrite = 2
	PermRead  = 4
)

// ACL is the common permission block every inode carries.
type ACL struct {
	Uid    uint32
	Gid    uint32
	Mode   uint16 // owner(3) | group(3) | other(3) bits, low 9 bits used
	Iflags uint32
}

// Allows reports whether uid/gid may perform the permission bits in want
// (any combination of PermExec|PermWrite|PermRead) against this ACL. Root
// (uid 0) always passes.
func (a ACL) Allows(uid, gid uint32, want uint16) bool {
	if uid == 0 {
		return true
	}
	var bits uint16
	switch {
	case uid == a.Uid:
		bits = (a.Mode >> 6) & 0o7
	case gid == a.Gid:
		bits = (a.Mode >> 3) & 0o7
	default:
		bits = a.Mode & 0o7
	}
	return bits&want == want
}

// Layout describes how a file's bytes distribute across chains. Inherited
// from the parent directory at create time and frozen in the file inode
// thereafter.
type Layout struct {
	ChainTableId      uint32
	ChainTableVersion uint32
	ChunkSize         uint64 // power-of-two byte count
	StripeSize        uint32 // number of chains the file cycles across
	Seed              uint32
}

// Inode is the tagged union of File | Directory | Symlink, plus the common
// fields every variant carries.
type Inode struct {
	Id   InodeId
	Type InodeType

	ACL   ACL
	Nlink uint32
	Atime int64 // unix nanoseconds
	Ctime int64
	Mtime int64

	// File
	Layout          Layout
	Length          uint64
	TruncateVersion uint64
	Flags           uint32
	DynStripe       uint32

	// Directory
	ParentInode       InodeId
	Name              string
	ChainAllocCounter uint32
	LockHolder        string // optional_lock, empty if unlocked

	// Symlink
	TargetPath string
}

const (
	tagInodeId = iota + 1
	tagInodeType
	tagACLUid
	tagACLGid
	tagACLMode
	tagACLIflags
	tagNlink
	tagAtime
	tagCtime
	tagMtime
	tagLayoutChainTableId
	tagLayoutChainTableVersion
	tagLayoutChunkSize
	tagLayoutStripeSize
	tagLayoutSeed
	tagLength
	tagTruncateVersion
	tagFileFlags
	tagDynStripe
	tagParentInode
	tagName
	tagChainAllocCounter
	tagLockHolder
	tagTargetPath
)

// Encode serializes an Inode to its tagged binary form: the common
// fields plus the fields of Type's variant. Fields belonging to the other
// variants are not written, so they decode as zero values.
func (i Inode) Encode() []byte {
	e := NewEncoder()
	e.PutUint64(tagInodeId, uint64(i.Id))
	e.PutByte(tagInodeType, byte(i.Type))
	e.PutUint32(tagACLUid, i.ACL.Uid)
	e.PutUint32(tagACLGid, i.ACL.Gid)
	e.PutUint16(tagACLMode, i.ACL.Mode)
	e.PutUint32(tagACLIflags, i.ACL.Iflags)
	e.PutUint32(tagNlink, i.Nlink)
	e.PutUint64(tagAtime, uint64(i.Atime))
	e.PutUint64(tagCtime, uint64(i.Ctime))
	e.PutUint64(tagMtime, uint64(i.Mtime))

	switch i.Type {
	case InodeTypeFile:
		e.PutUint32(tagLayoutChainTableId, i.Layout.ChainTableId)
		e.PutUint32(tagLayoutChainTableVersion, i.Layout.ChainTableVersion)
		e.PutUint64(tagLayoutChunkSize, i.Layout.ChunkSize)
		e.PutUint32(tagLayoutStripeSize, i.Layout.StripeSize)
		e.PutUint32(tagLayoutSeed, i.Layout.Seed)
		e.PutUint64(tagLength, i.Length)
		e.PutUint64(tagTruncateVersion, i.TruncateVersion)
		e.PutUint32(tagFileFlags, i.Flags)
		e.PutUint32(tagDynStripe, i.DynStripe)
	case InodeTypeDirectory:
		e.PutUint32(tagLayoutChainTableId, i.Layout.ChainTableId)
		e.PutUint32(tagLayoutChainTableVersion, i.Layout.ChainTableVersion)
		e.PutUint64(tagLayoutChunkSize, i.Layout.ChunkSize)
		e.PutUint32(tagLayoutStripeSize, i.Layout.StripeSize)
		e.PutUint32(tagLayoutSeed, i.Layout.Seed)
		e.PutUint64(tagParentInode, uint64(i.ParentInode))
		e.PutString(tagName, i.Name)
		e.PutUint32(tagChainAllocCounter, i.ChainAllocCounter)
		if i.LockHolder != "" {
			e.PutString(tagLockHolder, i.LockHolder)
		}
	case InodeTypeSymlink:
		e.PutString(tagTargetPath, i.TargetPath)
	}
	return e.Encode()
}

// DecodeInode parses an encoded Inode, ignoring any trailing tags it does
// not recognize.
func DecodeInode(b []byte) (Inode, error) {
	d, err := DecodeRecord(b)
	if err != nil {
		return Inode{}, fmt.Errorf("decode inode: %w", err)
	}
	var i Inode

	id, _, err := d.Uint64(tagInodeId)
	if err != nil {
		return Inode{}, err
	}
	i.Id = InodeId(id)

	typ, ok, err := d.Byte(tagInodeType)
	if err != nil {
		return Inode{}, err
	}
	if !ok {
		return Inode{}, fmt.Errorf("decode inode: missing type tag")
	}
	i.Type = InodeType(typ)

	if v, _, err := d.Uint32(tagACLUid); err != nil {
		return Inode{}, err
	} else {
		i.ACL.Uid = v
	}
	if v, _, err := d.Uint32(tagACLGid); err != nil {
		return Inode{}, err
	} else {
		i.ACL.Gid = v
	}
	if v, _, err := d.Uint16(tagACLMode); err != nil {
		return Inode{}, err
	} else {
		i.ACL.Mode = v
	}
	if v, _, err := d.Uint32(tagACLIflags); err != nil {
		return Inode{}, err
	} else {
		i.ACL.Iflags = v
	}
	if v, _, err := d.Uint32(tagNlink); err != nil {
		return Inode{}, err
	} else {
		i.Nlink = v
	}
	if v, _, err := d.Uint64(tagAtime); err != nil {
		return Inode{}, err
	} else {
		i.Atime = int64(v)
	}
	if v, _, err := d.Uint64(tagCtime); err != nil {
		return Inode{}, err
	} else {
		i.Ctime = int64(v)
	}
	if v, _, err := d.Uint64(tagMtime); err != nil {
		return Inode{}, err
	} else {
		i.Mtime = int64(v)
	}

	switch i.Type {
	case InodeTypeFile:
		if v, _, err := d.Uint32(tagLayoutChainTableId); err != nil {
			return Inode{}, err
		} else {
			i.Layout.ChainTableId = v
		}
		if v, _, err := d.Uint32(tagLayoutChainTableVersion); err != nil {
			return Inode{}, err
		} else {
			i.Layout.ChainTableVersion = v
		}
		if v, _, err := d.Uint64(tagLayoutChunkSize); err != nil {
			return Inode{}, err
		} else {
			i.Layout.ChunkSize = v
		}
		if v, _, err := d.Uint32(tagLayoutStripeSize); err != nil {
			return Inode{}, err
		} else {
			i.Layout.StripeSize = v
		}
		if v, _, err := d.Uint32(tagLayoutSeed); err != nil {
			return Inode{}, err
		} else {
			i.Layout.Seed = v
		}
		if v, _, err := d.Uint64(tagLength); err != nil {
			return Inode{}, err
		} else {
			i.Length = v
		}
		if v, _, err := d.Uint64(tagTruncateVersion); err != nil {
			return Inode{}, err
		} else {
			i.TruncateVersion = v
		}
		if v, _, err := d.Uint32(tagFileFlags); err != nil {
			return Inode{}, err
		} else {
			i.Flags = v
		}
		if v, _, err := d.Uint32(tagDynStripe); err != nil {
			return Inode{}, err
		} else {
			i.DynStripe = v
		}
	case InodeTypeDirectory:
		if v, _, err := d.Uint32(tagLayoutChainTableId); err != nil {
			return Inode{}, err
		} else {
			i.Layout.ChainTableId = v
		}
		if v, _, err := d.Uint32(tagLayoutChainTableVersion); err != nil {
			return Inode{}, err
		} else {
			i.Layout.ChainTableVersion = v
		}
		if v, _, err := d.Uint64(tagLayoutChunkSize); err != nil {
			return Inode{}, err
		} else {
			i.Layout.ChunkSize = v
		}
		if v, _, err := d.Uint32(tagLayoutStripeSize); err != nil {
			return Inode{}, err
		} else {
			i.Layout.StripeSize = v
		}
		if v, _, err := d.Uint32(tagLayoutSeed); err != nil {
			return Inode{}, err
		} else {
			i.Layout.Seed = v
		}
		if v, _, err := d.Uint64(tagParentInode); err != nil {
			return Inode{}, err
		} else {
			i.ParentInode = InodeId(v)
		}
		if v, ok := d.String(tagName); ok {
			i.Name = v
		}
		if v, _, err := d.Uint32(tagChainAllocCounter); err != nil {
			return Inode{}, err
		} else {
			i.ChainAllocCounter = v
		}
		if v, ok := d.String(tagLockHolder); ok {
			i.LockHolder = v
		}
	case InodeTypeSymlink:
		if v, ok := d.String(tagTargetPath); ok {
			i.TargetPath = v
		}
	}
	return i, nil
}

// DirEntry maps a name under a parent inode to a target inode. UUID
// enables request idempotency for the create that produced it.
type DirEntry struct {
	ParentInode  InodeId
	Name         string
	TargetInode  InodeId
	Type         InodeType
	UUID         [16]byte
}

const (
	tagDentParent = iota + 1
	tagDentName
	tagDentTarget
	tagDentType
	tagDentUUID
)

func (e DirEntry) Encode() []byte {
	fe := NewEncoder()
	fe.PutUint64(tagDentParent, uint64(e.ParentInode))
	fe.PutString(tagDentName, e.Name)
	fe.PutUint64(tagDentTarget, uint64(e.TargetInode))
	fe.PutByte(tagDentType, byte(e.Type))
	fe.PutBytes(tagDentUUID, e.UUID[:])
	return fe.Encode()
}

func DecodeDirEntry(b []byte) (DirEntry, error) {
	d, err := DecodeRecord(b)
	if err != nil {
		return DirEntry{}, fmt.Errorf("decode dirent: %w", err)
	}
	var e DirEntry
	if v, _, err := d.Uint64(tagDentParent); err != nil {
		return DirEntry{}, err
	} else {
		e.ParentInode = InodeId(v)
	}
	if v, ok := d.String(tagDentName); ok {
		e.Name = v
	}
	if v, _, err := d.Uint64(tagDentTarget); err != nil {
		return DirEntry{}, err
	} else {
		e.TargetInode = InodeId(v)
	}
	if v, _, err := d.Byte(tagDentType); err != nil {
		return DirEntry{}, err
	} else {
		e.Type = InodeType(v)
	}
	if v, ok := d.Bytes(tagDentUUID); ok && len(v) == 16 {
		copy(e.UUID[:], v)
	}
	return e, nil
}

// UserRecord is the USER table's value: the uid/gid a bearer token
// resolves to, for meta's per-request "authenticate (token match
// against USER)" step (§4.6). Keyed by the token itself via UserKey,
// so the record carries no token field of its own.
type UserRecord struct {
	Uid   uint32
	Gid   uint32
	Admin bool
}

const (
	tagUserUid = iota + 1
	tagUserGid
	tagUserAdmin
)

func (u UserRecord) Encode() []byte {
	e := NewEncoder()
	e.PutUint32(tagUserUid, u.Uid)
	e.PutUint32(tagUserGid, u.Gid)
	if u.Admin {
		e.PutByte(tagUserAdmin, 1)
	}
	return e.Encode()
}

func DecodeUserRecord(b []byte) (UserRecord, error) {
	d, err := DecodeRecord(b)
	if err != nil {
		return UserRecord{}, fmt.Errorf("decode user record: %w", err)
	}
	var u UserRecord
	if v, _, err := d.Uint32(tagUserUid); err != nil {
		return UserRecord{}, err
	} else {
		u.Uid = v
	}
	if v, _, err := d.Uint32(tagUserGid); err != nil {
		return UserRecord{}, err
	} else {
		u.Gid = v
	}
	if v, _, err := d.Byte(tagUserAdmin); err == nil && v == 1 {
		u.Admin = true
	}
	return u, nil
}

// FileSession tracks an open-for-write holder, used for file length
// recovery if the writer disappears without closing.
type FileSession struct {
	Inode      InodeId
	SessionUUID [16]byte
	ClientId   string
	Flags      uint32
	CreateTime int64
	AccessTime int64
}

const (
	tagSessInode = iota + 1
	tagSessUUID
	tagSessClientId
	tagSessFlags
	tagSessCreateTime
	tagSessAccessTime
)

func (s FileSession) Encode() []byte {
	fe := NewEncoder()
	fe.PutUint64(tagSessInode, uint64(s.Inode))
	fe.PutBytes(tagSessUUID, s.SessionUUID[:])
	fe.PutString(tagSessClientId, s.ClientId)
	fe.PutUint32(tagSessFlags, s.Flags)
	fe.PutUint64(tagSessCreateTime, uint64(s.CreateTime))
	fe.PutUint64(tagSessAccessTime, uint64(s.AccessTime))
	return fe.Encode()
}

func DecodeFileSession(b []byte) (FileSession, error) {
	d, err := DecodeRecord(b)
	if err != nil {
		return FileSession{}, fmt.Errorf("decode file session: %w", err)
	}
	var s FileSession
	if v, _, err := d.Uint64(tagSessInode); err != nil {
		return FileSession{}, err
	} else {
		s.Inode = InodeId(v)
	}
	if v, ok := d.Bytes(tagSessUUID); ok && len(v) == 16 {
		copy(s.SessionUUID[:], v)
	}
	if v, ok := d.String(tagSessClientId); ok {
		s.ClientId = v
	}
	if v, _, err := d.Uint32(tagSessFlags); err != nil {
		return FileSession{}, err
	} else {
		s.Flags = v
	}
	if v, _, err := d.Uint64(tagSessCreateTime); err != nil {
		return FileSession{}, err
	} else {
		s.CreateTime = int64(v)
	}
	if v, _, err := d.Uint64(tagSessAccessTime); err != nil {
		return FileSession{}, err
	} else {
		s.AccessTime = int64(v)
	}
	return s, nil
}
