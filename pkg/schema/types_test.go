package schema

import "testing"

func TestInodeEncodeDecodeFileRoundTrip(t *testing.T) {
	in := Inode{
		Id:   42,
		Type: InodeTypeFile,
		ACL:  ACL{Uid: 1000, Gid: 1000, Mode: 0o644, Iflags: 0},
		Nlink: 1,
		Atime: 100, Ctime: 200, Mtime: 300,
		Layout: Layout{ChainTableId: 1, ChainTableVersion: 2, ChunkSize: 1 << 20, StripeSize: 4, Seed: 7},
		Length: 4096, TruncateVersion: 3, Flags: 0, DynStripe: 0,
	}
	b := in.Encode()
	out, err := DecodeInode(b)
	if err != nil {
		t.Fatalf("DecodeInode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", out, in)
	}
}

func TestInodeEncodeDecodeDirectoryRoundTrip(t *testing.T) {
	in := Inode{
		Id:   7,
		Type: InodeTypeDirectory,
		ACL:  ACL{Uid: 0, Gid: 0, Mode: 0o755},
		Nlink: 2,
		Layout: Layout{ChunkSize: 1 << 16, StripeSize: 1},
		ParentInode:       1,
		Name:              "d",
		ChainAllocCounter: 9,
		LockHolder:        "",
	}
	b := in.Encode()
	out, err := DecodeInode(b)
	if err != nil {
		t.Fatalf("DecodeInode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", out, in)
	}
}

func TestInodeEncodeDecodeSymlinkRoundTrip(t *testing.T) {
	in := Inode{Id: 9, Type: InodeTypeSymlink, TargetPath: "/a/b/c"}
	b := in.Encode()
	out, err := DecodeInode(b)
	if err != nil {
		t.Fatalf("DecodeInode: %v", err)
	}
	if out.TargetPath != in.TargetPath || out.Type != in.Type || out.Id != in.Id {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestInodeDecodeIgnoresUnknownTrailingTags(t *testing.T) {
	in := Inode{Id: 1, Type: InodeTypeSymlink, TargetPath: "/x"}
	b := in.Encode()

	fe := NewEncoder()
	fe.PutBytes(9999, []byte("future-field"))
	b = append(b, fe.Encode()...)

	out, err := DecodeInode(b)
	if err != nil {
		t.Fatalf("DecodeInode with unknown trailing tag: %v", err)
	}
	if out.TargetPath != in.TargetPath {
		t.Fatalf("expected known fields still decoded correctly, got %+v", out)
	}
}

func TestACLAllowsOwnerGroupOther(t *testing.T) {
	acl := ACL{Uid: 10, Gid: 20, Mode: 0o640}
	if !acl.Allows(10, 20, PermRead|PermWrite) {
		t.Fatalf("expected owner to have read+write")
	}
	if acl.Allows(10, 20, PermExec) {
		t.Fatalf("did not expect owner to have exec")
	}
	if !acl.Allows(99, 20, PermRead) {
		t.Fatalf("expected group member to have read")
	}
	if acl.Allows(99, 20, PermWrite) {
		t.Fatalf("did not expect group member to have write")
	}
	if acl.Allows(99, 99, PermRead) {
		t.Fatalf("did not expect other to have read")
	}
}

func TestACLAllowsRootBypass(t *testing.T) {
	acl := ACL{Uid: 10, Gid: 20, Mode: 0}
	if !acl.Allows(0, 0, PermRead|PermWrite|PermExec) {
		t.Fatalf("expected root to bypass all permission checks")
	}
}

func TestDirEntryEncodeDecodeRoundTrip(t *testing.T) {
	in := DirEntry{ParentInode: 1, Name: "f", TargetInode: 2, Type: InodeTypeFile}
	in.UUID[0] = 0xAB
	b := in.Encode()
	out, err := DecodeDirEntry(b)
	if err != nil {
		t.Fatalf("DecodeDirEntry: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestFileSessionEncodeDecodeRoundTrip(t *testing.T) {
	in := FileSession{Inode: 5, ClientId: "client-1", Flags: 1, CreateTime: 10, AccessTime: 20}
	in.SessionUUID[1] = 0xCD
	b := in.Encode()
	out, err := DecodeFileSession(b)
	if err != nil {
		t.Fatalf("DecodeFileSession: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestUserRecordEncodeDecodeRoundTrip(t *testing.T) {
	in := UserRecord{Uid: 1000, Gid: 1000, Admin: true}
	b := in.Encode()
	out, err := DecodeUserRecord(b)
	if err != nil {
		t.Fatalf("DecodeUserRecord: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}
