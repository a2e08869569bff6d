package kv

import "testing"

func TestVersionstampEncodeDecodeRoundTrip(t *testing.T) {
	v := Versionstamp{CommitVersion: 0x0102030405060708, Seq: 0x090a}
	enc := v.Encode()
	got, ok := DecodeVersionstamp(enc[:])
	if !ok {
		t.Fatalf("decode reported failure for a valid stamp")
	}
	if got != v {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, v)
	}
}

func TestVersionstampEncodeIsBigEndian(t *testing.T) {
	v := Versionstamp{CommitVersion: 1, Seq: 1}
	enc := v.Encode()
	want := [VersionstampLen]byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 1}
	if enc != want {
		t.Fatalf("got %v want %v", enc, want)
	}
}

func TestVersionstampDecodeRejectsWrongLength(t *testing.T) {
	if _, ok := DecodeVersionstamp([]byte{1, 2, 3}); ok {
		t.Fatalf("expected decode failure for short input")
	}
}

func TestVersionstampLess(t *testing.T) {
	a := Versionstamp{CommitVersion: 1, Seq: 5}
	b := Versionstamp{CommitVersion: 2, Seq: 0}
	c := Versionstamp{CommitVersion: 1, Seq: 6}

	if !a.Less(b) {
		t.Fatalf("expected a < b by commit version")
	}
	if b.Less(a) {
		t.Fatalf("did not expect b < a")
	}
	if !a.Less(c) {
		t.Fatalf("expected a < c by seq within same commit version")
	}
	if a.Less(a) {
		t.Fatalf("did not expect a < a")
	}
}

func TestVersionstampZeroIsSmallest(t *testing.T) {
	if !Zero.Less(Versionstamp{CommitVersion: 1}) {
		t.Fatalf("expected Zero to be less than any positive commit version")
	}
}
