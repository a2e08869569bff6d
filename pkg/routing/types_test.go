package routing

import "testing"

func TestChainInfoEncodeDecodeRoundTrip(t *testing.T) {
	in := ChainInfo{
		ChainId: 7,
		Version: 3,
		Targets: []ChainTargetRole{
			{TargetId: 1, Role: RoleHead},
			{TargetId: 2, Role: RoleMiddle},
			{TargetId: 3, Role: RoleTail},
		},
		PreferredOrder: []TargetId{1, 2, 3},
	}
	b := EncodeChainInfo(in)
	out, err := DecodeChainInfo(b)
	if err != nil {
		t.Fatalf("DecodeChainInfo: %v", err)
	}
	if out.ChainId != in.ChainId || out.Version != in.Version || len(out.Targets) != len(in.Targets) || len(out.PreferredOrder) != len(in.PreferredOrder) {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
	for i := range in.Targets {
		if out.Targets[i] != in.Targets[i] {
			t.Fatalf("target %d mismatch: got %+v want %+v", i, out.Targets[i], in.Targets[i])
		}
	}
	for i := range in.PreferredOrder {
		if out.PreferredOrder[i] != in.PreferredOrder[i] {
			t.Fatalf("preferred order %d mismatch: got %v want %v", i, out.PreferredOrder[i], in.PreferredOrder[i])
		}
	}
}

func TestChainInfoHeadIsFirstPreferred(t *testing.T) {
	c := ChainInfo{PreferredOrder: []TargetId{5, 6, 7}}
	head, ok := c.Head()
	if !ok || head != 5 {
		t.Fatalf("got head=%v ok=%v want 5,true", head, ok)
	}
}

func TestChainInfoHeadEmptyOrder(t *testing.T) {
	c := ChainInfo{}
	if _, ok := c.Head(); ok {
		t.Fatalf("expected no head for an empty preferred order")
	}
}

func TestTargetInfoEncodeDecodeRoundTrip(t *testing.T) {
	in := TargetInfo{TargetId: 9, NodeId: 4, DiskIndex: 2, LocalState: StateOnline}
	b := EncodeTargetInfo(in)
	out, err := DecodeTargetInfo(b)
	if err != nil {
		t.Fatalf("DecodeTargetInfo: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v want %+v", out, in)
	}
}

func TestNodeInfoEncodeDecodeRoundTrip(t *testing.T) {
	in := NodeInfo{NodeId: 3, Address: "10.0.0.1:9000", LastHeartbeat: 12345}
	b := EncodeNodeInfo(in)
	out, err := DecodeNodeInfo(b)
	if err != nil {
		t.Fatalf("DecodeNodeInfo: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v want %+v", out, in)
	}
}

func TestResolveChainRef(t *testing.T) {
	r := RoutingInfo{
		ChainTables: []ChainTable{
			{ChainTableId: 1, Version: 1, Chains: []ChainId{10, 20, 30, 40}},
		},
	}
	id, err := r.ResolveChainRef(1, 1, 2)
	if err != nil {
		t.Fatalf("ResolveChainRef: %v", err)
	}
	if id != 30 {
		t.Fatalf("got %v want 30", id)
	}
}

func TestResolveChainRefOutOfRange(t *testing.T) {
	r := RoutingInfo{
		ChainTables: []ChainTable{{ChainTableId: 1, Version: 1, Chains: []ChainId{10}}},
	}
	if _, err := r.ResolveChainRef(1, 1, 5); err == nil {
		t.Fatalf("expected an error for an out-of-range chain_ref")
	}
}

func TestResolveChainRefMissingTable(t *testing.T) {
	r := RoutingInfo{}
	if _, err := r.ResolveChainRef(1, 1, 0); err == nil {
		t.Fatalf("expected an error for a missing chain table")
	}
}

func TestOrphanTargets(t *testing.T) {
	r := RoutingInfo{
		Nodes: []NodeInfo{{NodeId: 1}, {NodeId: 2}},
		Targets: []TargetInfo{
			{TargetId: 1, NodeId: 1},
			{TargetId: 2, NodeId: 99}, // orphan: node 99 not in Nodes
			{TargetId: 3, NodeId: 2},
		},
	}
	orphans := r.OrphanTargets()
	if len(orphans) != 1 || orphans[0].TargetId != 2 {
		t.Fatalf("got %+v want exactly target 2", orphans)
	}
}

func TestChainByIDAndTargetByID(t *testing.T) {
	r := RoutingInfo{
		Chains:  []ChainInfo{{ChainId: 1}, {ChainId: 2}},
		Targets: []TargetInfo{{TargetId: 10}, {TargetId: 20}},
	}
	if c, ok := r.ChainByID(2); !ok || c.ChainId != 2 {
		t.Fatalf("got %+v ok=%v", c, ok)
	}
	if _, ok := r.ChainByID(99); ok {
		t.Fatalf("expected chain 99 to be absent")
	}
	if tg, ok := r.TargetByID(10); !ok || tg.TargetId != 10 {
		t.Fatalf("got %+v ok=%v", tg, ok)
	}
}
