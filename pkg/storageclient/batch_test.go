package storageclient

import (
	"testing"

	"github.com/fireflyer/ffs/pkg/routing"
)

func TestChunkBatchesRespectsMaxCount(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	batches := chunkBatches(items, 2, 1<<20, func(int) uint64 { return 1 })
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[1]) != 2 || len(batches[2]) != 1 {
		t.Fatalf("batch sizes = %v", batches)
	}
}

func TestChunkBatchesRespectsMaxBytes(t *testing.T) {
	items := []uint64{10, 10, 10, 10}
	batches := chunkBatches(items, 64, 25, func(v uint64) uint64 { return v })
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[1]) != 2 {
		t.Fatalf("batch sizes = %v", batches)
	}
}

func TestChunkBatchesAlwaysAdmitsOversizedSingleItem(t *testing.T) {
	items := []uint64{100}
	batches := chunkBatches(items, 64, 10, func(v uint64) uint64 { return v })
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("expected one batch holding the single oversized item, got %v", batches)
	}
}

func TestGroupByAddressBucketsByTargetNode(t *testing.T) {
	info := routing.RoutingInfo{
		Nodes: []routing.NodeInfo{
			{NodeId: 1, Address: "nodeA"},
			{NodeId: 2, Address: "nodeB"},
		},
		Targets: []routing.TargetInfo{
			{TargetId: 10, NodeId: 1},
			{TargetId: 11, NodeId: 1},
			{TargetId: 20, NodeId: 2},
		},
	}
	items := []routing.TargetId{10, 20, 11}
	groups, err := groupByAddress(info, items, func(id routing.TargetId) routing.TargetId { return id })
	if err != nil {
		t.Fatalf("groupByAddress: %v", err)
	}
	if len(groups["nodeA"]) != 2 || len(groups["nodeB"]) != 1 {
		t.Fatalf("groups = %+v", groups)
	}
}

func TestGroupByAddressErrorsOnUnknownTarget(t *testing.T) {
	info := routing.RoutingInfo{}
	_, err := groupByAddress(info, []routing.TargetId{99}, func(id routing.TargetId) routing.TargetId { return id })
	if err == nil {
		t.Fatalf("expected an error for a target with no resolvable address")
	}
}

func TestClassifyErrorMapsKnownPrefixes(t *testing.T) {
	cases := map[string]retryAction{
		"VersionMismatch: stale chain version":    actionRefreshAndRetry,
		"Timeout: deadline exceeded":              actionBackoffAndRetry,
		"NetworkError: connection refused":        actionBackoffAndRetry,
		"Throttled: too many requests":            actionBackoffAndRetry,
		"Corruption: checksum mismatch":           actionRetryOtherReplica,
		"InvalidArgument: bad offset":             actionFail,
	}
	for msg, want := range cases {
		if got := classifyError(msg); got != want {
			t.Fatalf("classifyError(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestPickOtherReplicaSkipsAvoided(t *testing.T) {
	online := []routing.TargetId{1, 2, 3}
	got, ok := pickOtherReplica(online, 2)
	if !ok || got == 2 {
		t.Fatalf("pickOtherReplica = %d, %v, want a target other than 2", got, ok)
	}
}

func TestPickOtherReplicaFailsWhenOnlyAvoidedIsOnline(t *testing.T) {
	_, ok := pickOtherReplica([]routing.TargetId{5}, 5)
	if ok {
		t.Fatalf("expected no candidate when the only online replica is the one to avoid")
	}
}
