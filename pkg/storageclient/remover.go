package storageclient

import (
	"context"

	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/schema"
	"github.com/fireflyer/ffs/pkg/storagetarget"
	"github.com/fireflyer/ffs/pkg/transport"
)

// RemoveChunks implements pkg/meta's ChunkRemover: it fans a
// RemoveChunksRequest out to every target of every chain in the
// inode's layout's chain table. Meta's removeChunks call carries only
// {inode, from_chunk}, not the specific chunk ids to remove (§4.6), so
// the client can't know in advance which chains actually hold bytes
// for this inode — it has to ask every chain the file could have
// striped across and let each target's own RemoveInode scan decide
// what, if anything, it's holding.
func (c *Client) RemoveChunks(ctx context.Context, inode schema.InodeId, fromChunk uint32) error {
	if c.layouts == nil {
		return kv.NewError(kv.CodeInvalidArgument, "storageclient: RemoveChunks: no LayoutResolver configured")
	}
	layout, ok := c.layouts.ResolveLayout(inode)
	if !ok {
		// The inode is already gone from meta's own record (a second GC
		// pass after a crash mid-drain, say); nothing left to remove.
		return nil
	}

	info := c.routing.RoutingInfo()
	var table *routing.ChainTable
	for i := range info.ChainTables {
		t := info.ChainTables[i]
		if t.ChainTableId == layout.ChainTableId && t.Version == layout.ChainTableVersion {
			table = &info.ChainTables[i]
			break
		}
	}
	if table == nil {
		return kv.NewError(kv.CodeNotFound, "storageclient: RemoveChunks: chain table %d v%d not found", layout.ChainTableId, layout.ChainTableVersion)
	}

	seen := make(map[routing.TargetId]bool)
	var addrs []string
	for _, chainID := range table.Chains {
		chain, ok := info.ChainByID(chainID)
		if !ok {
			continue
		}
		for _, t := range chain.Targets {
			if seen[t.TargetId] {
				continue
			}
			seen[t.TargetId] = true
			addr, ok := targetAddress(info, t.TargetId)
			if !ok {
				continue
			}
			addrs = append(addrs, addr)
		}
	}

	req := storagetarget.RemoveChunksRequest{Inode: uint64(inode), FromChunk: fromChunk}
	payload, err := encodeGob(req)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		env := transport.NewEnvelope(storagetarget.ServiceID, storagetarget.MethodRemoveChunks, payload)
		if _, err := c.transport.Send(ctx, addr, env); err != nil {
			return err
		}
	}
	return nil
}
