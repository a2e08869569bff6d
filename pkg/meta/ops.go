package meta

import (
	"context"
	"time"

	"github.com/fireflyer/ffs/pkg/chunkaddr"
	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/schema"
)

func checkPerm(user UserInfo, acl schema.ACL, want uint16) error {
	if !acl.Allows(user.Uid, user.Gid, want) {
		return kv.NewError(kv.CodeNoPermission, "meta: permission denied")
	}
	return nil
}

func chainTableLen(r RoutingSource, tableId, version uint32) int {
	info := r.RoutingInfo()
	for _, t := range info.ChainTables {
		if t.ChainTableId == tableId && t.Version == version {
			return len(t.Chains)
		}
	}
	return 0
}

// Create implements §4.6's create(parent, name, mode, flags, session?):
// reserve a new inode id and inherit the parent's layout unless
// overridden. No chain-allocation slot is drawn for a striped file: the
// parent's ChainAllocCounter is neither read nor advanced.
func (s *Server) Create(ctx context.Context, user UserInfo, req CreateRequest) (CreateResponse, error) {
	v, err := s.runBatch(ctx, req.Parent, "create", func(ctx context.Context, txn kv.ReadWriteTransaction, parent schema.Inode) (interface{}, error) {
		var resp CreateResponse
		err := idempotent(ctx, txn, req.Meta.RequestUUID, "create", &resp, func() error {
			if parent.Type != schema.InodeTypeDirectory {
				return kv.NewError(kv.CodeInvalidArgument, "meta: create: parent %d is not a directory", req.Parent)
			}
			if err := checkPerm(user, parent.ACL, schema.PermWrite|schema.PermExec); err != nil {
				return err
			}

			if _, ok, err := txn.Get(ctx, schema.DirEntryKey(req.Parent, req.Name)); err != nil {
				return err
			} else if ok {
				return kv.NewError(kv.CodeAlreadyExists, "meta: create: %q already exists under %d", req.Name, req.Parent)
			}

			layout := parent.Layout
			if req.Layout != nil {
				layout = *req.Layout
			}
			if tableLen := chainTableLen(s.routing, layout.ChainTableId, layout.ChainTableVersion); tableLen > 0 {
				if err := chunkaddr.ValidateLayout(layout, tableLen); err != nil {
					return kv.NewError(kv.CodeInvalidArgument, "meta: create: %v", err)
				}
			}

			id, err := s.allocator.Next(ctx)
			if err != nil {
				return err
			}
			now := time.Now().UnixNano()
			child := schema.Inode{
				Id:     id,
				Type:   schema.InodeTypeFile,
				ACL:    schema.ACL{Uid: user.Uid, Gid: user.Gid, Mode: req.Mode & 0o777},
				Nlink:  1,
				Atime:  now,
				Ctime:  now,
				Mtime:  now,
				Layout: layout,
				Flags:  req.Flags,
			}
			txn.Set(schema.InodeKey(id), child.Encode())
			txn.Set(schema.DirEntryKey(req.Parent, req.Name), schema.DirEntry{
				ParentInode: req.Parent,
				Name:        req.Name,
				TargetInode: id,
				Type:        schema.InodeTypeFile,
				UUID:        [16]byte(req.Meta.RequestUUID),
			}.Encode())

			resp.Inode = child
			return nil
		})
		return resp, err
	})
	if err != nil {
		return CreateResponse{}, err
	}
	return v.(CreateResponse), nil
}

// Mkdir implements §4.6's mkdir, the directory analogue of create: no
// chunk layout work, nlink starts at 1 for the new directory's own "."
// (this model has no on-disk "." dentry, but the convention keeps
// nlink accounting consistent with unlink's decrement-to-zero rule).
func (s *Server) Mkdir(ctx context.Context, user UserInfo, req MkdirRequest) (MkdirResponse, error) {
	v, err := s.runBatch(ctx, req.Parent, "mkdir", func(ctx context.Context, txn kv.ReadWriteTransaction, parent schema.Inode) (interface{}, error) {
		var resp MkdirResponse
		err := idempotent(ctx, txn, req.Meta.RequestUUID, "mkdir", &resp, func() error {
			if parent.Type != schema.InodeTypeDirectory {
				return kv.NewError(kv.CodeInvalidArgument, "meta: mkdir: parent %d is not a directory", req.Parent)
			}
			if err := checkPerm(user, parent.ACL, schema.PermWrite|schema.PermExec); err != nil {
				return err
			}
			if _, ok, err := txn.Get(ctx, schema.DirEntryKey(req.Parent, req.Name)); err != nil {
				return err
			} else if ok {
				return kv.NewError(kv.CodeAlreadyExists, "meta: mkdir: %q already exists under %d", req.Name, req.Parent)
			}

			id, err := s.allocator.Next(ctx)
			if err != nil {
				return err
			}
			now := time.Now().UnixNano()
			child := schema.Inode{
				Id:          id,
				Type:        schema.InodeTypeDirectory,
				ACL:         schema.ACL{Uid: user.Uid, Gid: user.Gid, Mode: req.Mode & 0o777},
				Nlink:       1,
				Atime:       now,
				Ctime:       now,
				Mtime:       now,
				Layout:      parent.Layout,
				ParentInode: req.Parent,
				Name:        req.Name,
			}
			txn.Set(schema.InodeKey(id), child.Encode())
			txn.Set(schema.DirEntryKey(req.Parent, req.Name), schema.DirEntry{
				ParentInode: req.Parent,
				Name:        req.Name,
				TargetInode: id,
				Type:        schema.InodeTypeDirectory,
				UUID:        [16]byte(req.Meta.RequestUUID),
			}.Encode())

			resp.Inode = child
			return nil
		})
		return resp, err
	})
	if err != nil {
		return MkdirResponse{}, err
	}
	return v.(MkdirResponse), nil
}

// Stat reads a single inode, conflict-tracked through the normal batch
// path so a concurrent mutation on the same inode orders correctly
// against it.
func (s *Server) Stat(ctx context.Context, user UserInfo, req StatRequest) (StatResponse, error) {
	v, err := s.runBatch(ctx, req.Inode, "stat", func(ctx context.Context, txn kv.ReadWriteTransaction, self schema.Inode) (interface{}, error) {
		if err := checkPerm(user, self.ACL, schema.PermRead); err != nil {
			return StatResponse{}, err
		}
		return StatResponse{Inode: self}, nil
	})
	if err != nil {
		return StatResponse{}, err
	}
	return v.(StatResponse), nil
}

// BatchStat is the supplemented method (§6, not detailed in §4.6): a
// snapshot-read fan-out across a list of inodes, no batching latch
// since it never mutates. Missing inodes are silently omitted.
func (s *Server) BatchStat(ctx context.Context, user UserInfo, req BatchStatRequest) (BatchStatResponse, error) {
	txn, err := s.engine.NewReadTransaction(ctx)
	if err != nil {
		return BatchStatResponse{}, err
	}
	defer txn.Cancel()

	var resp BatchStatResponse
	for _, id := range req.Inodes {
		raw, ok, err := txn.SnapshotGet(ctx, schema.InodeKey(id))
		if err != nil {
			return BatchStatResponse{}, err
		}
		if !ok {
			continue
		}
		inode, err := schema.DecodeInode(raw)
		if err != nil {
			return BatchStatResponse{}, err
		}
		if !inode.ACL.Allows(user.Uid, user.Gid, schema.PermRead) {
			continue
		}
		resp.Inodes = append(resp.Inodes, inode)
	}
	return resp, nil
}

// List implements §4.6's list: a snapshot range scan over DENT+parent
// with pagination. The continuation cursor is the last returned key,
// so a caller simply echoes NextCursor back as Cursor to keep paging.
func (s *Server) List(ctx context.Context, user UserInfo, req ListRequest) (ListResponse, error) {
	txn, err := s.engine.NewReadTransaction(ctx)
	if err != nil {
		return ListResponse{}, err
	}
	defer txn.Cancel()

	parentRaw, ok, err := txn.SnapshotGet(ctx, schema.InodeKey(req.Parent))
	if err != nil {
		return ListResponse{}, err
	}
	if !ok {
		return ListResponse{}, kv.NewError(kv.CodeNotFound, "meta: list: parent %d not found", req.Parent)
	}
	parent, err := schema.DecodeInode(parentRaw)
	if err != nil {
		return ListResponse{}, err
	}
	if err := checkPerm(user, parent.ACL, schema.PermRead|schema.PermExec); err != nil {
		return ListResponse{}, err
	}

	begin := kv.Key(schema.DirEntryScanPrefix(req.Parent))
	if len(req.Cursor) > 0 {
		begin = kv.KeyExclusive(req.Cursor)
	}
	end := kv.KeyExclusive(schema.PrefixRangeEnd(schema.DirEntryScanPrefix(req.Parent)))

	limit := req.Limit
	if limit <= 0 {
		limit = 1000
	}
	kvs, hasMore, err := txn.SnapshotGetRange(ctx, begin, end, limit)
	if err != nil {
		return ListResponse{}, err
	}

	resp := ListResponse{HasMore: hasMore}
	for _, kvpair := range kvs {
		entry, err := schema.DecodeDirEntry(kvpair.Value)
		if err != nil {
			return ListResponse{}, err
		}
		resp.Entries = append(resp.Entries, entry)
	}
	if len(kvs) > 0 {
		resp.NextCursor = kvs[len(kvs)-1].Key
	}
	return resp, nil
}

// Remove implements §4.6's unlink/rmdir: decrement nlink; when it
// reaches zero and no file session holds the inode open, hand it off
// to GC instead of erasing it inline (crash-safety: the queue entry,
// not the inode erase, is the commit record).
func (s *Server) Remove(ctx context.Context, user UserInfo, req RemoveRequest) (RemoveResponse, error) {
	v, err := s.runBatch(ctx, req.Parent, "remove", func(ctx context.Context, txn kv.ReadWriteTransaction, parent schema.Inode) (interface{}, error) {
		var resp RemoveResponse
		err := idempotent(ctx, txn, req.Meta.RequestUUID, "remove", &resp, func() error {
			if err := checkPerm(user, parent.ACL, schema.PermWrite|schema.PermExec); err != nil {
				return err
			}
			entryRaw, ok, err := txn.Get(ctx, schema.DirEntryKey(req.Parent, req.Name))
			if err != nil {
				return err
			}
			if !ok {
				return kv.NewError(kv.CodeNotFound, "meta: remove: %q not found under %d", req.Name, req.Parent)
			}
			entry, err := schema.DecodeDirEntry(entryRaw)
			if err != nil {
				return err
			}
			childRaw, ok, err := txn.Get(ctx, schema.InodeKey(entry.TargetInode))
			if err != nil {
				return err
			}
			if !ok {
				// Dangling dentry: clear it and report success, nothing
				// left to decrement.
				txn.Clear(schema.DirEntryKey(req.Parent, req.Name))
				return nil
			}
			child, err := schema.DecodeInode(childRaw)
			if err != nil {
				return err
			}
			if child.Type == schema.InodeTypeDirectory {
				remaining, _, err := txn.GetRange(ctx, kv.Key(schema.DirEntryScanPrefix(child.Id)), kv.KeyExclusive(schema.PrefixRangeEnd(schema.DirEntryScanPrefix(child.Id))), 1)
				if err != nil {
					return err
				}
				if len(remaining) > 0 {
					return kv.NewError(kv.CodeInvalidArgument, "meta: remove: directory %d is not empty", child.Id)
				}
			}

			txn.Clear(schema.DirEntryKey(req.Parent, req.Name))
			child.Nlink--
			if child.Nlink > 0 {
				txn.Set(schema.InodeKey(child.Id), child.Encode())
				return nil
			}

			sessions, _, err := txn.GetRange(ctx, kv.Key(schema.FileSessionScanPrefix(child.Id)), kv.KeyExclusive(schema.PrefixRangeEnd(schema.FileSessionScanPrefix(child.Id))), 1)
			if err != nil {
				return err
			}
			if len(sessions) > 0 {
				// An open writer still holds this inode; leave nlink at
				// zero and defer the GC handoff to close/pruneSession.
				txn.Set(schema.InodeKey(child.Id), child.Encode())
				return nil
			}

			txn.Clear(schema.InodeKey(child.Id))
			enqueueDeletion(txn, child.Id)
			return nil
		})
		return resp, err
	})
	if err != nil {
		return RemoveResponse{}, err
	}
	return v.(RemoveResponse), nil
}

// Rename implements §4.6's rename as its own multi-key transaction
// rather than through the per-inode batch runner, since it spans two
// batons at once. It takes no lock on either parent: both parents and
// both dentries are read conflict-tracked, so a concurrent change to any
// of them makes the commit conflict and retry. The two parent ids are
// ordered smaller-first only for the ownership check.
func (s *Server) Rename(ctx context.Context, user UserInfo, req RenameRequest) (RenameResponse, error) {
	first, second := req.SrcParent, req.DstParent
	if first > second {
		first, second = second, first
	}

	var resp RenameResponse
	_, err := kv.RunTransaction(ctx, s.engine, s.policy, true, func(ctx context.Context, txn kv.ReadWriteTransaction) error {
		if !s.distributor.IsLocal(first) || !s.distributor.IsLocal(second) {
			return kv.NewError(kv.CodeNotFound, "meta: rename: not responsible for both parents")
		}
		return idempotent(ctx, txn, req.Meta.RequestUUID, "rename", &resp, func() error {
			srcParentRaw, ok, err := txn.Get(ctx, schema.InodeKey(req.SrcParent))
			if err != nil {
				return err
			}
			if !ok {
				return kv.NewError(kv.CodeNotFound, "meta: rename: src parent %d not found", req.SrcParent)
			}
			srcParent, err := schema.DecodeInode(srcParentRaw)
			if err != nil {
				return err
			}
			dstParentRaw, ok, err := txn.Get(ctx, schema.InodeKey(req.DstParent))
			if err != nil {
				return err
			}
			if !ok {
				return kv.NewError(kv.CodeNotFound, "meta: rename: dst parent %d not found", req.DstParent)
			}
			dstParent, err := schema.DecodeInode(dstParentRaw)
			if err != nil {
				return err
			}
			if err := checkPerm(user, srcParent.ACL, schema.PermWrite|schema.PermExec); err != nil {
				return err
			}
			if err := checkPerm(user, dstParent.ACL, schema.PermWrite|schema.PermExec); err != nil {
				return err
			}

			srcRaw, ok, err := txn.Get(ctx, schema.DirEntryKey(req.SrcParent, req.SrcName))
			if err != nil {
				return err
			}
			if !ok {
				return kv.NewError(kv.CodeNotFound, "meta: rename: %q not found under %d", req.SrcName, req.SrcParent)
			}
			srcEntry, err := schema.DecodeDirEntry(srcRaw)
			if err != nil {
				return err
			}

			if dstRaw, ok, err := txn.Get(ctx, schema.DirEntryKey(req.DstParent, req.DstName)); err != nil {
				return err
			} else if ok {
				dstEntry, err := schema.DecodeDirEntry(dstRaw)
				if err != nil {
					return err
				}
				if dstEntry.TargetInode != srcEntry.TargetInode {
					if err := unlinkEntry(ctx, txn, dstEntry); err != nil {
						return err
					}
				}
			}

			txn.Clear(schema.DirEntryKey(req.SrcParent, req.SrcName))
			srcEntry.ParentInode = req.DstParent
			srcEntry.Name = req.DstName
			txn.Set(schema.DirEntryKey(req.DstParent, req.DstName), srcEntry.Encode())
			return nil
		})
	})
	if err != nil {
		return RenameResponse{}, err
	}
	return resp, nil
}

// unlinkEntry decrements the target's nlink and, if it drops to zero
// with no open session, hands it to GC. Shared by Rename's
// destination-clobber case, which needs the same bookkeeping Remove
// does but inside an already-open cross-parent transaction.
func unlinkEntry(ctx context.Context, txn kv.ReadWriteTransaction, entry schema.DirEntry) error {
	childRaw, ok, err := txn.Get(ctx, schema.InodeKey(entry.TargetInode))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	child, err := schema.DecodeInode(childRaw)
	if err != nil {
		return err
	}
	child.Nlink--
	if child.Nlink > 0 {
		txn.Set(schema.InodeKey(child.Id), child.Encode())
		return nil
	}
	sessions, _, err := txn.GetRange(ctx, kv.Key(schema.FileSessionScanPrefix(child.Id)), kv.KeyExclusive(schema.PrefixRangeEnd(schema.FileSessionScanPrefix(child.Id))), 1)
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		txn.Set(schema.InodeKey(child.Id), child.Encode())
		return nil
	}
	txn.Clear(schema.InodeKey(child.Id))
	enqueueDeletion(txn, child.Id)
	return nil
}

// Symlink stores the target path in the new inode; no content I/O.
func (s *Server) Symlink(ctx context.Context, user UserInfo, req SymlinkRequest) (SymlinkResponse, error) {
	v, err := s.runBatch(ctx, req.Parent, "symlink", func(ctx context.Context, txn kv.ReadWriteTransaction, parent schema.Inode) (interface{}, error) {
		var resp SymlinkResponse
		err := idempotent(ctx, txn, req.Meta.RequestUUID, "symlink", &resp, func() error {
			if err := checkPerm(user, parent.ACL, schema.PermWrite|schema.PermExec); err != nil {
				return err
			}
			if _, ok, err := txn.Get(ctx, schema.DirEntryKey(req.Parent, req.Name)); err != nil {
				return err
			} else if ok {
				return kv.NewError(kv.CodeAlreadyExists, "meta: symlink: %q already exists under %d", req.Name, req.Parent)
			}
			id, err := s.allocator.Next(ctx)
			if err != nil {
				return err
			}
			now := time.Now().UnixNano()
			child := schema.Inode{
				Id:         id,
				Type:       schema.InodeTypeSymlink,
				ACL:        schema.ACL{Uid: user.Uid, Gid: user.Gid, Mode: 0o777},
				Nlink:      1,
				Atime:      now,
				Ctime:      now,
				Mtime:      now,
				TargetPath: req.Target,
			}
			txn.Set(schema.InodeKey(id), child.Encode())
			txn.Set(schema.DirEntryKey(req.Parent, req.Name), schema.DirEntry{
				ParentInode: req.Parent,
				Name:        req.Name,
				TargetInode: id,
				Type:        schema.InodeTypeSymlink,
				UUID:        [16]byte(req.Meta.RequestUUID),
			}.Encode())
			resp.Inode = child
			return nil
		})
		return resp, err
	})
	if err != nil {
		return SymlinkResponse{}, err
	}
	return v.(SymlinkResponse), nil
}

// Hardlink adds a new dentry pointing at an existing inode and bumps
// its nlink; directories cannot be hardlinked, since that would create
// a directory-entry cycle this tree-shaped model can't represent.
func (s *Server) Hardlink(ctx context.Context, user UserInfo, req HardlinkRequest) (HardlinkResponse, error) {
	v, err := s.runBatch(ctx, req.Parent, "hardlink", func(ctx context.Context, txn kv.ReadWriteTransaction, parent schema.Inode) (interface{}, error) {
		var resp HardlinkResponse
		err := idempotent(ctx, txn, req.Meta.RequestUUID, "hardlink", &resp, func() error {
			if err := checkPerm(user, parent.ACL, schema.PermWrite|schema.PermExec); err != nil {
				return err
			}
			if _, ok, err := txn.Get(ctx, schema.DirEntryKey(req.Parent, req.Name)); err != nil {
				return err
			} else if ok {
				return kv.NewError(kv.CodeAlreadyExists, "meta: hardlink: %q already exists under %d", req.Name, req.Parent)
			}
			targetRaw, ok, err := txn.Get(ctx, schema.InodeKey(req.TargetInode))
			if err != nil {
				return err
			}
			if !ok {
				return kv.NewError(kv.CodeNotFound, "meta: hardlink: target inode %d not found", req.TargetInode)
			}
			target, err := schema.DecodeInode(targetRaw)
			if err != nil {
				return err
			}
			if target.Type == schema.InodeTypeDirectory {
				return kv.NewError(kv.CodeInvalidArgument, "meta: hardlink: cannot hardlink a directory")
			}
			target.Nlink++
			txn.Set(schema.InodeKey(target.Id), target.Encode())
			txn.Set(schema.DirEntryKey(req.Parent, req.Name), schema.DirEntry{
				ParentInode: req.Parent,
				Name:        req.Name,
				TargetInode: target.Id,
				Type:        target.Type,
				UUID:        [16]byte(req.Meta.RequestUUID),
			}.Encode())
			return nil
		})
		return resp, err
	})
	if err != nil {
		return HardlinkResponse{}, err
	}
	return v.(HardlinkResponse), nil
}

// Setattr applies the optional mode/uid/gid fields present in req.
func (s *Server) Setattr(ctx context.Context, user UserInfo, req SetattrRequest) (SetattrResponse, error) {
	v, err := s.runBatch(ctx, req.Inode, "setattr", func(ctx context.Context, txn kv.ReadWriteTransaction, self schema.Inode) (interface{}, error) {
		var resp SetattrResponse
		err := idempotent(ctx, txn, req.Meta.RequestUUID, "setattr", &resp, func() error {
			if user.Uid != 0 && user.Uid != self.ACL.Uid {
				return kv.NewError(kv.CodeNoPermission, "meta: setattr: only root or the owner may change attributes")
			}
			if req.Mode != nil {
				self.ACL.Mode = *req.Mode & 0o777
			}
			if req.Uid != nil {
				self.ACL.Uid = *req.Uid
			}
			if req.Gid != nil {
				self.ACL.Gid = *req.Gid
			}
			self.Ctime = time.Now().UnixNano()
			txn.Set(schema.InodeKey(self.Id), self.Encode())
			resp.Inode = self
			return nil
		})
		return resp, err
	})
	if err != nil {
		return SetattrResponse{}, err
	}
	return v.(SetattrResponse), nil
}

// Truncate implements §4.6's truncate(new_len): if shrinking, the
// removed chunk range is handed to the storage client (idempotent
// keyed by request uuid, via the per-op IDEM record already guarding
// this call); File.length updates together with the chunk removal in
// the same commit, so a crash between the two can't leave length and
// chunk state disagreeing about what was truncated away.
func (s *Server) Truncate(ctx context.Context, user UserInfo, req TruncateRequest) (TruncateResponse, error) {
	v, err := s.runBatch(ctx, req.Inode, "truncate", func(ctx context.Context, txn kv.ReadWriteTransaction, self schema.Inode) (interface{}, error) {
		var resp TruncateResponse
		err := idempotent(ctx, txn, req.Meta.RequestUUID, "truncate", &resp, func() error {
			if self.Type != schema.InodeTypeFile {
				return kv.NewError(kv.CodeInvalidArgument, "meta: truncate: inode %d is not a file", req.Inode)
			}
			if err := checkPerm(user, self.ACL, schema.PermWrite); err != nil {
				return err
			}
			shrinking := req.NewLength < self.Length
			self.Length = req.NewLength
			self.TruncateVersion++
			self.Mtime = time.Now().UnixNano()
			txn.Set(schema.InodeKey(self.Id), self.Encode())
			if shrinking && s.cfg.Remover != nil {
				fromChunk := chunkaddr.ChunkIndexForOffset(self.Layout.ChunkSize, req.NewLength)
				if err := s.cfg.Remover.RemoveChunks(ctx, self.Id, fromChunk); err != nil {
					return err
				}
			}
			resp.Inode = self
			return nil
		})
		return resp, err
	})
	if err != nil {
		return TruncateResponse{}, err
	}
	return v.(TruncateResponse), nil
}

// SetLayout overrides a file's layout before it has any data written
// (changing layout under live data would orphan existing chunks under
// the old chain table, which is out of scope here).
func (s *Server) SetLayout(ctx context.Context, user UserInfo, req SetLayoutRequest) (SetLayoutResponse, error) {
	_, err := s.runBatch(ctx, req.Inode, "setLayout", func(ctx context.Context, txn kv.ReadWriteTransaction, self schema.Inode) (interface{}, error) {
		var resp SetLayoutResponse
		err := idempotent(ctx, txn, req.Meta.RequestUUID, "setLayout", &resp, func() error {
			if err := checkPerm(user, self.ACL, schema.PermWrite); err != nil {
				return err
			}
			if self.Length > 0 {
				return kv.NewError(kv.CodeInvalidArgument, "meta: setLayout: inode %d already has data", req.Inode)
			}
			if tableLen := chainTableLen(s.routing, req.Layout.ChainTableId, req.Layout.ChainTableVersion); tableLen > 0 {
				if err := chunkaddr.ValidateLayout(req.Layout, tableLen); err != nil {
					return kv.NewError(kv.CodeInvalidArgument, "meta: setLayout: %v", err)
				}
			}
			self.Layout = req.Layout
			txn.Set(schema.InodeKey(self.Id), self.Encode())
			return nil
		})
		return resp, err
	})
	return SetLayoutResponse{}, err
}

// ListXattr always returns an empty list; see the comment on
// ListXattrResponse for why.
func (s *Server) ListXattr(ctx context.Context, user UserInfo, req ListXattrRequest) (ListXattrResponse, error) {
	v, err := s.runBatch(ctx, req.Inode, "listXattr", func(ctx context.Context, txn kv.ReadWriteTransaction, self schema.Inode) (interface{}, error) {
		if err := checkPerm(user, self.ACL, schema.PermRead); err != nil {
			return ListXattrResponse{}, err
		}
		return ListXattrResponse{}, nil
	})
	if err != nil {
		return ListXattrResponse{}, err
	}
	return v.(ListXattrResponse), nil
}

// Statfs aggregates from routing/target info directly, per §4.6:
// "not transactional."
func (s *Server) Statfs(ctx context.Context, user UserInfo, req StatfsRequest) (StatfsResponse, error) {
	info := s.routing.RoutingInfo()
	resp := StatfsResponse{TotalNodes: len(info.Nodes), TotalTargets: len(info.Targets)}
	for _, t := range info.Targets {
		if t.LocalState.String() == "ONLINE" {
			resp.OnlineTargets++
		}
	}
	return resp, nil
}

// Open registers a FileSession for inode, the open-file lease §4.6's
// close/GC handoff consults.
func (s *Server) Open(ctx context.Context, user UserInfo, req OpenRequest) (OpenResponse, error) {
	v, err := s.runBatch(ctx, req.Inode, "open", func(ctx context.Context, txn kv.ReadWriteTransaction, self schema.Inode) (interface{}, error) {
		if err := checkPerm(user, self.ACL, schema.PermRead); err != nil {
			return OpenResponse{}, err
		}
		sess := schema.FileSession{
			Inode:      self.Id,
			SessionUUID: [16]byte(req.Meta.RequestUUID),
			ClientId:   req.Meta.ClientId,
			Flags:      req.Flags,
			CreateTime: time.Now().UnixNano(),
			AccessTime: time.Now().UnixNano(),
		}
		txn.Set(schema.FileSessionKey(self.Id, sess.SessionUUID), sess.Encode())
		return OpenResponse{Session: sess}, nil
	})
	if err != nil {
		return OpenResponse{}, err
	}
	return v.(OpenResponse), nil
}

// Close clears a FileSession and, if it was the last one on an inode
// already at nlink==0, finally enqueues the deletion GC deferred in
// Remove.
func (s *Server) Close(ctx context.Context, user UserInfo, req CloseRequest) (CloseResponse, error) {
	_, err := s.runBatch(ctx, req.Inode, "close", func(ctx context.Context, txn kv.ReadWriteTransaction, self schema.Inode) (interface{}, error) {
		txn.Clear(schema.FileSessionKey(self.Id, req.SessionUUID))
		if self.Nlink == 0 {
			remaining, _, err := txn.GetRange(ctx, kv.Key(schema.FileSessionScanPrefix(self.Id)), kv.KeyExclusive(schema.PrefixRangeEnd(schema.FileSessionScanPrefix(self.Id))), 1)
			if err != nil {
				return CloseResponse{}, err
			}
			if len(remaining) == 0 {
				txn.Clear(schema.InodeKey(self.Id))
				enqueueDeletion(txn, self.Id)
			}
		}
		return CloseResponse{}, nil
	})
	return CloseResponse{}, err
}

// Sync is a no-op acknowledgement: by the time a storage-client write
// returns success, CRAQ has already committed it at the tail (§4.7), so
// there is no buffered metadata-side state left to flush here.
func (s *Server) Sync(ctx context.Context, user UserInfo, req SyncRequest) (SyncResponse, error) {
	return SyncResponse{}, nil
}

// ExtendSession refreshes a FileSession's access time, keeping an
// open-for-write holder alive across the client's periodic lease
// renewal.
func (s *Server) ExtendSession(ctx context.Context, user UserInfo, req ExtendSessionRequest) (ExtendSessionResponse, error) {
	v, err := s.runBatch(ctx, req.Inode, "extendSession", func(ctx context.Context, txn kv.ReadWriteTransaction, self schema.Inode) (interface{}, error) {
		raw, ok, err := txn.Get(ctx, schema.FileSessionKey(self.Id, req.SessionUUID))
		if err != nil {
			return ExtendSessionResponse{}, err
		}
		if !ok {
			return ExtendSessionResponse{}, kv.NewError(kv.CodeNotFound, "meta: extendSession: no session %x on inode %d", req.SessionUUID, req.Inode)
		}
		sess, err := schema.DecodeFileSession(raw)
		if err != nil {
			return ExtendSessionResponse{}, err
		}
		sess.AccessTime = time.Now().UnixNano()
		txn.Set(schema.FileSessionKey(self.Id, req.SessionUUID), sess.Encode())
		return ExtendSessionResponse{Session: sess}, nil
	})
	if err != nil {
		return ExtendSessionResponse{}, err
	}
	return v.(ExtendSessionResponse), nil
}

// PruneSession removes one session explicitly: the single-session RPC
// entry point named in §6. Within this package only the RPC handler
// calls it.
func (s *Server) PruneSession(ctx context.Context, user UserInfo, req PruneSessionRequest) (PruneSessionResponse, error) {
	_, err := s.runBatch(ctx, req.Inode, "pruneSession", func(ctx context.Context, txn kv.ReadWriteTransaction, self schema.Inode) (interface{}, error) {
		txn.Clear(schema.FileSessionKey(self.Id, req.SessionUUID))
		if self.Nlink == 0 {
			remaining, _, err := txn.GetRange(ctx, kv.Key(schema.FileSessionScanPrefix(self.Id)), kv.KeyExclusive(schema.PrefixRangeEnd(schema.FileSessionScanPrefix(self.Id))), 1)
			if err != nil {
				return PruneSessionResponse{}, err
			}
			if len(remaining) == 0 {
				txn.Clear(schema.InodeKey(self.Id))
				enqueueDeletion(txn, self.Id)
			}
		}
		return PruneSessionResponse{}, nil
	})
	return PruneSessionResponse{}, err
}
