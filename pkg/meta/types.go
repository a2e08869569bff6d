package meta

import (
	"time"

	"github.com/fireflyer/ffs/pkg/schema"
	"github.com/google/uuid"
)

// UserInfo is the authenticated caller identity every op checks ACLs
// against, resolved by authenticate from RequestMeta.Token.
type UserInfo struct {
	Uid uint32
	Gid uint32
}

// RequestMeta is the common envelope every operation request carries,
// per §4.6: "{ user_info, client_id, request_uuid, forward_hop_flag,
// op_specific_fields }". The hop flag itself lives on the transport
// Envelope (transport.Flags), not here, since it is wire-level routing
// state rather than an application field.
type RequestMeta struct {
	Token       string
	ClientId    string
	RequestUUID uuid.UUID
}

func (m RequestMeta) idempotencyKey() [16]byte { return [16]byte(m.RequestUUID) }

type CreateRequest struct {
	Meta   RequestMeta
	Parent schema.InodeId
	Name   string
	Mode   uint16
	Flags  uint32
	// Layout overrides the parent's inherited layout when non-nil,
	// validated against the current chain table before use.
	Layout *schema.Layout
}

type CreateResponse struct {
	Inode schema.Inode
}

type MkdirRequest struct {
	Meta   RequestMeta
	Parent schema.InodeId
	Name   string
	Mode   uint16
}

type MkdirResponse struct {
	Inode schema.Inode
}

type OpenRequest struct {
	Meta  RequestMeta
	Inode schema.InodeId
	Flags uint32
}

type OpenResponse struct {
	Session schema.FileSession
}

type CloseRequest struct {
	Meta        RequestMeta
	Inode       schema.InodeId
	SessionUUID [16]byte
}

type CloseResponse struct{}

type SyncRequest struct {
	Meta  RequestMeta
	Inode schema.InodeId
}

type SyncResponse struct{}

type StatRequest struct {
	Meta  RequestMeta
	Inode schema.InodeId
}

type StatResponse struct {
	Inode schema.Inode
}

type BatchStatRequest struct {
	Meta    RequestMeta
	Inodes  []schema.InodeId
}

// BatchStatResponse omits any inode that no longer exists rather than
// failing the whole call; the supplemented batchStat method (§6) is a
// read-only fan-out with no batching latch, so a missing inode carries
// no transactional meaning.
type BatchStatResponse struct {
	Inodes []schema.Inode
}

type ListRequest struct {
	Meta   RequestMeta
	Parent schema.InodeId
	Limit  int
	// Cursor is the last DENT key returned by a previous call, per
	// §4.6's "continuation cursor = last returned key"; empty starts
	// from the beginning.
	Cursor []byte
}

type ListResponse struct {
	Entries    []schema.DirEntry
	NextCursor []byte
	HasMore    bool
}

type RemoveRequest struct {
	Meta   RequestMeta
	Parent schema.InodeId
	Name   string
}

type RemoveResponse struct{}

type RenameRequest struct {
	Meta      RequestMeta
	SrcParent schema.InodeId
	SrcName   string
	DstParent schema.InodeId
	DstName   string
}

type RenameResponse struct{}

type SymlinkRequest struct {
	Meta   RequestMeta
	Parent schema.InodeId
	Name   string
	Target string
}

type SymlinkResponse struct {
	Inode schema.Inode
}

type HardlinkRequest struct {
	Meta        RequestMeta
	Parent      schema.InodeId
	Name        string
	TargetInode schema.InodeId
}

type HardlinkResponse struct{}

type SetattrRequest struct {
	Meta RequestMeta
	Inode schema.InodeId
	Mode  *uint16
	Uid   *uint32
	Gid   *uint32
}

type SetattrResponse struct {
	Inode schema.Inode
}

type TruncateRequest struct {
	Meta      RequestMeta
	Inode     schema.InodeId
	NewLength uint64
}

type TruncateResponse struct {
	Inode schema.Inode
}

type SetLayoutRequest struct {
	Meta   RequestMeta
	Inode  schema.InodeId
	Layout schema.Layout
}

type SetLayoutResponse struct{}

// ListXattrRequest/Response implement §4.6's listXattr entry. No
// setXattr op appears anywhere in the fixed menu, so there is nothing
// that ever populates an xattr set; this always returns an empty list.
type ListXattrRequest struct {
	Meta  RequestMeta
	Inode schema.InodeId
}

type ListXattrResponse struct {
	Names []string
}

type StatfsRequest struct {
	Meta RequestMeta
}

// StatfsResponse is aggregated from routing/target info directly
// (§4.6: "not transactional"), not read from the kv.Engine.
type StatfsResponse struct {
	TotalNodes    int
	TotalTargets  int
	OnlineTargets int
}

type ExtendSessionRequest struct {
	Meta        RequestMeta
	Inode       schema.InodeId
	SessionUUID [16]byte
	TTL         time.Duration
}

type ExtendSessionResponse struct {
	Session schema.FileSession
}

type PruneSessionRequest struct {
	Meta        RequestMeta
	Inode       schema.InodeId
	SessionUUID [16]byte
}

type PruneSessionResponse struct{}
