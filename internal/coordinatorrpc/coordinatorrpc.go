// Package coordinatorrpc puts a wire format on top of internal/rpcproto for
// every method spec §6 assigns to the coordinator: request/response structs
// encoded with ugorji/go/codec (the same handle rpcproto itself uses for
// its outer Call/Reply envelope), dispatched by method name on the server
// side and exposed as typed calls on the client side.
package coordinatorrpc

import (
	"bytes"
	"fmt"

	"github.com/ugorji/go/codec"

	"github.com/spatialfs/spatialfs/internal/block"
	"github.com/spatialfs/spatialfs/internal/coordinator"
	"github.com/spatialfs/spatialfs/internal/namespace"
	"github.com/spatialfs/spatialfs/internal/recordindex"
	"github.com/spatialfs/spatialfs/internal/rpcproto"
)

// Protocol names this service in every Call frame.
const Protocol = "spatialfs.coordinator"

var handle codec.CborHandle

func encode(v interface{}) []byte {
	var buf bytes.Buffer
	codec.NewEncoder(&buf, &handle).MustEncode(v)
	return buf.Bytes()
}

func decode(b []byte, v interface{}) error {
	return codec.NewDecoderBytes(b, &handle).Decode(v)
}

// Method names (spec §6 groups these as client-facing, storage-facing, and
// administrative; the wire dispatch below does not distinguish the groups,
// since nothing but convention tells them apart on this transport).
const (
	MethodMkdirs            = "mkdirs"
	MethodCreate            = "create"
	MethodRename            = "rename"
	MethodSetStoragePolicy  = "setStoragePolicy"
	MethodGetStoragePolicy  = "getStoragePolicy"
	MethodRenewLease        = "renewLease"
	MethodComplete          = "complete"
	MethodAddBlock          = "addBlock"
	MethodGetIndexReplicas  = "getIndexReplicas"
	MethodBlockReport       = "blockReport"
	MethodIndexReport       = "indexReport"
	MethodRegisterDatanode  = "registerDatanode"
	MethodHeartbeat         = "heartbeat"
	MethodGetBlockLocations = "getBlockLocations"
	MethodGetFileInfo       = "getFileInfo"
	MethodGetListing        = "getListing"
	MethodGetServerDefaults = "getServerDefaults"
	MethodIndexView         = "indexView"
	MethodInodePersist      = "inodePersist"
)

// --- request/response wire shapes ---

type MkdirsRequest struct {
	Path         string
	CreateParent bool
}

type CreateRequest struct {
	Path          string
	Replication   uint32
	BlockSize     uint64
	StoragePolicy string
}

type CreateResponse struct {
	Inode uint64
}

type RenameRequest struct {
	Src string
	Dst string
}

type SetStoragePolicyRequest struct {
	Path   string
	Policy string
}

type GetStoragePolicyRequest struct {
	Path string
}

type GetStoragePolicyResponse struct {
	Policy string
	Found  bool
}

type RenewLeaseRequest struct {
	Inode uint64
}

type RenewLeaseResponse struct {
	Renewed bool
}

type CompleteRequest struct {
	Path string
}

type AddBlockRequest struct {
	Path    string
	SelfID  string
	Indexed bool
}

type AddBlockResponse struct {
	BlockID  uint64
	Replicas []string
}

type GetIndexReplicasRequest struct {
	SelfID       string
	DesiredCount int
	Index        recordindex.BlockIndex
}

type GetIndexReplicasResponse struct {
	Replicas []string
}

type BlockReportRequest struct {
	BlockID         uint64
	GenerationStamp uint64
	Length          uint64
	NodeID          string
	StorageID       string
}

type IndexReportRequest struct {
	BlockID uint64
	Index   recordindex.BlockIndex
}

type RegisterDatanodeRequest struct {
	Address string
}

type RegisterDatanodeResponse struct {
	NodeID string
}

type HeartbeatRequest struct {
	NodeID    string
	StorageID string
	Capacity  uint64
	Used      uint64
}

type HeartbeatResponse struct {
	Accepted bool
}

type GetBlockLocationsRequest struct {
	Path  string
	Query string
}

type WireLocatedBlock struct {
	BlockID  uint64
	Length   uint64
	Replicas []string
}

type GetBlockLocationsResponse struct {
	Blocks     []WireLocatedBlock
	FileLength uint64
}

type GetFileInfoRequest struct {
	Path string
}

type WireInode struct {
	ID            uint64
	Name          string
	IsDirectory   bool
	StoragePolicy string
	Replication   uint32
	BlockSize     uint64
	Blocks        []uint64
	Complete      bool
}

type GetFileInfoResponse struct {
	Inode WireInode
	Found bool
}

type GetListingRequest struct {
	Path string
}

type GetListingResponse struct {
	Entries []WireInode
	Found   bool
}

type GetServerDefaultsResponse struct {
	TargetBlockSizeBytes uint64
	ReplicationFactor    int
	IOBufferSizeBytes    uint64
}

type IndexViewRequest struct {
	BlockIDs []uint64
}

type WireIndexViewEntry struct {
	BlockID block.ID
	Spatial []WireGeohashEntry
	MinTS   uint64
	MaxTS   uint64
	HasTime bool
}

type WireGeohashEntry struct {
	Geohash string
	Length  uint32
}

type IndexViewResponse struct {
	Entries []WireIndexViewEntry
}

// Server wraps c as an rpcproto.Handler answering every method above.
func Server(c *coordinator.Coordinator) rpcproto.Handler {
	return func(protocol, method string, request []byte) ([]byte, error) {
		if protocol != Protocol {
			return nil, fmt.Errorf("coordinatorrpc: unknown protocol %q", protocol)
		}
		switch method {
		case MethodMkdirs:
			var req MkdirsRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			if err := c.Mkdirs(req.Path, req.CreateParent); err != nil {
				return nil, err
			}
			return nil, nil

		case MethodCreate:
			var req CreateRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			inode, err := c.Create(req.Path, req.Replication, req.BlockSize, req.StoragePolicy)
			if err != nil {
				return nil, err
			}
			return encode(CreateResponse{Inode: inode.ID}), nil

		case MethodRename:
			var req RenameRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			if err := c.Rename(req.Src, req.Dst); err != nil {
				return nil, err
			}
			return nil, nil

		case MethodSetStoragePolicy:
			var req SetStoragePolicyRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			if err := c.SetStoragePolicy(req.Path, req.Policy); err != nil {
				return nil, err
			}
			return nil, nil

		case MethodGetStoragePolicy:
			var req GetStoragePolicyRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			p, ok, err := c.GetStoragePolicy(req.Path)
			if err != nil {
				return nil, err
			}
			resp := GetStoragePolicyResponse{Found: ok}
			if ok {
				resp.Policy = p.String()
			}
			return encode(resp), nil

		case MethodRenewLease:
			var req RenewLeaseRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			return encode(RenewLeaseResponse{Renewed: c.RenewLease(req.Inode)}), nil

		case MethodComplete:
			var req CompleteRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			return nil, c.Complete(req.Path)

		case MethodAddBlock:
			var req AddBlockRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			res, err := c.AddBlock(req.Path, req.SelfID, req.Indexed)
			if err != nil {
				return nil, err
			}
			return encode(AddBlockResponse{BlockID: uint64(res.BlockID), Replicas: res.Replicas}), nil

		case MethodGetIndexReplicas:
			var req GetIndexReplicasRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			replicas := c.GetIndexReplicas(req.SelfID, req.DesiredCount, req.Index)
			return encode(GetIndexReplicasResponse{Replicas: replicas}), nil

		case MethodBlockReport:
			var req BlockReportRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			c.BlockReport(block.ID(req.BlockID), req.GenerationStamp, req.Length, req.NodeID, req.StorageID)
			return nil, nil

		case MethodIndexReport:
			var req IndexReportRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			c.IndexReport(block.ID(req.BlockID), req.Index)
			return nil, nil

		case MethodRegisterDatanode:
			var req RegisterDatanodeRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			return encode(RegisterDatanodeResponse{NodeID: c.RegisterDatanode(req.Address)}), nil

		case MethodHeartbeat:
			var req HeartbeatRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			ok := c.Heartbeat(req.NodeID, req.StorageID, req.Capacity, req.Used)
			return encode(HeartbeatResponse{Accepted: ok}), nil

		case MethodGetBlockLocations:
			var req GetBlockLocationsRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			located, length, err := c.GetBlockLocations(req.Path, req.Query)
			if err != nil {
				return nil, err
			}
			resp := GetBlockLocationsResponse{FileLength: length}
			for _, lb := range located {
				resp.Blocks = append(resp.Blocks, WireLocatedBlock{
					BlockID: uint64(lb.BlockID), Length: lb.Length, Replicas: lb.Replicas,
				})
			}
			return encode(resp), nil

		case MethodGetFileInfo:
			var req GetFileInfoRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			inode, ok := c.GetFileInfo(req.Path)
			if !ok {
				return encode(GetFileInfoResponse{Found: false}), nil
			}
			return encode(GetFileInfoResponse{Found: true, Inode: toWireInode(inode)}), nil

		case MethodGetListing:
			var req GetListingRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			children, ok := c.GetListing(req.Path)
			resp := GetListingResponse{Found: ok}
			for _, ch := range children {
				resp.Entries = append(resp.Entries, toWireInode(ch))
			}
			return encode(resp), nil

		case MethodGetServerDefaults:
			d := c.GetServerDefaults()
			return encode(GetServerDefaultsResponse{
				TargetBlockSizeBytes: uint64(d.TargetBlockSize.Bytes()),
				ReplicationFactor:    d.ReplicationFactor,
				IOBufferSizeBytes:    uint64(d.IOBufferSize.Bytes()),
			}), nil

		case MethodIndexView:
			var req IndexViewRequest
			if err := decode(request, &req); err != nil {
				return nil, err
			}
			ids := make([]block.ID, len(req.BlockIDs))
			for i, v := range req.BlockIDs {
				ids[i] = block.ID(v)
			}
			entries := c.IndexView(ids)
			resp := IndexViewResponse{}
			for _, e := range entries {
				wire := WireIndexViewEntry{BlockID: e.BlockID, MinTS: e.MinTS, MaxTS: e.MaxTS, HasTime: e.HasTime}
				for _, s := range e.Spatial {
					wire.Spatial = append(wire.Spatial, WireGeohashEntry{Geohash: s.Geohash, Length: s.Length})
				}
				resp.Entries = append(resp.Entries, wire)
			}
			return encode(resp), nil

		case MethodInodePersist:
			return nil, c.InodePersist()

		default:
			return nil, fmt.Errorf("coordinatorrpc: unknown method %q", method)
		}
	}
}

func toWireInode(n *namespace.Inode) WireInode {
	return WireInode{
		ID:            n.ID,
		Name:          n.Name,
		IsDirectory:   n.Type == namespace.TypeDirectory,
		StoragePolicy: n.StoragePolicy,
		Replication:   n.Replication,
		BlockSize:     n.BlockSize,
		Blocks:        n.Blocks,
		Complete:      n.Complete,
	}
}

// Client wraps an rpcproto.Client with typed calls for every coordinator
// method.
type Client struct {
	rpc *rpcproto.Client
}

// Dial opens a Client connection to the coordinator at addr.
func Dial(addr string) (*Client, error) {
	rpc, err := rpcproto.Dial(addr)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc}, nil
}

func (c *Client) Close() error { return c.rpc.Close() }

func (c *Client) call(method string, req, resp interface{}) error {
	raw, err := c.rpc.Call(Protocol, method, encode(req))
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return decode(raw, resp)
}

func (c *Client) Mkdirs(path string, createParent bool) error {
	return c.call(MethodMkdirs, MkdirsRequest{Path: path, CreateParent: createParent}, nil)
}

func (c *Client) Create(path string, replication uint32, blockSize uint64, storagePolicy string) (uint64, error) {
	var resp CreateResponse
	err := c.call(MethodCreate, CreateRequest{Path: path, Replication: replication, BlockSize: blockSize, StoragePolicy: storagePolicy}, &resp)
	return resp.Inode, err
}

func (c *Client) Rename(src, dst string) error {
	return c.call(MethodRename, RenameRequest{Src: src, Dst: dst}, nil)
}

func (c *Client) SetStoragePolicy(path, policyStr string) error {
	return c.call(MethodSetStoragePolicy, SetStoragePolicyRequest{Path: path, Policy: policyStr}, nil)
}

func (c *Client) GetStoragePolicy(path string) (string, bool, error) {
	var resp GetStoragePolicyResponse
	err := c.call(MethodGetStoragePolicy, GetStoragePolicyRequest{Path: path}, &resp)
	return resp.Policy, resp.Found, err
}

func (c *Client) RenewLease(inode uint64) (bool, error) {
	var resp RenewLeaseResponse
	err := c.call(MethodRenewLease, RenewLeaseRequest{Inode: inode}, &resp)
	return resp.Renewed, err
}

func (c *Client) Complete(path string) error {
	return c.call(MethodComplete, CompleteRequest{Path: path}, nil)
}

func (c *Client) AddBlock(path, selfID string, indexed bool) (block.ID, []string, error) {
	var resp AddBlockResponse
	err := c.call(MethodAddBlock, AddBlockRequest{Path: path, SelfID: selfID, Indexed: indexed}, &resp)
	return block.ID(resp.BlockID), resp.Replicas, err
}

func (c *Client) GetIndexReplicas(selfID string, desiredCount int, idx recordindex.BlockIndex) ([]string, error) {
	var resp GetIndexReplicasResponse
	err := c.call(MethodGetIndexReplicas, GetIndexReplicasRequest{SelfID: selfID, DesiredCount: desiredCount, Index: idx}, &resp)
	return resp.Replicas, err
}

func (c *Client) BlockReport(id block.ID, gs, length uint64, nodeID, storageID string) error {
	return c.call(MethodBlockReport, BlockReportRequest{BlockID: uint64(id), GenerationStamp: gs, Length: length, NodeID: nodeID, StorageID: storageID}, nil)
}

func (c *Client) IndexReport(id block.ID, idx recordindex.BlockIndex) error {
	return c.call(MethodIndexReport, IndexReportRequest{BlockID: uint64(id), Index: idx}, nil)
}

func (c *Client) RegisterDatanode(address string) (string, error) {
	var resp RegisterDatanodeResponse
	err := c.call(MethodRegisterDatanode, RegisterDatanodeRequest{Address: address}, &resp)
	return resp.NodeID, err
}

func (c *Client) Heartbeat(nodeID, storageID string, capacity, used uint64) (bool, error) {
	var resp HeartbeatResponse
	err := c.call(MethodHeartbeat, HeartbeatRequest{NodeID: nodeID, StorageID: storageID, Capacity: capacity, Used: used}, &resp)
	return resp.Accepted, err
}

func (c *Client) GetBlockLocations(path, query string) (GetBlockLocationsResponse, error) {
	var resp GetBlockLocationsResponse
	err := c.call(MethodGetBlockLocations, GetBlockLocationsRequest{Path: path, Query: query}, &resp)
	return resp, err
}

func (c *Client) GetFileInfo(path string) (WireInode, bool, error) {
	var resp GetFileInfoResponse
	err := c.call(MethodGetFileInfo, GetFileInfoRequest{Path: path}, &resp)
	return resp.Inode, resp.Found, err
}

func (c *Client) GetListing(path string) ([]WireInode, bool, error) {
	var resp GetListingResponse
	err := c.call(MethodGetListing, GetListingRequest{Path: path}, &resp)
	return resp.Entries, resp.Found, err
}

func (c *Client) GetServerDefaults() (GetServerDefaultsResponse, error) {
	var resp GetServerDefaultsResponse
	err := c.call(MethodGetServerDefaults, struct{}{}, &resp)
	return resp, err
}

func (c *Client) IndexView(ids []block.ID) ([]WireIndexViewEntry, error) {
	req := IndexViewRequest{}
	for _, id := range ids {
		req.BlockIDs = append(req.BlockIDs, uint64(id))
	}
	var resp IndexViewResponse
	err := c.call(MethodIndexView, req, &resp)
	return resp.Entries, err
}

func (c *Client) InodePersist() error {
	return c.call(MethodInodePersist, struct{}{}, nil)
}
