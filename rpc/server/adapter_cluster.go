package server

import (
	"time"

	"github.com/guildkv/guildkv/lib/cluster"
	"github.com/guildkv/guildkv/lib/router"
	"github.com/guildkv/guildkv/lib/store"
	"github.com/guildkv/guildkv/rpc/common"
)

// NewClusterServerAdapter creates the adapter for node-to-node membership
// traffic: joins, heartbeats, view exchanges and cache invalidations.
func NewClusterServerAdapter(mgr *cluster.Manager, rt *router.Router) IRPCServerAdapter {
	return &clusterAdapterImpl{manager: mgr, router: rt}
}

type clusterAdapterImpl struct {
	manager *cluster.Manager
	router  *router.Router
}

func (adapter *clusterAdapterImpl) Handle(req *common.Message) *common.Message {
	switch req.MsgType {
	case common.MsgTJoin:
		if req.Sender == "" || req.SenderAddr == "" {
			return errResponse(store.NewError(store.KindMalformedRequest, "join: sender id and address are required"))
		}
		view := adapter.manager.OnJoin(cluster.Node{ID: req.Sender, Addr: req.SenderAddr})
		encoded, err := cluster.EncodeView(view)
		return common.NewJoinResponse(encoded, err)

	case common.MsgTHeartbeat:
		if req.Sender == "" {
			return errResponse(store.NewError(store.KindMalformedRequest, "heartbeat: sender id is required"))
		}
		digest := adapter.manager.OnHeartbeat(cluster.Heartbeat{
			SenderID:   req.Sender,
			SenderAddr: req.SenderAddr,
			Digest:     req.Digest,
			Timestamp:  time.UnixMilli(req.Timestamp),
		})
		return common.NewHeartbeatResponse(digest)

	case common.MsgTViewRequest:
		view := adapter.manager.OnViewRequest()
		encoded, err := cluster.EncodeView(view)
		return common.NewViewResponse(encoded, err)

	case common.MsgTInvalidate:
		if req.GuildID == "" {
			return errResponse(store.NewError(store.KindMalformedRequest, "invalidate: guild id is required"))
		}
		adapter.router.InvalidateLocal(req.GuildID)
		return common.NewInvalidateResponse()

	default:
		return errResponse(store.NewError(store.KindMalformedRequest,
			"cluster adapter: unsupported message type: %s", req.MsgType))
	}
}
