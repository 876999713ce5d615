package server

import (
	"fmt"

	"github.com/guildkv/guildkv/lib/router"
	"github.com/guildkv/guildkv/lib/store"
	"github.com/guildkv/guildkv/rpc/common"
)

// NewRecordsServerAdapter creates the adapter for the record API. All
// record operations go through the router, which decides between the local
// store and a forward to the owning node.
func NewRecordsServerAdapter(nodeID string, rt *router.Router) IRPCServerAdapter {
	return &recordsAdapterImpl{nodeID: nodeID, router: rt}
}

type recordsAdapterImpl struct {
	nodeID string
	router *router.Router
}

func (adapter *recordsAdapterImpl) Handle(req *common.Message) *common.Message {
	switch req.MsgType {
	case common.MsgTGet:
		if req.GuildID == "" {
			return errResponse(store.NewError(store.KindMalformedRequest, "get: guild id is required"))
		}
		res, err := adapter.router.Get(req.GuildID, req.Hops)
		if err != nil {
			return errResponse(err)
		}
		return common.NewGetResponse(res.Record, res.Found, res.Stale, nil)

	case common.MsgTPut:
		if req.GuildID == "" {
			return errResponse(store.NewError(store.KindMalformedRequest, "put: guild id is required"))
		}
		rec, err := adapter.router.Put(req.GuildID, req.Payload, req.Hops)
		if err != nil {
			return errResponse(err)
		}
		return common.NewPutResponse(rec, nil)

	case common.MsgTDelete:
		if req.GuildID == "" {
			return errResponse(store.NewError(store.KindMalformedRequest, "delete: guild id is required"))
		}
		if err := adapter.router.Delete(req.GuildID, req.Hops); err != nil {
			return errResponse(err)
		}
		return common.NewDeleteResponse(nil)

	case common.MsgTPing:
		return common.NewPingResponse(adapter.nodeID)

	default:
		return errResponse(store.NewError(store.KindMalformedRequest,
			"records adapter: unsupported message type: %s", req.MsgType))
	}
}

// errResponse converts an error into an error message, preserving the
// stable kind for the client side.
func errResponse(err error) *common.Message {
	return common.NewErrorResponse(store.KindOf(err), fmt.Sprintf("%v", err))
}
