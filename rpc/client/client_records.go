package client

import (
	"github.com/guildkv/guildkv/lib/store"
	"github.com/guildkv/guildkv/rpc/common"
	"github.com/guildkv/guildkv/rpc/serializer"
	"github.com/guildkv/guildkv/rpc/transport"
)

// NewCluster creates a typed client for the record API of a storage
// cluster. Any node can be used as the entry point: requests for guilds the
// node does not own are forwarded to the owner internally.
func NewCluster(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Cluster, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &Cluster{
		rpcClientAdapter{
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

// Cluster is the client-side handle to the record API
type Cluster struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Record API
// --------------------------------------------------------------------------

// Get fetches the record of a guild. The stale flag reports that the value
// was served from a replica cache while the owning node was unreachable.
func (c *Cluster) Get(guildID string) (rec store.Record, found, stale bool, err error) {
	req := common.NewGetRequest(guildID, 0)
	resp, err := invokeRPCRequest(req, c.transport, c.serializer)
	if err != nil {
		return store.Record{}, false, false, err
	}
	return recordFromMessage(resp), resp.Ok, resp.Stale, nil
}

// Put stores the record of a guild and returns the stored version.
func (c *Cluster) Put(guildID string, payload []byte) (store.Record, error) {
	req := common.NewPutRequest(guildID, payload, 0)
	resp, err := invokeRPCRequest(req, c.transport, c.serializer)
	if err != nil {
		return store.Record{}, err
	}
	return recordFromMessage(resp), nil
}

// Delete removes the record of a guild. Deleting an absent record succeeds.
func (c *Cluster) Delete(guildID string) error {
	req := common.NewDeleteRequest(guildID, 0)
	_, err := invokeRPCRequest(req, c.transport, c.serializer)
	return err
}

// Ping checks liveness of the connected node and returns its node ID.
func (c *Cluster) Ping() (string, error) {
	req := common.NewPingRequest()
	resp, err := invokeRPCRequest(req, c.transport, c.serializer)
	if err != nil {
		return "", err
	}
	return resp.Sender, nil
}

// Close closes the underlying transport.
func (c *Cluster) Close() error {
	return c.transport.Close()
}
