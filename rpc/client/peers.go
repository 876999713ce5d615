package client

import (
	"sync"

	"github.com/guildkv/guildkv/lib/cluster"
	"github.com/guildkv/guildkv/lib/store"
	"github.com/guildkv/guildkv/rpc/common"
	"github.com/guildkv/guildkv/rpc/serializer"
	"github.com/guildkv/guildkv/rpc/transport"
)

// TransportFactory creates a fresh client transport. The peer pool needs
// one transport per peer because a transport is bound to its endpoints at
// Connect time.
type TransportFactory func() transport.IRPCClientTransport

// PeerPool maintains one lazily dialed RPC client per peer address. It
// implements both the membership gateway (join, heartbeat, view exchange)
// and the request forwarder (get, put, delete, cache invalidation), so the
// cluster manager and the router share connections to a peer.
type PeerPool struct {
	selfID     string
	factory    TransportFactory
	serializer serializer.IRPCSerializer
	config     common.ClientConfig

	mu    sync.Mutex
	peers map[string]transport.IRPCClientTransport
}

// interface conformance
var (
	_ cluster.PeerGateway = (*PeerPool)(nil)
)

// NewPeerPool creates a peer pool. The config's Endpoints field is ignored;
// timeouts and retry counts apply per peer.
func NewPeerPool(selfID string, factory TransportFactory, ser serializer.IRPCSerializer, config common.ClientConfig) *PeerPool {
	return &PeerPool{
		selfID:     selfID,
		factory:    factory,
		serializer: ser,
		config:     config,
		peers:      make(map[string]transport.IRPCClientTransport),
	}
}

// --------------------------------------------------------------------------
// cluster.PeerGateway
// --------------------------------------------------------------------------

func (p *PeerPool) Join(addr string, self cluster.Node) (*cluster.View, error) {
	resp, err := p.invoke(addr, common.NewJoinRequest(self.ID, self.Addr))
	if err != nil {
		return nil, err
	}
	return cluster.DecodeView(resp.View)
}

func (p *PeerPool) SendHeartbeat(addr string, hb cluster.Heartbeat) (string, error) {
	resp, err := p.invoke(addr, common.NewHeartbeatRequest(hb.SenderID, hb.SenderAddr, hb.Digest, hb.Timestamp.UnixMilli()))
	if err != nil {
		return "", err
	}
	return resp.Digest, nil
}

func (p *PeerPool) FetchView(addr string) (*cluster.View, error) {
	resp, err := p.invoke(addr, common.NewViewRequest(p.selfID))
	if err != nil {
		return nil, err
	}
	return cluster.DecodeView(resp.View)
}

// --------------------------------------------------------------------------
// router.Forwarder
// --------------------------------------------------------------------------

func (p *PeerPool) ForwardGet(addr, guildID string, hops int) (store.Record, bool, error) {
	resp, err := p.invoke(addr, common.NewGetRequest(guildID, hops))
	if err != nil {
		return store.Record{}, false, err
	}
	return recordFromMessage(resp), resp.Ok, nil
}

func (p *PeerPool) ForwardPut(addr, guildID string, payload []byte, hops int) (store.Record, error) {
	resp, err := p.invoke(addr, common.NewPutRequest(guildID, payload, hops))
	if err != nil {
		return store.Record{}, err
	}
	return recordFromMessage(resp), nil
}

func (p *PeerPool) ForwardDelete(addr, guildID string, hops int) error {
	_, err := p.invoke(addr, common.NewDeleteRequest(guildID, hops))
	return err
}

func (p *PeerPool) Invalidate(addr, guildID string) error {
	_, err := p.invoke(addr, common.NewInvalidateRequest(guildID, p.selfID))
	return err
}

// --------------------------------------------------------------------------
// Pool management
// --------------------------------------------------------------------------

// Remove drops the client for a departed peer and closes its connections.
func (p *PeerPool) Remove(addr string) {
	p.mu.Lock()
	tr, ok := p.peers[addr]
	delete(p.peers, addr)
	p.mu.Unlock()

	if ok {
		if err := tr.Close(); err != nil {
			Logger.Warnf("Failed to close connection to %s: %v", addr, err)
		}
	}
}

// Close closes all pooled clients.
func (p *PeerPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for addr, tr := range p.peers {
		if err := tr.Close(); err != nil {
			Logger.Warnf("Failed to close connection to %s: %v", addr, err)
		}
		delete(p.peers, addr)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// invoke sends one request to the given peer, dialing it on first use.
func (p *PeerPool) invoke(addr string, req *common.Message) (*common.Message, error) {
	tr, err := p.transportFor(addr)
	if err != nil {
		return nil, err
	}
	return invokeRPCRequest(req, tr, p.serializer)
}

func (p *PeerPool) transportFor(addr string) (transport.IRPCClientTransport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tr, ok := p.peers[addr]; ok {
		return tr, nil
	}

	cfg := p.config
	cfg.Endpoints = []string{addr}

	tr := p.factory()
	if err := tr.Connect(cfg); err != nil {
		return nil, err
	}
	p.peers[addr] = tr
	return tr, nil
}
