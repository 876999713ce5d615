package server

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/guildkv/guildkv/lib/cache"
	"github.com/guildkv/guildkv/lib/cluster"
	"github.com/guildkv/guildkv/lib/logger"
	"github.com/guildkv/guildkv/lib/router"
	"github.com/guildkv/guildkv/lib/store"
	"github.com/guildkv/guildkv/lib/store/bstore"
	"github.com/guildkv/guildkv/rpc/client"
	"github.com/guildkv/guildkv/rpc/common"
	"github.com/guildkv/guildkv/rpc/serializer"
	"github.com/guildkv/guildkv/rpc/transport"
	"github.com/guildkv/guildkv/rpc/transport/tcp"
	"github.com/guildkv/guildkv/rpc/transport/unix"
	"github.com/guildkv/guildkv/rpc/transport/ws"
)

var Logger = logger.GetLogger("rpc")

// peerRetryCount is the retry budget for node-to-node requests. Forwarded
// requests get a single attempt: retrying into a struggling peer only adds
// load, and the caller maps the failure to an owner-unavailable error.
const peerRetryCount = 0

// NewRPCServer creates a new storage node server.
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
	}
}

// RPCServer wires one node's store, replica cache, membership manager and
// router behind a message transport.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer

	store   store.IRecordStore
	cache   *cache.Cache
	manager *cluster.Manager
	pool    *client.PeerPool

	records  IRPCServerAdapter
	clusterA IRPCServerAdapter

	health *healthServer
}

// Serve initializes the node and blocks serving requests until Stop is
// called.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Stop shuts the node down: transport first so no new requests arrive,
// then membership, cache, peer connections and finally the store.
func (s *RPCServer) Stop() error {
	if err := s.transport.Close(); err != nil {
		Logger.Warnf("Failed to close transport: %v", err)
	}
	if s.health != nil {
		s.health.Close()
	}
	if s.manager != nil {
		s.manager.Stop()
	}
	if s.cache != nil {
		s.cache.Stop()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Setup
// --------------------------------------------------------------------------

func (s *RPCServer) init() error {
	logger.SetLevel(s.config.LogLevel)

	Logger.Infof("Starting node %s", s.config.NodeID)
	Logger.Infof(s.config.String())

	// Persistent record store
	st, err := bstore.Open(s.config.DataDir, s.config.NodeID)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	s.store = st

	// Replica cache with background TTL sweep
	clock := clockwork.NewRealClock()
	cacheTTL := s.config.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	sweepInterval := s.config.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	s.cache = cache.New(cacheTTL, clock)
	go s.cache.Run(sweepInterval)

	// Peer connections, shared by membership and request forwarding
	s.pool = client.NewPeerPool(
		s.config.NodeID,
		clientTransportFactory(s.config.Transport),
		s.serializer,
		common.ClientConfig{
			TimeoutSecond: int(s.config.TimeoutSecond),
			RetryCount:    peerRetryCount,
		},
	)

	// Membership manager
	seeds := s.config.Seeds
	if !s.config.ClusterMode {
		seeds = nil
	}
	s.manager = cluster.NewManager(cluster.Config{
		NodeID:            s.config.NodeID,
		AdvertiseAddr:     s.config.AdvertiseAddr,
		Seeds:             seeds,
		VirtualNodes:      s.config.VirtualNodes,
		HeartbeatInterval: s.config.HeartbeatInterval,
		HeartbeatTimeout:  s.config.HeartbeatTimeout,
		SuspicionTimeout:  s.config.SuspicionTimeout,
		RebuildInterval:   s.config.RebuildInterval,
	}, s.pool, clock)

	// A departed node's cached records must not outlive it, and its
	// connections are useless now.
	s.manager.Subscribe(func(ev cluster.Event) {
		if ev.Type == cluster.NodeLeft {
			s.cache.InvalidateOwner(ev.Node.ID)
			s.pool.Remove(ev.Node.Addr)
		}
	})

	// Request router and the two adapters
	rt := router.New(s.config.NodeID, s.manager, s.store, s.cache, s.pool)
	s.records = NewRecordsServerAdapter(s.config.NodeID, rt)
	s.clusterA = NewClusterServerAdapter(s.manager, rt)

	s.registerTransportHandler()
	s.manager.Start()

	if s.config.HealthEndpoint != "" {
		s.health = newHealthServer(s.config.HealthEndpoint, s.store, s.manager)
		s.health.Start()
	}

	Logger.Infof("Node %s setup completed successfully", s.config.NodeID)
	return nil
}

// registerTransportHandler routes decoded messages to the record or the
// cluster adapter.
func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = errResponse(store.NewError(store.KindMalformedRequest,
				"failed to deserialize request: %v", err))
		} else {
			respMsg = s.dispatch(&msg)
		}

		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			// The fallback error response contains no payload and always
			// serializes.
			val, _ = s.serializer.Serialize(*errResponse(store.NewError(store.KindInternal,
				"failed to serialize response: %v", err)))
		}
		return val
	})
}

func (s *RPCServer) dispatch(msg *common.Message) *common.Message {
	switch msg.MsgType {
	case common.MsgTGet, common.MsgTPut, common.MsgTDelete, common.MsgTPing:
		return s.records.Handle(msg)
	case common.MsgTJoin, common.MsgTHeartbeat, common.MsgTViewRequest, common.MsgTInvalidate:
		return s.clusterA.Handle(msg)
	default:
		return errResponse(store.NewError(store.KindMalformedRequest,
			"unsupported message type: %s", msg.MsgType))
	}
}

// clientTransportFactory returns the factory matching the configured
// transport name, for dialing peers over the same protocol this node
// listens on.
func clientTransportFactory(name string) client.TransportFactory {
	switch name {
	case "unix":
		return unix.NewUnixClientTransport
	case "ws":
		return ws.NewWSClientTransport
	default:
		return tcp.NewTCPClientTransport
	}
}

// NewServerTransport returns the server transport matching the configured
// transport name.
func NewServerTransport(name string) (transport.IRPCServerTransport, error) {
	switch name {
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	case "ws":
		return ws.NewWSServerTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport: %s (expected tcp, unix or ws)", name)
	}
}

// timeoutOrDefault returns a sane request timeout for contexts that need
// one.
func timeoutOrDefault(seconds int64) time.Duration {
	if seconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(seconds) * time.Second
}
