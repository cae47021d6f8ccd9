package server

import (
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/lib/store/dstore"
	"github.com/alexanderwatt/corecache/lib/store/mstore"
	"github.com/alexanderwatt/corecache/lib/subs"
	"github.com/alexanderwatt/corecache/rpc/common"
	"github.com/alexanderwatt/corecache/rpc/serializer"
	"github.com/alexanderwatt/corecache/rpc/transport"
)

var Logger = logger.GetLogger("rpc")

// serverChannel is a struct that represents one served channel in the RPC
// server. It contains the item store it encapsulates and the subscription
// manager fed by that store's change stream.
type serverChannel struct {
	Store store.IItemStore
	Subs  subs.ISubscriptionManager
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPDefaultServerTransport(),
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
) rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	// Create channels map
	channelMap := xsync.NewMapOf[uint64, serverChannel]()

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	// Create the RPC server
	return rpcServer{
		config:       config,
		transport:    transport,
		serializer:   serializer,
		channels:     channelMap,
		storeAdapter: NewItemStoreServerAdapter(),
		subsAdapter:  NewSubscriptionServerAdapter(),
		connSubs:     make(map[uint64]map[uuid.UUID]uint64),
	}
}

type rpcServer struct {
	config       common.ServerConfig
	transport    transport.IRPCServerTransport
	serializer   serializer.IRPCSerializer
	channels     *xsync.MapOf[uint64, serverChannel]
	storeAdapter IRPCServerAdapter
	subsAdapter  IRPCServerAdapter

	// connSubs maps connection id to the subscriptions created on it, each
	// with the channel it lives on. Used to cancel subscriptions when
	// their connection goes away.
	connSubsMu sync.Mutex
	connSubs   map[uint64]map[uuid.UUID]uint64
}

// registerTransportHandler wires the request and close handlers into the
// transport layer.
func (s *rpcServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(conn transport.IServerConnection, channelId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg common.Message

		// Get appropriate channel
		channel, ok := s.channels.Load(channelId)

		// Case channel does not exist -> error
		if !ok {
			respMsg = *common.NewCompletionResult(common.SessionHeader{}, 0, 0,
				store.NewError(store.RetCNotFound, fmt.Sprintf("channel %d not found", channelId)))
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			// A request that does not deserialize carries no usable header.
			// Answer with a bare error instead of faulting the connection.
			respMsg = *common.NewCompletionResult(common.SessionHeader{}, 0, 0,
				store.NewError(store.RetCInternalError, fmt.Sprintf("failed to deserialize request: %s", err)))
		} else {
			// Let the appropriate adapter handle the request
			respMsg = *s.dispatch(conn, channelId, channel, &msg)
		}

		// Return result
		val, err := s.serializer.Serialize(respMsg)
		if err != nil {
			Logger.Errorf("Failed to serialize response: %v", err)
			return nil
		}
		return val
	})

	s.transport.RegisterCloseHandler(func(connID uint64) {
		s.dropConnection(connID)
	})
}

// dispatch routes one request to the store or subscription adapter and
// tracks subscription ownership per connection.
func (s *rpcServer) dispatch(conn transport.IServerConnection, channelId uint64, channel serverChannel, msg *common.Message) *common.Message {
	ctx := AdapterContext{
		Store: channel.Store,
		Subs:  channel.Subs,
		Conn:  conn,
		Push: func(m *common.Message) error {
			data, err := s.serializer.Serialize(*m)
			if err != nil {
				return err
			}
			return conn.Push(data)
		},
	}

	switch msg.MsgType {
	case common.MsgTCreateSubscription, common.MsgTExtendSubscription, common.MsgTCancelSubscription:
		resp := s.subsAdapter.Handle(msg, ctx)

		// Keep the per-connection subscription index current
		if resp.Success {
			switch msg.MsgType {
			case common.MsgTCreateSubscription:
				s.trackSubscription(conn.ID(), msg.SubscriptionId, channelId)
			case common.MsgTCancelSubscription:
				s.untrackSubscription(conn.ID(), msg.SubscriptionId)
			}
		}
		return resp

	default:
		return s.storeAdapter.Handle(msg, ctx)
	}
}

// --------------------------------------------------------------------------
// Per-connection subscription tracking
// --------------------------------------------------------------------------

func (s *rpcServer) trackSubscription(connID uint64, subId uuid.UUID, channelId uint64) {
	s.connSubsMu.Lock()
	defer s.connSubsMu.Unlock()

	m, ok := s.connSubs[connID]
	if !ok {
		m = make(map[uuid.UUID]uint64)
		s.connSubs[connID] = m
	}
	m[subId] = channelId
}

func (s *rpcServer) untrackSubscription(connID uint64, subId uuid.UUID) {
	s.connSubsMu.Lock()
	defer s.connSubsMu.Unlock()

	delete(s.connSubs[connID], subId)
}

// dropConnection cancels every subscription created on a closed connection.
func (s *rpcServer) dropConnection(connID uint64) {
	s.connSubsMu.Lock()
	subscriptions := s.connSubs[connID]
	delete(s.connSubs, connID)
	s.connSubsMu.Unlock()

	for subId, channelId := range subscriptions {
		if channel, ok := s.channels.Load(channelId); ok {
			if err := channel.Subs.Cancel(subId); err != nil {
				Logger.Debugf("Failed to cancel subscription %s of closed connection %d: %v", subId, connID, err)
			}
		}
	}

	if len(subscriptions) > 0 {
		Logger.Infof("Cancelled %d subscriptions of closed connection %d", len(subscriptions), connID)
	}
}

// --------------------------------------------------------------------------
// Initialization
// --------------------------------------------------------------------------

func (s *rpcServer) init() error {

	// Init logger
	common.InitLoggers(s.config.LogLevel)

	// Configure the subscription manager options
	subsOpts := &subs.Options{}
	if s.config.SweepIntervalSecond > 0 {
		subsOpts.SweepInterval = time.Duration(s.config.SweepIntervalSecond) * time.Second
	}

	// Create the subscription manager first: for a replicated store its
	// change handler has to be wired into the state machine factory
	manager := subs.NewManager(subsOpts)

	// CREATE THE SERVED CHANNEL

	/*
		Note: The server serves one channel, identified by the configured
		shard ID (zero in local mode). The channel is either backed by a
		plain in-memory store or by a raft-replicated store, depending on
		the configured mode. The channel id travels in every frame, so a
		multi-channel deployment only needs additional entries here.
	*/

	if s.config.IsReplicated() {
		// Create the Dragonboat NodeHost
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}

		// Start Raft for the shard, feeding committed revisions into the
		// subscription manager on this replica
		if err := nodeHost.StartConcurrentReplica(
			s.config.ClusterMembers,
			false,
			dstore.CreateStateMachineFactory(manager.OnItemChanged),
			s.config.ToDragonboatConfig(s.config.ShardID),
		); err != nil {
			return fmt.Errorf("failed to start shard %v: %v", s.config.ShardID, err)
		}

		// Configure the timeout for the distributed store
		timeout := time.Duration(s.config.TimeoutSecond) * time.Second

		s.channels.Store(s.config.ShardID, serverChannel{
			Store: dstore.NewDistributedStore(nodeHost, s.config.ShardID, timeout),
			Subs:  manager,
		})
		Logger.Infof("created replicated item store for channel %d", s.config.ShardID)
	} else {
		itemStore := mstore.NewMemoryStore(nil)
		itemStore.SetWatcher(manager.OnItemChanged)

		s.channels.Store(uint64(0), serverChannel{
			Store: itemStore,
			Subs:  manager,
		})
		Logger.Infof("created local item store for channel 0")
	}

	// Start the Prometheus metrics endpoint if configured
	if s.config.MetricsEndpoint != "" {
		go serveMetrics(s.config.MetricsEndpoint)
	}

	Logger.Infof("cache server setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the served store and start the transport layer
func (s *rpcServer) Serve() error {
	err := s.init()
	if err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// serveMetrics exposes all registered metrics in Prometheus text format.
func serveMetrics(endpoint string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	Logger.Infof("Starting metrics endpoint on %s", endpoint)
	if err := http.ListenAndServe(endpoint, mux); err != nil {
		Logger.Errorf("Metrics endpoint failed: %v", err)
	}
}
