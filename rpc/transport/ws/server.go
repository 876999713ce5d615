package ws

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/guildkv/guildkv/lib/logger"
	"github.com/guildkv/guildkv/rpc/common"
	"github.com/guildkv/guildkv/rpc/transport"
)

var Logger = logger.GetLogger("transport")

const (
	// rpcPath is the HTTP path the WebSocket endpoint is served on
	rpcPath = "/rpc"
	// maxMessageSize bounds a single request or response message
	maxMessageSize = 16 * 1024 * 1024
)

// serverTransport implements IRPCServerTransport over WebSocket. Unlike the
// stream transports it does not share the base package: WebSocket already
// provides message framing, so a frame is just an 8-byte requestID followed
// by the serialized message.
type serverTransport struct {
	handler    transport.ServerHandleFunc
	httpServer *http.Server
	listener   net.Listener
	stopping   atomic.Bool
}

// NewWSServerTransport creates a new WebSocket server transport
func NewWSServerTransport() transport.IRPCServerTransport {
	return &serverTransport{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	t.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(rpcPath, t.handleSocket)
	t.httpServer = &http.Server{Handler: mux}

	Logger.Infof("Starting ws server on %s%s", config.Endpoint, rpcPath)

	if err := t.httpServer.Serve(listener); err != nil {
		if t.stopping.Load() {
			return nil
		}
		return err
	}
	return nil
}

func (t *serverTransport) Close() error {
	t.stopping.Store(true)
	if t.httpServer != nil {
		return t.httpServer.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleSocket upgrades one HTTP request to a WebSocket and serves it until
// the peer disconnects. Messages are processed strictly in arrival order,
// matching the stream transports' per-connection ordering.
func (t *serverTransport) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // cross-origin browser access is not a concern for node RPC
	})
	if err != nil {
		Logger.Errorf("WebSocket accept failed: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageSize)

	ctx := r.Context()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			Logger.Debugf("Connection closed: %v", err)
			return
		}
		if msgType != websocket.MessageBinary || len(data) < 8 {
			Logger.Warnf("Dropping malformed message (type %v, %d bytes)", msgType, len(data))
			conn.Close(websocket.StatusUnsupportedData, "expected binary frame with request id")
			return
		}

		requestID := data[:8]
		resp := t.handler(data[8:])

		out := make([]byte, 8+len(resp))
		copy(out[:8], requestID)
		copy(out[8:], resp)

		if err := conn.Write(ctx, websocket.MessageBinary, out); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
			return
		}
	}
}

// frameRequestID extracts the request ID from a raw frame
func frameRequestID(frame []byte) uint64 {
	return binary.BigEndian.Uint64(frame[:8])
}
