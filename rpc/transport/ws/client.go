package ws

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/guildkv/guildkv/rpc/common"
	"github.com/guildkv/guildkv/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// wsConnection represents a single WebSocket connection
type wsConnection struct {
	conn         *websocket.Conn
	endpoint     string
	stopCh       chan struct{}
	requestChans *xsync.MapOf[uint64, chan responseResult]
	writeMu      sync.Mutex
	parent       *clientTransport
}

// clientTransport implements IRPCClientTransport over WebSocket
type clientTransport struct {
	config        common.ClientConfig
	connections   []*wsConnection
	connectionsMu sync.RWMutex
	nextConnIndex uint64
	nextRequestID uint64
}

// NewWSClientTransport creates a new WebSocket client transport
func NewWSClientTransport() transport.IRPCClientTransport {
	return &clientTransport{nextRequestID: 1}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	t.config = config
	t.closeConnections()

	for _, endpoint := range config.Endpoints {
		wsConn := &wsConnection{
			endpoint:     endpoint,
			stopCh:       make(chan struct{}),
			requestChans: xsync.NewMapOf[uint64, chan responseResult](),
			parent:       t,
		}

		if err := wsConn.reconnect(); err != nil {
			Logger.Warnf("Failed to connect to %s: %v", endpoint, err)
			continue
		}

		t.connectionsMu.Lock()
		t.connections = append(t.connections, wsConn)
		t.connectionsMu.Unlock()

		go wsConn.readResponses()
	}

	t.connectionsMu.RLock()
	connected := len(t.connections)
	t.connectionsMu.RUnlock()

	if connected == 0 {
		return fmt.Errorf("failed to connect to any endpoint")
	}

	Logger.Infof("Connected to %d of %d endpoints using ws transport", connected, len(config.Endpoints))
	return nil
}

func (t *clientTransport) Send(req []byte) ([]byte, error) {
	attempt := func() ([]byte, error) {
		conn := t.getNextConnection()
		if conn == nil {
			return nil, backoff.Permanent(fmt.Errorf("no active connections available"))
		}
		return t.sendOn(conn, req)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	maxRetries := t.config.RetryCount
	if maxRetries < 0 {
		maxRetries = 0
	}

	return backoff.RetryWithData(attempt, backoff.WithMaxRetries(policy, uint64(maxRetries)))
}

func (t *clientTransport) Close() error {
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *clientTransport) sendOn(connection *wsConnection, req []byte) ([]byte, error) {
	requestID := atomic.AddUint64(&t.nextRequestID, 1)

	respCh := make(chan responseResult, 1)
	connection.requestChans.Store(requestID, respCh)
	defer connection.requestChans.Delete(requestID)

	frame := make([]byte, 8+len(req))
	binary.BigEndian.PutUint64(frame[:8], requestID)
	copy(frame[8:], req)

	timeout := time.Duration(t.config.TimeoutSecond) * time.Second
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	connection.writeMu.Lock()
	err := connection.conn.Write(ctx, websocket.MessageBinary, frame)
	connection.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-ctx.Done():
		return nil, fmt.Errorf("request timed out")
	}
}

func (t *clientTransport) getNextConnection() *wsConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	if len(t.connections) == 0 {
		return nil
	}
	index := atomic.AddUint64(&t.nextConnIndex, 1) % uint64(len(t.connections))
	return t.connections[index]
}

func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	defer t.connectionsMu.Unlock()

	for _, conn := range t.connections {
		close(conn.stopCh)
		if conn.conn != nil {
			conn.conn.Close(websocket.StatusNormalClosure, "client shutdown")
		}
	}
	t.connections = nil
}

// readResponses reads messages in a loop and routes them to waiting requests
func (c *wsConnection) readResponses() {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			Logger.Debugf("Read error on connection to %s: %v", c.endpoint, err)
			if err := c.reconnect(); err != nil {
				Logger.Errorf("Failed to reconnect to %s: %v", c.endpoint, err)
				return
			}
			continue
		}
		if len(data) < 8 {
			Logger.Warnf("Dropping malformed response (%d bytes)", len(data))
			continue
		}

		requestID := frameRequestID(data)
		if respCh, found := c.requestChans.Load(requestID); found {
			respCh <- responseResult{data[8:], nil}
		} else {
			Logger.Warnf("Received response for unknown request ID %d", requestID)
		}
	}
}

// reconnect establishes or restores the WebSocket connection
func (c *wsConnection) reconnect() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn != nil {
		c.conn.CloseNow()
		c.conn = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, endpointURL(c.endpoint), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %v", c.endpoint, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.conn = conn
	return nil
}

// endpointURL normalizes a configured endpoint into a WebSocket URL. Bare
// host:port endpoints get the ws scheme and the RPC path appended.
func endpointURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" {
		return "ws://" + endpoint + rpcPath
	}
	if u.Path == "" {
		u.Path = rpcPath
	}
	return u.String()
}
