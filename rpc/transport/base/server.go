package base

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexanderwatt/corecache/rpc/common"
	"github.com/alexanderwatt/corecache/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverConnection wraps one accepted connection. All frame writes for the
// connection (responses and pushes) go through writeMu so they never
// interleave on the wire.
type serverConnection struct {
	id      uint64
	conn    net.Conn
	writeMu sync.Mutex
	timeout time.Duration
}

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector    IServerConnector
	handler      transport.ServerHandleFunc
	closeHandler transport.CloseHandleFunc
	config       common.ServerConfig
	listener     net.Listener
	bufferPool   *sync.Pool
	bufferSize   int
	nextConnID   atomic.Uint64
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with the given
// connector and read buffer size
func NewBaseServerTransport(connector IServerConnector, bufferSize int) transport.IRPCServerTransport {
	return &serverTransport{
		connector:  connector,
		bufferSize: bufferSize,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) RegisterCloseHandler(handler transport.CloseHandleFunc) {
	t.closeHandler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	t.listener = listener

	Logger.Infof("Starting %s server on %s", t.connector.GetName(), config.Endpoint)

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		// Handle the connection in a goroutine
		go t.handleConnection(conn)
	}
}

// --------------------------------------------------------------------------
// serverConnection Methods (docu see transport.IServerConnection)
// --------------------------------------------------------------------------

func (c *serverConnection) ID() uint64 {
	return c.id
}

func (c *serverConnection) Push(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}

	// Request ID zero marks the frame as unsolicited
	return writeFrame(c.conn, 0, 0, data)
}

// writeResponse writes a reply frame for the given request id
func (c *serverConnection) writeResponse(channel, requestID uint64, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}

	return writeFrame(c.conn, channel, requestID, data)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection handles incoming requests for one connection
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer conn.Close()

	sc := &serverConnection{
		id:      t.nextConnID.Add(1),
		conn:    conn,
		timeout: time.Duration(t.config.TimeoutSecond) * time.Second,
	}

	Logger.Debugf("Accepted connection %d from %v", sc.id, conn.RemoteAddr())

	// Create a wait group to wait for all workers to finish
	var wg sync.WaitGroup

	// Handler function that processes one request in a worker goroutine
	handleResponse := func(channel, requestID uint64, data []byte) {
		defer wg.Done()

		// Process the request
		start := time.Now()
		resp := t.handler(sc, channel, data)
		Logger.Debugf("Processed request %d on channel %d took %s", requestID, channel, time.Since(start))

		// Write the response with the same requestID
		if err := sc.writeResponse(channel, requestID, resp); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
		}
	}

	// Function to handle incoming requests
	handleRequest := func() error {
		// Get a buffer from the pool
		buf := t.bufferPool.Get().([]byte)

		// Read the frame with requestID
		channel, requestID, data, err := readFrame(conn, buf)

		// Error reading frame
		if err != nil {
			t.bufferPool.Put(buf)
			return err
		}

		// Increment the wait group counter
		wg.Add(1)

		// Process in a goroutine
		go func() {
			defer t.bufferPool.Put(buf)
			handleResponse(channel, requestID, data)
		}()

		return nil
	}

	// Handle requests in a loop
	for {
		// Handle request
		err := handleRequest()

		// Case EOF: Connection closed by client
		if err == io.EOF {
			Logger.Infof("Connection %d closed by client", sc.id)
			break
		}

		// Case error: log and close connection
		if err != nil {
			Logger.Errorf("Error handling request on connection %d: %v", sc.id, err)
			break
		}
	}

	// Wait for all workers to finish before closing the connection
	// This ensures we don't lose any in-progress work
	wg.Wait()

	// Let the server drop per-connection state (e.g. subscriptions)
	if t.closeHandler != nil {
		t.closeHandler(sc.id)
	}
}
