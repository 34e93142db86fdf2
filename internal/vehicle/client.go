package vehicle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for vpd communication.
const (
	// protocolVersion is the vpd session protocol version this client speaks.
	protocolVersion byte = 0x01

	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the timeout for individual read operations.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultRequestTimeout is how long a request waits for its result frame.
	defaultRequestTimeout = 5 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection attempts.
	maxReconnectInterval = 2 * time.Minute

	// readBufferSize is the size of the read buffer for incoming frames.
	// Must hold a full config table response.
	readBufferSize = 2048

	// callbackQueueSize is the buffer size for the event callback queue.
	callbackQueueSize = 128

	// callbackWorkerCount is the number of event callback workers.
	// A single worker keeps events in arrival order, so a context change
	// is always delivered before the volume changes that follow it.
	callbackWorkerCount = 1
)

// Config holds vpd connection configuration.
type Config struct {
	// Connection is the vpd connection URL.
	// Supported formats:
	//   - "unix:///run/vpd" (Unix socket)
	//   - "tcp://localhost:9270" (TCP)
	Connection string

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the timeout for read operations.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// RequestTimeout is how long to wait for a request's result frame.
	// Default: 5 seconds.
	RequestTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration
}

// Stats holds operational statistics.
type Stats struct {
	CommandsTx      uint64
	EventsRx        uint64
	EventsDropped   uint64 // Events dropped due to full callback queue
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool // True if currently attempting to reconnect
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector interface for testability.
// This allows mocking the vpd client in tests.
type Connector interface {
	Get(ctx context.Context, prop uint32, area int32) (PropertyValue, error)
	Set(ctx context.Context, value PropertyValue) error
	Subscribe(ctx context.Context, prop uint32) error
	ListConfigs(ctx context.Context) ([]PropertyConfig, error)
	SetOnEvent(callback func(PropertyValue))
	IsConnected() bool
	Stats() Stats
	Close() error
}

// Ensure Client implements Connector.
var _ Connector = (*Client)(nil)

// response is a routed answer to an in-flight request.
type response struct {
	msgType uint16
	body    []byte // payload after the request id
}

// Client provides connection to the vehicle property daemon.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Event callbacks are invoked from a dedicated worker goroutine.
//
// Auto-Reconnection:
//   - When the connection is lost, the client automatically attempts to reconnect.
//   - Uses exponential backoff starting at ReconnectInterval (default 5s) up to maxReconnectInterval (2min).
//   - Property subscriptions are re-established after each successful reconnect.
//   - Reconnection stops only when Close() is called.
type Client struct {
	cfg  Config
	conn net.Conn

	// Connection state
	connMu    sync.RWMutex
	connected bool

	// Reconnection state
	reconnecting   atomic.Bool  // True while reconnection is in progress
	reconnectCount atomic.Int32 // Number of consecutive reconnection attempts

	// In-flight requests awaiting their result frame
	nextReqID atomic.Uint32
	pendingMu sync.Mutex
	pending   map[uint32]chan response

	// Active property subscriptions (replayed after reconnect)
	subsMu sync.Mutex
	subs   map[uint32]struct{}

	// Event handler callback
	onEvent    func(PropertyValue)
	callbackMu sync.RWMutex

	// Callback worker queue (bounded goroutine spawning)
	callbackQueue chan PropertyValue

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	commandsTx      atomic.Uint64
	eventsRx        atomic.Uint64
	eventsDropped   atomic.Uint64 // Events dropped due to full queue
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64 // Successful reconnections
	lastActivity    atomic.Int64  // Unix timestamp
}

// Connect establishes connection to the vehicle property daemon.
//
// The connection URL determines the transport:
//   - "unix:///run/vpd" → Unix socket
//   - "tcp://localhost:9270" → TCP socket
//
// After connecting, it opens a property session and starts a goroutine
// to receive incoming frames.
//
// Parameters:
//   - ctx: Context for cancellation (used for initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If connection or session handshake fails
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	// Apply defaults
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	// Parse connection URL
	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Create connection with timeout
	connectCtx := ctx
	if connectCtx == nil {
		connectCtx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(connectCtx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}

	client := &Client{
		cfg:           cfg,
		conn:          conn,
		done:          newCloseOnce(),
		pending:       make(map[uint32]chan response),
		subs:          make(map[uint32]struct{}),
		callbackQueue: make(chan PropertyValue, callbackQueueSize),
	}
	client.lastActivity.Store(time.Now().Unix())

	// Open property session (respects context deadline)
	if err := client.openSession(connectCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake failed: %w", ErrConnectionFailed, err)
	}

	// Mark as connected
	client.connMu.Lock()
	client.connected = true
	client.connMu.Unlock()

	// Start callback workers (bounded goroutine count)
	for i := 0; i < callbackWorkerCount; i++ {
		client.wg.Add(1)
		go client.callbackWorker()
	}

	// Start receive loop
	client.wg.Add(1)
	go client.receiveLoop()

	return client, nil
}

// parseConnectionURL parses a vpd connection URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = "localhost:9270"
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// openSession performs the MsgOpenSession handshake.
// It respects the context deadline to ensure the overall connect timeout is honoured.
//
// The handshake must complete before any other frame is sent; vpd drops
// connections that skip it. The response echoes the protocol version the
// daemon accepted.
func (c *Client) openSession(ctx context.Context) error {
	msg := EncodeFrame(MsgOpenSession, []byte{protocolVersion, 0x00})

	// Calculate deadline: use context deadline if set and sooner than default
	writeDeadline := time.Now().Add(defaultWriteTimeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(writeDeadline) {
		writeDeadline = deadline
	}

	if err := c.conn.SetWriteDeadline(writeDeadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	// Check context before write
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if _, err := c.conn.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	// Read response - respect context deadline
	readDeadline := time.Now().Add(c.cfg.ReadTimeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(readDeadline) {
		readDeadline = deadline
	}

	if err := c.conn.SetReadDeadline(readDeadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	// Read response using proper frame framing.
	// First read the 2-byte size field.
	sizeBytes := make([]byte, 2)
	if _, err := io.ReadFull(c.conn, sizeBytes); err != nil {
		return fmt.Errorf("read response size: %w", err)
	}

	// Parse size (size = type(2) + payload, does NOT include size field)
	msgSize := binary.BigEndian.Uint16(sizeBytes)
	if msgSize < 2 {
		return fmt.Errorf("invalid response size: %d", msgSize)
	}

	// Read remaining bytes (type + payload)
	resp := make([]byte, 2+int(msgSize))
	copy(resp[:2], sizeBytes)
	if _, err := io.ReadFull(c.conn, resp[2:]); err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	msgType, payload, err := ParseFrame(resp)
	if err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	if msgType != MsgOpenSession {
		return fmt.Errorf("unexpected response type: 0x%04X", msgType)
	}
	if len(payload) < 1 || payload[0] != protocolVersion {
		return fmt.Errorf("%w: daemon speaks version 0x%02X, client speaks 0x%02X",
			ErrSessionRejected, payloadVersion(payload), protocolVersion)
	}

	return nil
}

// payloadVersion extracts the version byte from a session response payload.
func payloadVersion(payload []byte) byte {
	if len(payload) < 1 {
		return 0
	}
	return payload[0]
}

// Get reads the current value of a property area.
//
// Parameters:
//   - ctx: Context for cancellation
//   - prop: Property identifier
//   - area: Property area (hardware volume target for audio properties)
//
// Returns:
//   - PropertyValue: The current value reported by vpd
//   - error: ErrPropertyNotFound if vpd does not know the property/area,
//     ErrRequestTimeout if no result arrives in time
func (c *Client) Get(ctx context.Context, prop uint32, area int32) (PropertyValue, error) {
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[0:4], prop)
	binary.BigEndian.PutUint32(body[4:8], uint32(area))

	resp, err := c.roundTrip(ctx, MsgGet, body)
	if err != nil {
		return PropertyValue{}, err
	}

	status, rest, err := splitResult(resp)
	if err != nil {
		return PropertyValue{}, err
	}
	if status != StatusOK {
		return PropertyValue{}, fmt.Errorf("get property 0x%04X area %d: %w", prop, area, statusError(status))
	}

	value, err := ParsePropertyValue(rest)
	if err != nil {
		c.errorsTotal.Add(1)
		return PropertyValue{}, fmt.Errorf("get property 0x%04X area %d: %w", prop, area, err)
	}

	return value, nil
}

// Set writes a property value.
//
// Parameters:
//   - ctx: Context for cancellation
//   - value: Property value to write
//
// Returns:
//   - error: If encoding, sending or the daemon-side write fails
func (c *Client) Set(ctx context.Context, value PropertyValue) error {
	body, err := value.Encode()
	if err != nil {
		return err
	}

	resp, err := c.roundTrip(ctx, MsgSet, body)
	if err != nil {
		return err
	}

	status, _, err := splitResult(resp)
	if err != nil {
		return err
	}
	if status != StatusOK {
		return fmt.Errorf("set property 0x%04X area %d: %w", value.Prop, value.Area, statusError(status))
	}

	return nil
}

// Subscribe registers for change events on a property.
//
// Subscriptions are tracked and automatically replayed after a reconnect.
//
// Parameters:
//   - ctx: Context for cancellation
//   - prop: Property identifier
//
// Returns:
//   - error: If the subscription is refused or times out
func (c *Client) Subscribe(ctx context.Context, prop uint32) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, prop)

	resp, err := c.roundTrip(ctx, MsgSubscribe, body)
	if err != nil {
		return err
	}

	status, _, err := splitResult(resp)
	if err != nil {
		return err
	}
	if status != StatusOK {
		return fmt.Errorf("subscribe property 0x%04X: %w", prop, statusError(status))
	}

	c.subsMu.Lock()
	c.subs[prop] = struct{}{}
	c.subsMu.Unlock()

	return nil
}

// ListConfigs fetches the property config table from vpd.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - []PropertyConfig: All properties the daemon announces
//   - error: If the request fails or the table is malformed
func (c *Client) ListConfigs(ctx context.Context) ([]PropertyConfig, error) {
	resp, err := c.roundTrip(ctx, MsgConfigRequest, nil)
	if err != nil {
		return nil, err
	}

	// A daemon-side failure comes back as MsgResult instead of the table.
	if resp.msgType == MsgResult {
		status, _, err := splitResult(resp)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("list configs: %w", statusError(status))
	}
	if resp.msgType != MsgConfigResponse {
		c.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: unexpected response type 0x%04X", ErrInvalidFrame, resp.msgType)
	}

	configs, err := ParseConfigTable(resp.body)
	if err != nil {
		c.errorsTotal.Add(1)
		return nil, err
	}

	return configs, nil
}

// splitResult extracts the status byte and remainder from a MsgResult body.
func splitResult(resp response) (byte, []byte, error) {
	if resp.msgType != MsgResult {
		return 0, nil, fmt.Errorf("%w: unexpected response type 0x%04X", ErrInvalidFrame, resp.msgType)
	}
	if len(resp.body) < 1 {
		return 0, nil, fmt.Errorf("%w: missing result status", ErrInvalidFrame)
	}
	return resp.body[0], resp.body[1:], nil
}

// statusError maps a vpd status code to a domain error.
func statusError(status byte) error {
	switch status {
	case StatusNotFound:
		return ErrPropertyNotFound
	case StatusInvalid:
		return ErrRequestRejected
	default:
		return ErrDaemonFault
	}
}

// roundTrip sends a request frame and waits for the matching response.
func (c *Client) roundTrip(ctx context.Context, msgType uint16, body []byte) (response, error) {
	if !c.IsConnected() {
		return response{}, ErrNotConnected
	}

	reqID := c.nextReqID.Add(1)
	ch := make(chan response, 1)

	c.pendingMu.Lock()
	c.pending[reqID] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	frame := EncodeFrame(msgType, appendRequestID(reqID, body))
	if err := c.writeFrame(ctx, frame); err != nil {
		return response{}, err
	}

	timeout := time.NewTimer(c.cfg.RequestTimeout)
	defer timeout.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timeout.C:
		c.errorsTotal.Add(1)
		return response{}, fmt.Errorf("%w: type 0x%04X request %d", ErrRequestTimeout, msgType, reqID)
	case <-ctx.Done():
		return response{}, fmt.Errorf("%w: %w", ErrRequestFailed, ctx.Err())
	case <-c.done.Done():
		return response{}, ErrNotConnected
	}
}

// writeFrame writes a complete frame to the connection.
func (c *Client) writeFrame(ctx context.Context, frame []byte) error {
	// Check context
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrRequestFailed, ctx.Err())
	default:
	}

	// Send with deadline
	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrRequestFailed, err)
	}

	if _, err := conn.Write(frame); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrRequestFailed, err)
	}

	c.commandsTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	return nil
}

// receiveLoop continuously reads frames from vpd.
// On connection loss, it automatically attempts reconnection with exponential backoff.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		msgType, payload, err := c.readMessage(buf)
		if err != nil {
			if c.handleReadError(err) {
				// Fatal error - attempt reconnection
				if c.isClosed() {
					return // Shutdown requested, exit cleanly
				}

				// Try to reconnect
				if !c.reconnect() {
					return // Shutdown during reconnection, exit cleanly
				}

				// Reconnection successful, continue receive loop
				continue
			}
			continue // Recoverable error, retry
		}

		switch msgType {
		case MsgEvent:
			c.handleEvent(payload)
		case MsgResult, MsgConfigResponse:
			c.handleResponse(msgType, payload)
		case 0:
			// readMessage returned a recoverable parse failure
		default:
			c.logDebug("ignoring unexpected frame", "type", fmt.Sprintf("0x%04X", msgType))
		}
	}
}

// readMessage reads a single vpd frame from the connection.
// Returns the message type, payload, and any error.
// If the frame is oversized, returns ErrProtocolDesync which is fatal.
func (c *Client) readMessage(buf []byte) (uint16, []byte, error) {
	// Set read deadline
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		c.logError("set read deadline failed", err)
		return 0, nil, fmt.Errorf("set deadline: %w", err)
	}

	// Read frame size (2 bytes)
	if _, err := io.ReadFull(c.conn, buf[:2]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	// Parse frame size (size field = type(2) + payload, NOT including size field itself)
	msgSize := binary.BigEndian.Uint16(buf[:2])
	if msgSize < 2 {
		c.errorsTotal.Add(1)
		return 0, nil, fmt.Errorf("invalid frame size: %d (minimum 2 for type field)",
			msgSize)
	}

	// Total frame length = size field(2) + msgSize (type + payload)
	totalLen := 2 + int(msgSize)

	// Oversized frame detection - FATAL error to prevent protocol desync.
	// We cannot safely skip the frame because we'd need to read and discard
	// an unknown number of bytes, risking incorrect framing afterwards.
	// Closing the connection forces a clean reconnect.
	if totalLen > len(buf) {
		c.errorsTotal.Add(1)
		c.logError("oversized frame, closing connection to prevent desync",
			fmt.Errorf("size %d exceeds buffer %d", totalLen, len(buf)))
		return 0, nil, ErrProtocolDesync
	}

	// Read rest of frame (type + payload = msgSize bytes)
	if _, err := io.ReadFull(c.conn, buf[2:totalLen]); err != nil {
		return 0, nil, fmt.Errorf("read frame: %w", err)
	}

	// Parse frame
	msgType, payload, err := ParseFrame(buf[:totalLen])
	if err != nil {
		c.logError("parse frame failed", err)
		c.errorsTotal.Add(1)
		return 0, nil, nil // Recoverable
	}

	return msgType, payload, nil
}

// handleReadError processes a read error and returns true if the loop should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false // No error, continue
	}

	if c.isClosed() {
		return true // Clean shutdown
	}

	// Protocol desync is always fatal - the stream is corrupted.
	// Must close the socket immediately to stop corrupted data flow.
	if errors.Is(err, ErrProtocolDesync) {
		c.logError("protocol desync detected, closing socket", err)
		if c.conn != nil {
			c.conn.Close() // Force immediate close to prevent further corruption
		}
		c.handleDisconnect()
		return true // Fatal, must reconnect
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false // Timeout is normal, continue
	}

	c.logError("read failed", err)
	c.errorsTotal.Add(1)
	c.handleDisconnect()
	return true // Fatal error, stop
}

// handleEvent processes a received property event.
func (c *Client) handleEvent(payload []byte) {
	value, err := ParsePropertyValue(payload)
	if err != nil {
		c.logError("parse event failed", err)
		c.errorsTotal.Add(1)
		return
	}

	c.eventsRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	// Check if callback is set before queueing
	c.callbackMu.RLock()
	hasCallback := c.onEvent != nil
	c.callbackMu.RUnlock()

	if hasCallback {
		// Queue event for the worker (non-blocking with drop on overflow)
		select {
		case c.callbackQueue <- value:
			// Queued successfully
		default:
			// Queue full, drop event to prevent memory exhaustion
			c.logError("callback queue full, dropping event", nil)
			c.eventsDropped.Add(1)
			c.errorsTotal.Add(1)
		}
	}
}

// handleResponse routes a result frame to the matching in-flight request.
func (c *Client) handleResponse(msgType uint16, payload []byte) {
	reqID, rest, err := splitRequestID(payload)
	if err != nil {
		c.logError("parse response failed", err)
		c.errorsTotal.Add(1)
		return
	}

	c.lastActivity.Store(time.Now().Unix())

	c.pendingMu.Lock()
	ch, ok := c.pending[reqID]
	c.pendingMu.Unlock()

	if !ok {
		// Late response after the requester timed out
		c.logDebug("response with no pending request", "request_id", reqID)
		return
	}

	// Copy the body: the read buffer is reused for the next frame
	body := append([]byte(nil), rest...)

	select {
	case ch <- response{msgType: msgType, body: body}:
	default:
		// Requester already gave up
	}
}

// callbackWorker processes events from the callback queue.
// Runs in a bounded worker set to prevent goroutine explosion.
func (c *Client) callbackWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			// Drain any remaining items (best-effort, non-blocking)
			c.drainCallbackQueue()
			return
		case value := <-c.callbackQueue:
			c.callbackMu.RLock()
			callback := c.onEvent
			c.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("event callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(value)
				}()
			}
		}
	}
}

// handleDisconnect handles connection loss and triggers reconnection.
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if wasConnected {
		c.logInfo("connection lost, will attempt reconnection")
	}
}

// reconnect attempts to re-establish the connection to vpd with exponential backoff.
// Returns true if reconnection succeeded, false if shutdown was signalled.
func (c *Client) reconnect() bool {
	// Prevent multiple concurrent reconnection attempts
	if !c.reconnecting.CompareAndSwap(false, true) {
		return c.waitForReconnection()
	}
	defer c.reconnecting.Store(false)

	// Parse connection URL once
	network, address, err := parseConnectionURL(c.cfg.Connection)
	if err != nil {
		c.logError("reconnect: invalid connection URL", err)
		return false
	}

	backoff := c.cfg.ReconnectInterval
	if backoff == 0 {
		backoff = defaultReconnectInterval
	}

	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)
		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		c.closeOldConnection()

		conn, err := c.dialWithTimeout(network, address)
		if err != nil {
			backoff = c.handleReconnectFailure("dial failed", err, backoff)
			if backoff == 0 {
				return false // Shutdown signalled
			}
			continue
		}

		if err := c.establishConnection(conn); err != nil {
			backoff = c.handleReconnectFailure("handshake failed", err, backoff)
			if backoff == 0 {
				return false // Shutdown signalled
			}
			continue
		}

		c.finalizeReconnection()

		// Replay subscriptions off the receive loop: the round trips below
		// need this loop back in its read path to see their results.
		c.wg.Add(1)
		go c.resubscribe()

		return true
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (c *Client) waitForReconnection() bool {
	for c.reconnecting.Load() && !c.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !c.isClosed() && c.IsConnected()
}

// closeOldConnection closes the existing connection if any.
func (c *Client) closeOldConnection() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// dialWithTimeout attempts to dial the network address with timeout.
func (c *Client) dialWithTimeout(network, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}
	return conn, nil
}

// establishConnection sets up the connection and performs the session handshake.
func (c *Client) establishConnection(conn net.Conn) error {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	if err := c.openSession(ctx); err != nil {
		conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		return err
	}
	return nil
}

// handleReconnectFailure handles a failed reconnection attempt.
// Returns the new backoff duration, or 0 if shutdown was signalled.
func (c *Client) handleReconnectFailure(reason string, err error, backoff time.Duration) time.Duration {
	c.logError("reconnect: "+reason, err)
	c.errorsTotal.Add(1)

	select {
	case <-c.done.Done():
		return 0 // Signal shutdown
	case <-time.After(backoff):
	}

	// Exponential backoff with cap
	newBackoff := time.Duration(float64(backoff) * 1.5)
	if newBackoff > maxReconnectInterval {
		newBackoff = maxReconnectInterval
	}
	return newBackoff
}

// finalizeReconnection marks the connection as established and updates stats.
func (c *Client) finalizeReconnection() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.reconnectCount.Store(0)
	c.reconnectsTotal.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
}

// resubscribe replays all recorded subscriptions on the fresh connection.
// Subscriptions are per connection on the daemon side, so a reconnect
// silences events until they are re-established.
func (c *Client) resubscribe() {
	defer c.wg.Done()

	c.subsMu.Lock()
	props := make([]uint32, 0, len(c.subs))
	for prop := range c.subs {
		props = append(props, prop)
	}
	c.subsMu.Unlock()

	for _, prop := range props {
		if c.isClosed() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		err := c.Subscribe(ctx, prop)
		cancel()

		if err != nil {
			c.logError("resubscribe failed", fmt.Errorf("property 0x%04X: %w", prop, err))
			continue
		}
		c.logDebug("resubscribed", "property", fmt.Sprintf("0x%04X", prop))
	}
}

// drainCallbackQueue removes and discards any remaining items from the callback queue.
// Called during shutdown to prevent goroutines from blocking on send.
func (c *Client) drainCallbackQueue() {
	for {
		select {
		case <-c.callbackQueue:
			// Discard item
		default:
			return // Queue is empty
		}
	}
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close gracefully closes the connection.
//
// It signals the receive loop to stop and closes the underlying
// network connection. Safe to call multiple times (uses sync.Once).
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Close() error {
	// Signal shutdown (safe to call multiple times via sync.Once)
	c.done.Close()

	// Mark disconnected
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	// Close connection (this will unblock any pending reads)
	if c.conn != nil {
		c.conn.Close()
	}

	// Wait for all goroutines to finish
	c.wg.Wait()

	c.logInfo("connection closed")
	return nil
}

// SetOnEvent sets the callback for received property events.
//
// The callback is invoked from a dedicated worker goroutine in arrival
// order. Panics in the callback are recovered and logged.
//
// Parameters:
//   - callback: Function to call when a property event is received
func (c *Client) SetOnEvent(callback func(PropertyValue)) {
	c.callbackMu.Lock()
	c.onEvent = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if connected to vpd.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		CommandsTx:      c.commandsTx.Load(),
		EventsRx:        c.eventsRx.Load(),
		EventsDropped:   c.eventsDropped.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

// HealthCheck verifies the connection is alive.
//
// Note: This only checks connection state. For active verification,
// issue a Get against a known property.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
