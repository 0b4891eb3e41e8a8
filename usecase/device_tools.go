package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/playback"
	"github.com/satriahrh/voicectl/server/internal/protocol"
)

var (
	ErrToolsNotReady = errors.New("device tools not initialized")
	ErrToolCall      = errors.New("device tool call failed")
)

const (
	clientName    = "voicectl-server"
	clientVersion = "1.0.0"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type toolCallResult struct {
	result *mcp.CallToolResult
	err    error
}

// toolSession is the MCP client state of one device.
type toolSession struct {
	mu      sync.Mutex
	ch      playback.Channel
	nextID  int64
	initID  int64
	listID  int64
	ready   bool
	tools   []mcp.Tool
	pending map[int64]chan toolCallResult
}

// DeviceTools speaks MCP to the tool server running on devices. Messages
// travel inside the mcp envelope of the websocket protocol.
type DeviceTools struct {
	mu       sync.Mutex
	sessions map[string]*toolSession
	logger   *zap.Logger
}

// NewDeviceTools creates the device tool channel.
func NewDeviceTools(logger *zap.Logger) *DeviceTools {
	return &DeviceTools{
		sessions: make(map[string]*toolSession),
		logger:   logger,
	}
}

// Start sends initialize to the device. Repeated calls for the same
// session only refresh the channel.
func (d *DeviceTools) Start(ctx context.Context, sess *entities.Session, ch playback.Channel) error {
	d.mu.Lock()
	ts, ok := d.sessions[sess.ID()]
	if ok {
		d.mu.Unlock()
		ts.mu.Lock()
		ts.ch = ch
		ts.mu.Unlock()
		return nil
	}
	ts = &toolSession{ch: ch, pending: make(map[int64]chan toolCallResult)}
	d.sessions[sess.ID()] = ts
	d.mu.Unlock()

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.initID = ts.id()
	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      mcp.Implementation{Name: clientName, Version: clientVersion},
	}
	d.logger.Info("Initializing device tools", zap.String("sessionID", sess.ID()))
	return ts.send(sess.ID(), &ts.initID, string(mcp.MethodInitialize), params)
}

func (ts *toolSession) id() int64 {
	ts.nextID++
	return ts.nextID
}

func (ts *toolSession) send(sessionID string, id *int64, method string, params interface{}) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	return ts.ch.SendJSON(protocol.NewMCP(sessionID, payload))
}

// Handle processes one JSON-RPC message from the device.
func (d *DeviceTools) Handle(sess *entities.Session, payload json.RawMessage) error {
	d.mu.Lock()
	ts, ok := d.sessions[sess.ID()]
	d.mu.Unlock()
	if !ok {
		return ErrToolsNotReady
	}

	var msg rpcResponse
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("invalid mcp payload: %w", err)
	}
	if msg.ID == nil {
		d.logger.Debug("Device mcp notification", zap.String("method", msg.Method))
		return nil
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	id := *msg.ID
	switch {
	case id == ts.initID:
		return d.onInitialized(sess, ts, msg)
	case id == ts.listID:
		return d.onToolList(sess, ts, msg)
	}

	waiter, ok := ts.pending[id]
	if !ok {
		d.logger.Warn("Unexpected mcp response", zap.String("sessionID", sess.ID()), zap.Int64("id", id))
		return nil
	}
	delete(ts.pending, id)
	if msg.Error != nil {
		waiter <- toolCallResult{err: fmt.Errorf("%w: %s", ErrToolCall, msg.Error.Message)}
		return nil
	}
	result, err := mcp.ParseCallToolResult(&msg.Result)
	waiter <- toolCallResult{result: result, err: err}
	return nil
}

func (d *DeviceTools) onInitialized(sess *entities.Session, ts *toolSession, msg rpcResponse) error {
	if msg.Error != nil {
		return fmt.Errorf("mcp initialize: %s", msg.Error.Message)
	}
	var result mcp.InitializeResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return fmt.Errorf("mcp initialize result: %w", err)
	}
	d.logger.Info("Device tools initialized",
		zap.String("sessionID", sess.ID()),
		zap.String("server", result.ServerInfo.Name),
		zap.String("protocol", result.ProtocolVersion))

	if err := ts.send(sess.ID(), nil, "notifications/initialized", nil); err != nil {
		return err
	}
	return d.requestTools(sess, ts, "")
}

func (d *DeviceTools) requestTools(sess *entities.Session, ts *toolSession, cursor string) error {
	ts.listID = ts.id()
	var params interface{}
	if cursor != "" {
		params = map[string]string{"cursor": cursor}
	}
	return ts.send(sess.ID(), &ts.listID, string(mcp.MethodToolsList), params)
}

func (d *DeviceTools) onToolList(sess *entities.Session, ts *toolSession, msg rpcResponse) error {
	if msg.Error != nil {
		return fmt.Errorf("mcp tools/list: %s", msg.Error.Message)
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return fmt.Errorf("mcp tools/list result: %w", err)
	}
	ts.tools = append(ts.tools, result.Tools...)
	if result.NextCursor != "" {
		return d.requestTools(sess, ts, string(result.NextCursor))
	}
	ts.ready = true
	d.logger.Info("Device tools listed",
		zap.String("sessionID", sess.ID()),
		zap.Int("tools", len(ts.tools)))
	return nil
}

// Tools returns the names of the tools a device offers.
func (d *DeviceTools) Tools(sessionID string) []string {
	d.mu.Lock()
	ts, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	names := make([]string, 0, len(ts.tools))
	for _, t := range ts.tools {
		names = append(names, t.Name)
	}
	return names
}

// Specs describes the listed tools of a session for the model. Nothing is
// offered until listing has finished.
func (d *DeviceTools) Specs(sessionID string) []repositories.Tool {
	d.mu.Lock()
	ts, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if !ts.ready {
		return nil
	}
	specs := make([]repositories.Tool, 0, len(ts.tools))
	for _, t := range ts.tools {
		spec := repositories.Tool{Name: t.Name, Description: t.Description, Parameters: t.RawInputSchema}
		if len(spec.Parameters) == 0 && t.InputSchema.Type != "" {
			schema, err := json.Marshal(t.InputSchema)
			if err != nil {
				d.logger.Warn("Skipping tool with bad schema", zap.String("tool", t.Name), zap.Error(err))
				continue
			}
			spec.Parameters = schema
		}
		specs = append(specs, spec)
	}
	return specs
}

// CallTool invokes a device tool and returns its text output.
func (d *DeviceTools) CallTool(ctx context.Context, sessionID, name string, args map[string]interface{}) (string, error) {
	d.mu.Lock()
	ts, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok {
		return "", ErrToolsNotReady
	}

	ts.mu.Lock()
	if !ts.ready {
		ts.mu.Unlock()
		return "", ErrToolsNotReady
	}
	id := ts.id()
	waiter := make(chan toolCallResult, 1)
	ts.pending[id] = waiter
	err := ts.send(sessionID, &id, string(mcp.MethodToolsCall), mcp.CallToolParams{Name: name, Arguments: args})
	ts.mu.Unlock()
	if err != nil {
		d.dropPending(ts, id)
		return "", err
	}

	select {
	case r := <-waiter:
		if r.err != nil {
			return "", r.err
		}
		text := toolText(r.result)
		if r.result.IsError {
			return "", fmt.Errorf("%w: %s", ErrToolCall, text)
		}
		return text, nil
	case <-ctx.Done():
		d.dropPending(ts, id)
		return "", ctx.Err()
	}
}

func (d *DeviceTools) dropPending(ts *toolSession, id int64) {
	ts.mu.Lock()
	delete(ts.pending, id)
	ts.mu.Unlock()
}

func toolText(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Forget drops the tool state of a closed session.
func (d *DeviceTools) Forget(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, sessionID)
}
