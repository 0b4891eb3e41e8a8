package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
	"github.com/satriahrh/voicectl/server/internal/playback"
	"github.com/satriahrh/voicectl/server/internal/protocol"
)

var ErrUnknownFunction = errors.New("unknown device function")

// Functions supplies the tools the model may call during a session's turn.
type Functions interface {
	Tools(sess *entities.Session) []repositories.Tool
	Executor(sess *entities.Session, ch playback.Channel) repositories.ToolExecutor
}

// DeviceFunctions offers what a device can do to the model: the MCP tools
// it listed and the things described by its IoT descriptors.
type DeviceFunctions struct {
	mcp    *DeviceTools
	logger *zap.Logger
}

var _ Functions = (*DeviceFunctions)(nil)

// NewDeviceFunctions creates the function set. mcp may be nil.
func NewDeviceFunctions(mcp *DeviceTools, logger *zap.Logger) *DeviceFunctions {
	return &DeviceFunctions{mcp: mcp, logger: logger}
}

// Tools lists IoT functions first, then MCP tools.
func (f *DeviceFunctions) Tools(sess *entities.Session) []repositories.Tool {
	var tools []repositories.Tool
	for _, fn := range f.iotFunctions(sess) {
		tools = append(tools, fn.tool)
	}
	if f.mcp != nil {
		tools = append(tools, f.mcp.Specs(sess.ID())...)
	}
	return tools
}

// Executor runs calls for sess. IoT methods are sent to the device through
// ch; property reads answer from the last reported states.
func (f *DeviceFunctions) Executor(sess *entities.Session, ch playback.Channel) repositories.ToolExecutor {
	return func(ctx context.Context, name string, args map[string]interface{}) (string, error) {
		for _, fn := range f.iotFunctions(sess) {
			if fn.tool.Name == name {
				return fn.run(sess, ch, args)
			}
		}
		if f.mcp == nil {
			return "", fmt.Errorf("%w: %s", ErrUnknownFunction, name)
		}
		return f.mcp.CallTool(ctx, sess.ID(), name, args)
	}
}

type iotValue struct {
	Description string `json:"description"`
	Type        string `json:"type"`
}

type iotMethod struct {
	Description string              `json:"description"`
	Parameters  map[string]iotValue `json:"parameters"`
}

type iotDescriptor struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Properties  map[string]iotValue  `json:"properties"`
	Methods     map[string]iotMethod `json:"methods"`
}

type iotState struct {
	Name  string                 `json:"name"`
	State map[string]interface{} `json:"state"`
}

// iotFunction is either a method call or a property read of one thing.
type iotFunction struct {
	tool     repositories.Tool
	thing    string
	method   string
	property string
}

func (f *DeviceFunctions) iotFunctions(sess *entities.Session) []iotFunction {
	raw, _ := sess.IoT()
	if len(raw) == 0 {
		return nil
	}
	var descriptors []iotDescriptor
	if err := json.Unmarshal(raw, &descriptors); err != nil {
		f.logger.Debug("Ignoring unreadable iot descriptors", zap.String("sessionID", sess.ID()), zap.Error(err))
		return nil
	}

	var out []iotFunction
	for _, d := range descriptors {
		if d.Name == "" {
			continue
		}
		for _, prop := range sortedKeys(d.Properties) {
			v := d.Properties[prop]
			out = append(out, iotFunction{
				tool: repositories.Tool{
					Name:        functionName("get", d.Name, prop),
					Description: fmt.Sprintf("查询%s的%s", thingLabel(d), v.Description),
				},
				thing:    d.Name,
				property: prop,
			})
		}
		for _, method := range sortedKeys(d.Methods) {
			m := d.Methods[method]
			out = append(out, iotFunction{
				tool: repositories.Tool{
					Name:        functionName(d.Name, method),
					Description: fmt.Sprintf("%s：%s", thingLabel(d), m.Description),
					Parameters:  parameterSchema(m.Parameters),
				},
				thing:  d.Name,
				method: method,
			})
		}
	}
	return out
}

func (fn iotFunction) run(sess *entities.Session, ch playback.Channel, args map[string]interface{}) (string, error) {
	if fn.property != "" {
		return readState(sess, fn.thing, fn.property)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	cmd := protocol.IoTCommand{Name: fn.thing, Method: fn.method, Parameters: args}
	if err := ch.SendJSON(protocol.NewIoTCommand(sess.ID(), cmd)); err != nil {
		return "", err
	}
	return fmt.Sprintf("已向%s发送%s指令", fn.thing, fn.method), nil
}

func readState(sess *entities.Session, thing, property string) (string, error) {
	_, raw := sess.IoT()
	var states []iotState
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &states); err != nil {
			return "", fmt.Errorf("iot states: %w", err)
		}
	}
	for _, st := range states {
		if st.Name != thing {
			continue
		}
		if v, ok := st.State[property]; ok {
			return fmt.Sprint(v), nil
		}
	}
	return "", fmt.Errorf("%w: no state for %s.%s", ErrUnknownFunction, thing, property)
}

func parameterSchema(params map[string]iotValue) json.RawMessage {
	props := make(map[string]interface{}, len(params))
	required := make([]string, 0, len(params))
	for _, name := range sortedKeys(params) {
		v := params[name]
		props[name] = map[string]string{"type": schemaType(v.Type), "description": v.Description}
		required = append(required, name)
	}
	schema, _ := json.Marshal(map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	})
	return schema
}

func schemaType(t string) string {
	switch strings.ToLower(t) {
	case "number", "integer", "boolean", "string":
		return strings.ToLower(t)
	case "bool":
		return "boolean"
	case "int":
		return "integer"
	}
	return "string"
}

func thingLabel(d iotDescriptor) string {
	if d.Description != "" {
		return d.Description
	}
	return d.Name
}

// functionName joins parts into a lower-case identifier that model APIs
// accept.
func functionName(parts ...string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('_')
		}
		for _, r := range strings.ToLower(p) {
			if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
				b.WriteRune(r)
			} else {
				b.WriteByte('_')
			}
		}
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
