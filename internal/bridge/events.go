// Package bridge is the boundary to the native host process. Inbound
// messages are decoded into a closed set of typed events; anything else is
// rejected here so the rest of the system never sees raw message names.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownEvent is returned by Decode for message types outside the contract.
	ErrUnknownEvent = errors.New("unknown bridge event")
	// ErrClosed is returned when invoking on a closed bridge.
	ErrClosed = errors.New("bridge closed")
)

// Inbound message type names.
const (
	TypeConnecting                = "connecting"
	TypeConnectStatus             = "connectStatus"
	TypeConnectFailed             = "connectFailed"
	TypeConnectCard               = "connectCard"
	TypeConnectBuildSwitchRequest = "connectBuildSwitchRequest"
	TypeConnectBuildSwitch        = "connectBuildSwitch"
	TypeBackfillServerInfo        = "backfillServerInfo"
	TypeServerQueried             = "serverQueried"
	TypeQueryFailed               = "queryFailed"
)

// Event is one decoded inbound message.
type Event interface {
	EventType() string
}

// Connecting is sent once the host starts the handshake.
type Connecting struct{}

// ConnectStatus is a progress tick. Count and Total describe the current
// phase; Cancelable=false marks phases the user must not interrupt.
type ConnectStatus struct {
	Message    string `json:"message"`
	Count      int    `json:"count"`
	Total      int    `json:"total"`
	Cancelable bool   `json:"cancelable"`
}

// FailureAction is an extra button the host attaches to a failure.
type FailureAction struct {
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
}

// FailureExtra carries the optional structured part of connectFailed.
// Fault is one of "you", "cfx", "server", "either" or empty.
type FailureExtra struct {
	Title   string          `json:"title,omitempty"`
	Fault   string          `json:"fault,omitempty"`
	Actions []FailureAction `json:"actions,omitempty"`
}

// ConnectFailed ends an attempt.
type ConnectFailed struct {
	Message string        `json:"message"`
	Extra   *FailureExtra `json:"extra,omitempty"`
}

// ConnectCard carries an interactive form as serialized JSON.
type ConnectCard struct {
	Card string `json:"card"`
}

// ConnectBuildSwitchRequest asks the user to accept a build or pure level change.
type ConnectBuildSwitchRequest struct {
	Build            int `json:"build"`
	PureLevel        int `json:"pureLevel"`
	CurrentBuild     int `json:"currentBuild"`
	CurrentPureLevel int `json:"currentPureLevel"`
}

// ConnectBuildSwitch announces a build switch already under way.
type ConnectBuildSwitch struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// BackfillServerInfo confirms a connect fully succeeded. Nonce is the token
// that was sent with the matching connectTo.
type BackfillServerInfo struct {
	Nonce  string          `json:"nonce"`
	Server json.RawMessage `json:"server"`
}

// ServerQueried answers queryServer. QueryCorrelation is the exact address
// string that was queried.
type ServerQueried struct {
	QueryCorrelation string            `json:"queryCorrelation"`
	Hostname         string            `json:"hostname"`
	Clients          int               `json:"clients"`
	MaxClients       int               `json:"maxclients"`
	GameType         string            `json:"gametype,omitempty"`
	MapName          string            `json:"mapname,omitempty"`
	GameName         string            `json:"gamename,omitempty"`
	Server           string            `json:"server,omitempty"`
	Resources        []string          `json:"resources,omitempty"`
	IconVersion      int               `json:"iconVersion,omitempty"`
	Vars             map[string]string `json:"vars,omitempty"`
}

// QueryFailed reports that queryServer for Arg did not succeed.
type QueryFailed struct {
	Arg string `json:"arg"`
}

// EventType implements Event.
func (Connecting) EventType() string                { return TypeConnecting }
func (ConnectStatus) EventType() string             { return TypeConnectStatus }
func (ConnectFailed) EventType() string             { return TypeConnectFailed }
func (ConnectCard) EventType() string               { return TypeConnectCard }
func (ConnectBuildSwitchRequest) EventType() string { return TypeConnectBuildSwitchRequest }
func (ConnectBuildSwitch) EventType() string        { return TypeConnectBuildSwitch }
func (BackfillServerInfo) EventType() string        { return TypeBackfillServerInfo }
func (ServerQueried) EventType() string             { return TypeServerQueried }
func (QueryFailed) EventType() string               { return TypeQueryFailed }

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode parses one inbound message of the form {"type":..., "data":{...}}.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var ev Event
	switch env.Type {
	case TypeConnecting:
		return Connecting{}, nil
	case TypeConnectStatus:
		ev = &ConnectStatus{}
	case TypeConnectFailed:
		ev = &ConnectFailed{}
	case TypeConnectCard:
		ev = &ConnectCard{}
	case TypeConnectBuildSwitchRequest:
		ev = &ConnectBuildSwitchRequest{}
	case TypeConnectBuildSwitch:
		ev = &ConnectBuildSwitch{}
	case TypeBackfillServerInfo:
		ev = &BackfillServerInfo{}
	case TypeServerQueried:
		ev = &ServerQueried{}
	case TypeQueryFailed:
		ev = &QueryFailed{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	return deref(ev), nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *ConnectStatus:
		return *e
	case *ConnectFailed:
		return *e
	case *ConnectCard:
		return *e
	case *ConnectBuildSwitchRequest:
		return *e
	case *ConnectBuildSwitch:
		return *e
	case *BackfillServerInfo:
		return *e
	case *ServerQueried:
		return *e
	case *QueryFailed:
		return *e
	}
	return ev
}

// Encode wraps ev in the inbound envelope. The local host stand-in and tests
// use it to produce messages the same way the native host does.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: ev.EventType(), Data: data})
}
