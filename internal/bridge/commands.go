package bridge

import (
	"context"
	"encoding/json"
)

// Outbound command names.
const (
	CmdConnectTo          = "connectTo"
	CmdCancelDefer        = "cancelDefer"
	CmdBackfillDone       = "backfillDone"
	CmdQueryServer        = "queryServer"
	CmdSubmitCardResponse = "submitCardResponse"
	CmdSwitchBuild        = "switchBuild"
)

// Invoker fires a named command with a string argument at the host.
type Invoker interface {
	Invoke(ctx context.Context, name, arg string) error
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, name, arg string) error

func (f InvokerFunc) Invoke(ctx context.Context, name, arg string) error {
	return f(ctx, name, arg)
}

type invokeMessage struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Arg  string `json:"arg"`
}

// EncodeInvoke builds the outbound message for one command.
func EncodeInvoke(name, arg string) ([]byte, error) {
	return json.Marshal(invokeMessage{Type: "invoke", Name: name, Arg: arg})
}

// DecodeInvoke is the inverse of EncodeInvoke.
func DecodeInvoke(raw []byte) (name, arg string, err error) {
	var m invokeMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", "", err
	}
	return m.Name, m.Arg, nil
}

// ConnectToArg encodes the connectTo argument: a JSON array of the endpoint
// and the attempt nonce.
func ConnectToArg(endpoint, nonce string) string {
	b, _ := json.Marshal([]string{endpoint, nonce})
	return string(b)
}
