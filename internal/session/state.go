package session

import "serverlink/internal/bridge"

// Kind names a connect state variant.
type Kind string

// Connect state kinds, as reported in snapshots.
const (
	KindIdle               Kind = "idle"
	KindResolving          Kind = "resolving"
	KindConnecting         Kind = "connecting"
	KindStatus             Kind = "status"
	KindFailed             Kind = "failed"
	KindCard               Kind = "card"
	KindBuildSwitchRequest Kind = "buildSwitchRequest"
	KindBuildSwitchInfo    Kind = "buildSwitchInfo"
)

// State is one of the connect state variants below. The set is closed.
type State interface {
	Kind() Kind
	isState()
}

// Idle means no attempt is active.
type Idle struct{}

// Resolving means the target is being looked up before the hand-off.
type Resolving struct{}

// Connecting means the host handshake is in flight with no detail yet.
type Connecting struct{}

// Status is a progress tick from the host. Cancelable=false marks phases
// that must not be interrupted.
type Status struct {
	Message    string `json:"message"`
	Count      int    `json:"count"`
	Total      int    `json:"total"`
	Cancelable bool   `json:"cancelable"`
}

// Fault says roughly whose fault a failure was. It is for display only.
type Fault string

// Fault values. FaultUnknown is the empty string.
const (
	FaultUnknown Fault = ""
	FaultYou     Fault = "you"
	FaultCfx     Fault = "cfx"
	FaultServer  Fault = "server"
	FaultEither  Fault = "either"
)

func parseFault(s string) Fault {
	switch f := Fault(s); f {
	case FaultYou, FaultCfx, FaultServer, FaultEither:
		return f
	}
	return FaultUnknown
}

// Failed ends an attempt with a message for the user.
type Failed struct {
	Message string                 `json:"message"`
	Title   string                 `json:"title,omitempty"`
	Fault   Fault                  `json:"fault,omitempty"`
	Actions []bridge.FailureAction `json:"actions,omitempty"`
}

// Card is an interactive form supplied by the host.
type Card struct {
	Payload string `json:"card"`
}

// BuildSwitchRequest asks permission to change build or pure level.
type BuildSwitchRequest struct {
	Build            int `json:"build"`
	PureLevel        int `json:"pureLevel"`
	CurrentBuild     int `json:"currentBuild"`
	CurrentPureLevel int `json:"currentPureLevel"`
}

// BuildSwitchInfo tells the user a build switch is happening.
type BuildSwitchInfo struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Kind implements State.
func (Idle) Kind() Kind               { return KindIdle }
func (Resolving) Kind() Kind          { return KindResolving }
func (Connecting) Kind() Kind         { return KindConnecting }
func (Status) Kind() Kind             { return KindStatus }
func (Failed) Kind() Kind             { return KindFailed }
func (Card) Kind() Kind               { return KindCard }
func (BuildSwitchRequest) Kind() Kind { return KindBuildSwitchRequest }
func (BuildSwitchInfo) Kind() Kind    { return KindBuildSwitchInfo }

func (Idle) isState()               {}
func (Resolving) isState()          {}
func (Connecting) isState()         {}
func (Status) isState()             {}
func (Failed) isState()             {}
func (Card) isState()               {}
func (BuildSwitchRequest) isState() {}
func (BuildSwitchInfo) isState()    {}
