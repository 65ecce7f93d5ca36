package session

import "serverlink/internal/bridge"

// Reduce maps a host event onto the connect state it stands for. Events
// that carry no connect state report false.
func Reduce(ev bridge.Event) (State, bool) {
	switch e := ev.(type) {
	case bridge.Connecting:
		return Connecting{}, true
	case bridge.ConnectStatus:
		return Status{
			Message:    e.Message,
			Count:      e.Count,
			Total:      e.Total,
			Cancelable: e.Cancelable,
		}, true
	case bridge.ConnectFailed:
		f := Failed{Message: e.Message}
		if e.Extra != nil {
			f.Title = e.Extra.Title
			f.Fault = parseFault(e.Extra.Fault)
			f.Actions = e.Extra.Actions
		}
		return f, true
	case bridge.ConnectCard:
		return Card{Payload: e.Card}, true
	case bridge.ConnectBuildSwitchRequest:
		return BuildSwitchRequest{
			Build:            e.Build,
			PureLevel:        e.PureLevel,
			CurrentBuild:     e.CurrentBuild,
			CurrentPureLevel: e.CurrentPureLevel,
		}, true
	case bridge.ConnectBuildSwitch:
		return BuildSwitchInfo{Title: e.Title, Content: e.Content}, true
	}
	return nil, false
}
