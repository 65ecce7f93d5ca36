package servers

import (
	"time"
)

// DetailsLevel orders how much is known about a server. Higher is richer.
type DetailsLevel int

const (
	DetailsNone           DetailsLevel = iota // placeholder, nothing fetched
	DetailsDynamicJSON                        // dynamic.json only
	DetailsInfoAndDynamic                     // info.json + dynamic.json
	DetailsMasterListFull                     // full master list entry
	DetailsLive                               // live query through the host
)

func (l DetailsLevel) String() string {
	switch l {
	case DetailsDynamicJSON:
		return "dynamic"
	case DetailsInfoAndDynamic:
		return "info+dynamic"
	case DetailsMasterListFull:
		return "master"
	case DetailsLive:
		return "live"
	default:
		return "none"
	}
}

// ServerDescriptor is the canonical, mergeable record of one game server.
type ServerDescriptor struct {
	ID                 string            `json:"id"`
	DetailsLevel       DetailsLevel      `json:"details_level"`
	Hostname           string            `json:"hostname"`
	ProjectName        string            `json:"project_name,omitempty"`
	ProjectDescription string            `json:"project_description,omitempty"`
	PlayersCurrent     int               `json:"players_current"`
	PlayersMax         int               `json:"players_max"`
	MapName            string            `json:"map,omitempty"`
	GameType           string            `json:"gametype,omitempty"`
	GameName           string            `json:"gamename,omitempty"`
	Server             string            `json:"server,omitempty"`
	Resources          []string          `json:"resources,omitempty"`
	IconVersion        int               `json:"icon_version,omitempty"`
	RawVariables       map[string]string `json:"vars,omitempty"`
	ConnectEndPoints   []string          `json:"connect_end_points,omitempty"`
	JoinID             string            `json:"join_id,omitempty"`
	HistoricalAddress  string            `json:"historical_address,omitempty"`
	Offline            bool              `json:"offline"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers can stamp fields without touching the
// stored record.
func (d *ServerDescriptor) Clone() *ServerDescriptor {
	if d == nil {
		return nil
	}
	c := *d
	if d.Resources != nil {
		c.Resources = append([]string(nil), d.Resources...)
	}
	if d.ConnectEndPoints != nil {
		c.ConnectEndPoints = append([]string(nil), d.ConnectEndPoints...)
	}
	if d.RawVariables != nil {
		c.RawVariables = make(map[string]string, len(d.RawVariables))
		for k, v := range d.RawVariables {
			c.RawVariables[k] = v
		}
	}
	return &c
}

// Var returns a raw server variable, or "" when unset.
func (d *ServerDescriptor) Var(key string) string {
	if d == nil || d.RawVariables == nil {
		return ""
	}
	return d.RawVariables[key]
}
