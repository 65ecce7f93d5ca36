package resolver

import (
	"strconv"
	"time"

	"serverlink/internal/bridge"
	"serverlink/internal/dynamic"
	"serverlink/internal/servers"
)

func liveDescriptor(addr string, q bridge.ServerQueried, now time.Time) *servers.ServerDescriptor {
	d := &servers.ServerDescriptor{
		ID:               addr,
		DetailsLevel:     servers.DetailsLive,
		Hostname:         q.Hostname,
		PlayersCurrent:   q.Clients,
		PlayersMax:       q.MaxClients,
		GameType:         q.GameType,
		MapName:          q.MapName,
		GameName:         q.GameName,
		Server:           q.Server,
		Resources:        q.Resources,
		IconVersion:      q.IconVersion,
		RawVariables:     q.Vars,
		ConnectEndPoints: []string{addr},
		UpdatedAt:        now,
	}
	if d.GameName == "" {
		d.GameName = d.Var("gamename")
	}
	d.ProjectName = d.Var("sv_projectName")
	d.ProjectDescription = d.Var("sv_projectDesc")
	return d
}

func dynamicDescriptor(addr string, dyn *dynamic.Data, now time.Time) *servers.ServerDescriptor {
	d := &servers.ServerDescriptor{
		ID:               addr,
		DetailsLevel:     servers.DetailsDynamicJSON,
		Hostname:         dyn.Hostname,
		PlayersCurrent:   dyn.Clients,
		PlayersMax:       dyn.MaxClients,
		GameType:         dyn.GameType,
		MapName:          dyn.MapName,
		ConnectEndPoints: []string{addr},
		UpdatedAt:        now,
	}
	if iv, err := strconv.Atoi(dyn.IconVer); err == nil {
		d.IconVersion = iv
	}
	return d
}

func applyInfo(d *servers.ServerDescriptor, info *dynamic.Info) {
	d.DetailsLevel = servers.DetailsInfoAndDynamic
	d.Server = info.Server
	d.Resources = info.Resources
	d.RawVariables = info.Vars
	if info.IconVersion != 0 {
		d.IconVersion = info.IconVersion
	}
	d.GameName = d.Var("gamename")
	d.ProjectName = d.Var("sv_projectName")
	d.ProjectDescription = d.Var("sv_projectDesc")
}
