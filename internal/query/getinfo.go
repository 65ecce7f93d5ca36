package query

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"serverlink/internal/bridge"
)

var (
	// ErrBadResponse is returned for datagrams that are not an infoResponse.
	ErrBadResponse = errors.New("malformed info response")
	// ErrChallenge is returned when the response echoes the wrong challenge.
	ErrChallenge = errors.New("challenge mismatch")
)

var oob = []byte("\xff\xff\xff\xff")

// GetInfo sends a getinfo datagram to addr and parses the infoResponse.
func GetInfo(ctx context.Context, addr string) (bridge.ServerQueried, error) {
	var out bridge.ServerQueried

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return out, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	challenge := newChallenge()
	if _, err := conn.Write(append(append([]byte{}, oob...), "getinfo "+challenge...)); err != nil {
		return out, fmt.Errorf("write %s: %w", addr, err)
	}

	buffer := make([]byte, 4096)
	n, err := conn.Read(buffer)
	if err != nil {
		return out, fmt.Errorf("read %s: %w", addr, err)
	}

	vars, err := ParseInfoResponse(buffer[:n])
	if err != nil {
		return out, err
	}
	if vars["challenge"] != challenge {
		return out, ErrChallenge
	}
	delete(vars, "challenge")

	out = infoToQueried(addr, vars)
	return out, nil
}

// ParseInfoResponse decodes "\xff\xff\xff\xffinfoResponse\n\k\v\k\v".
func ParseInfoResponse(data []byte) (map[string]string, error) {
	data = bytes.TrimPrefix(data, oob)
	lines := strings.SplitN(string(data), "\n", 2)
	if len(lines) < 2 || lines[0] != "infoResponse" {
		return nil, ErrBadResponse
	}

	keyValues := strings.Split(strings.TrimPrefix(strings.TrimRight(lines[1], "\x00\n"), "\\"), "\\")
	vars := make(map[string]string, len(keyValues)/2)
	for i := 0; i < len(keyValues)-1; i += 2 {
		vars[keyValues[i]] = keyValues[i+1]
	}
	return vars, nil
}

func infoToQueried(addr string, vars map[string]string) bridge.ServerQueried {
	q := bridge.ServerQueried{
		QueryCorrelation: addr,
		Vars:             make(map[string]string),
	}
	for k, v := range vars {
		switch k {
		case "hostname", "sv_hostname":
			q.Hostname = v
		case "clients":
			q.Clients = parseInt(v)
		case "sv_maxclients":
			q.MaxClients = parseInt(v)
		case "gametype", "g_gametype":
			q.GameType = v
		case "mapname":
			q.MapName = v
		case "gamename":
			q.GameName = v
		case "iv":
			q.IconVersion = parseInt(v)
		default:
			q.Vars[k] = v
		}
	}
	return q
}

func newChallenge() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
