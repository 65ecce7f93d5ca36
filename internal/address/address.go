// Package address classifies user-entered server addresses.
package address

import (
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPort is the game port assumed when an address carries none.
const DefaultPort = 30120

// Kind tags the shape of a parsed address.
type Kind int

const (
	KindJoinID     Kind = iota + 1 // literal join link
	KindIP                         // literal ip:port
	KindHost                       // hostname with candidate endpoints
	KindJoinOrHost                 // bare token: join id or hostname
)

func (k Kind) String() string {
	switch k {
	case KindJoinID:
		return "join"
	case KindIP:
		return "ip"
	case KindHost:
		return "host"
	case KindJoinOrHost:
		return "join-or-host"
	default:
		return "unknown"
	}
}

// Parsed is the result of classifying one address. ID is set for join
// shapes, Address for the others (and for KindJoinOrHost), and Candidates
// holds base URLs ("https://host:port/") for host shapes. Candidates is
// never empty for KindHost and KindJoinOrHost.
type Parsed struct {
	Kind       Kind
	ID         string
	Address    string
	Candidates []string
}

// IsJoinLink reports whether the address was entered as a literal join link.
func (p Parsed) IsJoinLink() bool {
	return p.Kind == KindJoinID
}

var (
	joinLinkRe  = regexp.MustCompile(`(?i)^(?:(?:https?|fivem)://)?(?:connect/)?cfx\.re/join/([a-z0-9]+)/?$`)
	joinTokenRe = regexp.MustCompile(`(?i)^[a-z0-9]{6}$`)
	hostRe      = regexp.MustCompile(`(?i)^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$`)
)

// Classify maps raw into exactly one Parsed shape. It returns false for
// input that cannot name a server.
func Classify(raw string) (Parsed, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Parsed{}, false
	}

	if m := joinLinkRe.FindStringSubmatch(s); m != nil {
		return Parsed{Kind: KindJoinID, ID: strings.ToLower(m[1])}, true
	}

	if strings.Contains(s, "://") {
		return classifyURL(s)
	}

	if ap, err := netip.ParseAddrPort(s); err == nil {
		return Parsed{Kind: KindIP, Address: ap.String()}, true
	}
	if ip, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
		return Parsed{Kind: KindIP, Address: netip.AddrPortFrom(ip, DefaultPort).String()}, true
	}

	if joinTokenRe.MatchString(s) {
		id := strings.ToLower(s)
		return Parsed{
			Kind:       KindJoinOrHost,
			ID:         id,
			Address:    id,
			Candidates: hostCandidates(id, ""),
		}, true
	}

	host, port := s, ""
	if h, p, err := net.SplitHostPort(s); err == nil {
		host, port = h, p
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return Parsed{}, false
		}
	}
	if !hostRe.MatchString(host) {
		return Parsed{}, false
	}
	return Parsed{
		Kind:       KindHost,
		Address:    strings.ToLower(s),
		Candidates: hostCandidates(strings.ToLower(host), port),
	}, true
}

func classifyURL(s string) (Parsed, bool) {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return Parsed{}, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Parsed{}, false
	}
	base := u.Scheme + "://" + strings.ToLower(u.Host) + strings.TrimSuffix(u.Path, "/") + "/"
	return Parsed{
		Kind:       KindHost,
		Address:    base,
		Candidates: []string{base},
	}, true
}

func hostCandidates(host, port string) []string {
	if port != "" {
		hp := net.JoinHostPort(host, port)
		return []string{"https://" + hp + "/", "http://" + hp + "/"}
	}
	return []string{
		"https://" + host + "/",
		"http://" + net.JoinHostPort(host, strconv.Itoa(DefaultPort)) + "/",
	}
}

// QueryAddress turns a candidate base URL into the host:port used for a
// direct game-port query. URLs without a port use DefaultPort.
func QueryAddress(candidate string) string {
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return candidate
	}
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), strconv.Itoa(DefaultPort))
}

// IsHTTPS reports whether candidate is an https base URL.
func IsHTTPS(candidate string) bool {
	return strings.HasPrefix(strings.ToLower(candidate), "https://")
}
