package sshchain

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"
)

// Fallbacks applied by resolveEndpoint when neither the hop nor the chain
// defaults carry a value.
const (
	DefaultPort         = 22
	DefaultReadyTimeout = 60 * time.Second
)

// Hop describes one host in the chain. Name is the key used to address the
// hop in later Exec/Storage/AddRemote calls and must be unique within the
// chain. All other fields except Host are optional; missing values are
// filled in from the chain Defaults and finally from built-in fallbacks.
type Hop struct {
	Name         string
	Host         string
	Port         int
	Username     string
	Password     string
	PrivateKey   []byte // PEM-encoded private key
	ReadyTimeout time.Duration
}

// Defaults carries chain-wide fallback values applied to every hop that
// lacks the corresponding field.
type Defaults struct {
	Port         int
	Username     string
	Password     string
	PrivateKey   []byte
	ReadyTimeout time.Duration
}

// Endpoint is a fully resolved connection descriptor. It is derived from a
// Hop and the chain Defaults on every connection attempt and never mutated
// afterwards.
type Endpoint struct {
	Name         string
	Host         string
	Port         int
	Username     string
	Password     string
	PrivateKey   []byte
	ReadyTimeout time.Duration
}

// resolveEndpoint merges a hop with the chain defaults. Precedence is
// hop field > default > built-in fallback. It is deterministic and total;
// resolved values never leak back into the hop or the defaults.
func resolveEndpoint(h Hop, d Defaults) Endpoint {
	ep := Endpoint{
		Name:         h.Name,
		Host:         h.Host,
		Port:         h.Port,
		Username:     h.Username,
		Password:     h.Password,
		PrivateKey:   h.PrivateKey,
		ReadyTimeout: h.ReadyTimeout,
	}
	if ep.Port == 0 {
		ep.Port = d.Port
	}
	if ep.Port == 0 {
		ep.Port = DefaultPort
	}
	if ep.Username == "" {
		ep.Username = d.Username
	}
	if ep.Password == "" {
		ep.Password = d.Password
	}
	if ep.PrivateKey == nil {
		ep.PrivateKey = d.PrivateKey
	}
	if ep.ReadyTimeout == 0 {
		ep.ReadyTimeout = d.ReadyTimeout
	}
	if ep.ReadyTimeout == 0 {
		ep.ReadyTimeout = DefaultReadyTimeout
	}
	return ep
}

// Addr returns the host:port dial address for the endpoint.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s (%s@%s:%d)", e.Name, e.Username, e.Host, e.Port)
}

// hopSpecRegex matches [name=]user@host[:port]
var hopSpecRegex = regexp.MustCompile(`^(?:([^=@:]+)=)?([^@]+)@([^:]+)(?::(\d+))?$`)

// errors
var (
	ErrInvalidFormat = errors.New("invalid format")
)

// ParseHop parses a hop spec of the form "[name=]user@host[:port]". If the
// name is omitted it defaults to the host; if the port is omitted it is left
// unset so the chain defaults apply.
func ParseHop(s string) (Hop, error) {
	m := hopSpecRegex.FindStringSubmatch(s)
	if m == nil {
		return Hop{}, fmt.Errorf("%w: expected [name=]user@host[:port] in [%s]", ErrInvalidFormat, s)
	}

	h := Hop{
		Name:     m[1],
		Username: m[2],
		Host:     m[3],
	}
	if h.Name == "" {
		h.Name = h.Host
	}
	if m[4] != "" {
		port, err := strconv.ParseInt(m[4], 10, 32)
		if err != nil {
			return Hop{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		h.Port = int(port)
	}
	return h, nil
}

func (h Hop) String() string {
	return fmt.Sprintf("%s@%s:%d", h.Username, h.Host, h.Port)
}
