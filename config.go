package sshchain

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Config contains the configuration for a chain.
type Config struct {
	// Hops is the ordered list of hosts the chain connects through, the last
	// of which is the chain end. The order is fixed once the chain is created.
	Hops []Hop
	// Defaults supplies fallback values for hop fields left unset.
	Defaults Defaults
	// Logger receives lifecycle messages. Defaults to a logrus-backed logger.
	Logger Logger
	// UseAgent enables ssh-agent authentication when SSH_AUTH_SOCK is set.
	UseAgent bool
	// KnownHostsPath points to a known_hosts file used for host key
	// verification. Empty means no verification (all keys accepted).
	KnownHostsPath string
	// HostKeyCB overrides known_hosts based verification when set.
	HostKeyCB ssh.HostKeyCallback
	// KeepAlive is the interval for per-session keep-alive requests, which
	// double as the disconnect detector. Use 0 to disable.
	KeepAlive time.Duration
	// TrackConns makes Disconnect close any connections opened through Dial.
	TrackConns bool

	// OnBeforeConnect runs before any network activity in Connect. An error
	// aborts the connect.
	OnBeforeConnect func() error
	// OnHopConnected runs after each hop reaches its ready state, with the
	// hop's position and original descriptor. An error aborts the remaining
	// chain build.
	OnHopConnected func(index int, hop Hop) error
	// OnBeforeDisconnect runs before Disconnect tears anything down. Errors
	// are logged, not propagated.
	OnBeforeDisconnect func() error
}

// Option is a configuration option
type Option func(*Config) error

func defaultConfig() Config {
	return Config{
		KeepAlive:  30 * time.Second,
		TrackConns: true,
		Logger:     NewLogrusLogger(log.StandardLogger()),
	}
}

// WithHop adds a single hop in "[name=]user@host[:port]" form. If the port is
// omitted the chain defaults apply; if the name is omitted it defaults to the
// host.
func WithHop(s string) Option {
	return func(c *Config) error {
		h, err := ParseHop(s)
		if err != nil {
			return err
		}
		c.Hops = append(c.Hops, h)
		return nil
	}
}

// WithHops adds multiple pre-built Hop descriptors to the configuration.
func WithHops(hops ...Hop) Option {
	return func(c *Config) error {
		c.Hops = append(c.Hops, hops...)
		return nil
	}
}

// WithDefaults sets the chain-wide fallback values applied to every hop
// lacking the corresponding field.
func WithDefaults(d Defaults) Option {
	return func(c *Config) error {
		c.Defaults = d
		return nil
	}
}

// WithKeyFile loads a PEM private key from disk and installs it as the
// default key for every hop that does not carry its own.
func WithKeyFile(path string) Option {
	return func(c *Config) error {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read key %q: %w", path, err)
		}
		if _, err := ssh.ParsePrivateKey(b); err != nil {
			return fmt.Errorf("parse key %q: %w", path, err)
		}
		c.Defaults.PrivateKey = b
		return nil
	}
}

// WithAgent enables using the SSH agent for authentication, if SSH_AUTH_SOCK is set.
func WithAgent() Option {
	return func(c *Config) error {
		c.UseAgent = true
		return nil
	}
}

// WithKnownHosts sets the path to a known_hosts file for host key verification.
func WithKnownHosts(path string) Option {
	return func(c *Config) error {
		c.KnownHostsPath = path
		return nil
	}
}

// WithHostKeyCallback sets a custom ssh.HostKeyCallback for host key verification.
// This overrides known_hosts file configuration.
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(c *Config) error {
		c.HostKeyCB = cb
		return nil
	}
}

// WithKeepAlive sets the interval for sending SSH keep-alive requests to each
// session. Use 0 to disable keep-alives. Default is 30 seconds.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Config) error {
		c.KeepAlive = d
		return nil
	}
}

// WithConnTracking enables or disables connection tracking. When enabled,
// Disconnect also closes any connections created through Dial.
func WithConnTracking(enable bool) Option {
	return func(c *Config) error {
		c.TrackConns = enable
		return nil
	}
}

// WithLogger replaces the default logrus-backed logger.
func WithLogger(l Logger) Option {
	return func(c *Config) error {
		c.Logger = l
		return nil
	}
}

// WithOnBeforeConnect installs the pre-connect hook.
func WithOnBeforeConnect(f func() error) Option {
	return func(c *Config) error {
		c.OnBeforeConnect = f
		return nil
	}
}

// WithOnHopConnected installs the post-hop-connected hook.
func WithOnHopConnected(f func(index int, hop Hop) error) Option {
	return func(c *Config) error {
		c.OnHopConnected = f
		return nil
	}
}

// WithOnBeforeDisconnect installs the pre-disconnect hook.
func WithOnBeforeDisconnect(f func() error) Option {
	return func(c *Config) error {
		c.OnBeforeDisconnect = f
		return nil
	}
}

// PairConfig is the legacy two-hop shorthand: a jump host and a remote host
// reached through it. It translates into a two-hop Config with the hop names
// fixed to "jump" and "remote".
type PairConfig struct {
	Jump     Hop
	Remote   Hop
	Defaults Defaults
	Logger   Logger

	OnJumpConnected   func(hop Hop) error
	OnRemoteConnected func(hop Hop) error
}

// Chain translates the shorthand into a full chain Config. The per-host
// callbacks are adapted into a single OnHopConnected hook dispatching on the
// hop position.
func (p PairConfig) Chain() Config {
	cfg := defaultConfig()
	jump := p.Jump
	jump.Name = "jump"
	remote := p.Remote
	remote.Name = "remote"
	cfg.Hops = []Hop{jump, remote}
	cfg.Defaults = p.Defaults
	if p.Logger != nil {
		cfg.Logger = p.Logger
	}

	onJump, onRemote := p.OnJumpConnected, p.OnRemoteConnected
	if onJump != nil || onRemote != nil {
		cfg.OnHopConnected = func(index int, hop Hop) error {
			switch index {
			case 0:
				if onJump != nil {
					return onJump(hop)
				}
			case 1:
				if onRemote != nil {
					return onRemote(hop)
				}
			}
			return nil
		}
	}
	return cfg
}
