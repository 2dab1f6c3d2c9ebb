package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/sshchain/sshchain"
)

var (
	flagConfig     string
	flagHops       []string
	flagUser       string
	flagAskPass    bool
	flagKeyFile    string
	flagKnownHosts string
	flagAgent      bool
	flagKeepAlive  time.Duration
	flagVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "sshchain",
	Short: "run commands, shells and file transfers across a chain of SSH hops",
	Long: `sshchain connects through an ordered list of SSH hosts, tunneling each
connection through the previous one, and lets you run commands, open shells
and transfer files on any hop in the chain.

Hops are given either with repeated --hop flags in [name=]user@host[:port]
form or through a YAML config file:

    defaults:
      username: admin
      key_file: ~/.ssh/id_ed25519
    hops:
      - name: jump
        host: bastion.example.com
      - name: app
        host: 10.0.0.5
        port: 2222`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			log.SetLevel(log.DebugLevel)
		}
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML config file with hops and defaults")
	rootCmd.PersistentFlags().StringArrayVarP(&flagHops, "hop", "H", nil, "hop spec [name=]user@host[:port], repeatable")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "default username for hops that do not set one")
	rootCmd.PersistentFlags().BoolVarP(&flagAskPass, "ask-pass", "p", false, "prompt for a default password")
	rootCmd.PersistentFlags().StringVarP(&flagKeyFile, "key", "i", "", "private key file used as default for all hops")
	rootCmd.PersistentFlags().StringVar(&flagKnownHosts, "known-hosts", "", "known_hosts file for host key verification")
	rootCmd.PersistentFlags().BoolVar(&flagAgent, "agent", false, "use ssh-agent authentication")
	rootCmd.PersistentFlags().DurationVar(&flagKeepAlive, "keepalive", 30*time.Second, "keep-alive interval, 0 disables")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildChain assembles a chain from the config file and command line flags.
// Flags win over the config file for the default values they both can set.
func buildChain() (*sshchain.Chain, error) {
	var opts []sshchain.Option

	if flagConfig != "" {
		fileOpts, err := loadConfigFile(flagConfig)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fileOpts...)
	}
	for _, spec := range flagHops {
		opts = append(opts, sshchain.WithHop(spec))
	}

	var def sshchain.Defaults
	def.Username = flagUser
	if flagAskPass {
		pw, err := promptPassword()
		if err != nil {
			return nil, err
		}
		def.Password = pw
	}
	if def.Username != "" || def.Password != "" {
		opts = append(opts, mergeDefaults(def))
	}

	if flagKeyFile != "" {
		opts = append(opts, sshchain.WithKeyFile(flagKeyFile))
	}
	if flagKnownHosts != "" {
		opts = append(opts, sshchain.WithKnownHosts(flagKnownHosts))
	}
	if flagAgent {
		opts = append(opts, sshchain.WithAgent())
	}
	opts = append(opts, sshchain.WithKeepAlive(flagKeepAlive))

	return sshchain.New(opts...)
}

// mergeDefaults overlays only the fields the flags actually set, so config
// file defaults survive unless overridden.
func mergeDefaults(d sshchain.Defaults) sshchain.Option {
	return func(c *sshchain.Config) error {
		if d.Username != "" {
			c.Defaults.Username = d.Username
		}
		if d.Password != "" {
			c.Defaults.Password = d.Password
		}
		return nil
	}
}

// loadConfigFile reads hops and defaults from a YAML file via viper.
func loadConfigFile(path string) ([]sshchain.Option, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var opts []sshchain.Option

	def := sshchain.Defaults{
		Port:     v.GetInt("defaults.port"),
		Username: v.GetString("defaults.username"),
		Password: v.GetString("defaults.password"),
	}
	if t := v.GetDuration("defaults.ready_timeout"); t > 0 {
		def.ReadyTimeout = t
	}
	opts = append(opts, sshchain.WithDefaults(def))
	if kf := v.GetString("defaults.key_file"); kf != "" {
		opts = append(opts, sshchain.WithKeyFile(kf))
	}
	if kh := v.GetString("known_hosts"); kh != "" {
		opts = append(opts, sshchain.WithKnownHosts(kh))
	}

	var hops []struct {
		Name     string `mapstructure:"name"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		KeyFile  string `mapstructure:"key_file"`
	}
	if err := v.UnmarshalKey("hops", &hops); err != nil {
		return nil, fmt.Errorf("parse hops: %w", err)
	}
	for _, h := range hops {
		hop := sshchain.Hop{
			Name:     h.Name,
			Host:     h.Host,
			Port:     h.Port,
			Username: h.Username,
			Password: h.Password,
		}
		if h.KeyFile != "" {
			b, err := os.ReadFile(h.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("read key for hop %q: %w", h.Name, err)
			}
			hop.PrivateKey = b
		}
		opts = append(opts, sshchain.WithHops(hop))
	}
	return opts, nil
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
