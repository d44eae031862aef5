package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind              string
	codeAttempts      int
	disconnectTimeout time.Duration
	graceWindow       time.Duration
	pingPeriod        time.Duration
	port              int
	prefix            string
	profile           bool
	reapInterval      time.Duration
	sessionTimeout    time.Duration
	tlsCert           string
	tlsKey            string
	verbose           bool
	version           bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.codeAttempts < 1 {
		return fmt.Errorf("invalid code attempts (must be at least 1): %d", c.codeAttempts)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"disconnect-timeout", c.disconnectTimeout},
		{"grace-window", c.graceWindow},
		{"ping-period", c.pingPeriod},
		{"reap-interval", c.reapInterval},
		{"session-timeout", c.sessionTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("invalid --%s (must be positive): %s", d.name, d.value)
		}
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// pongWait is how long a socket may stay silent before it is considered dead.
func (c *Config) pongWait() time.Duration {
	return c.pingPeriod * 10 / 9
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("FISHKA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "fishka",
		Short:         "Room coordination server for the Fishka party games.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: FISHKA_BIND)")
	fs.IntVar(&cfg.codeAttempts, "code-attempts", 64, "room code draws before creation gives up (env: FISHKA_CODE_ATTEMPTS)")
	fs.DurationVar(&cfg.disconnectTimeout, "disconnect-timeout", 5*time.Second, "time a dropped connection may take to come back before the player is marked disconnected (env: FISHKA_DISCONNECT_TIMEOUT)")
	fs.DurationVar(&cfg.graceWindow, "grace-window", 60*time.Second, "time a disconnected player keeps their roster slot (env: FISHKA_GRACE_WINDOW)")
	fs.DurationVar(&cfg.pingPeriod, "ping-period", 30*time.Second, "interval between websocket pings (env: FISHKA_PING_PERIOD)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: FISHKA_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: FISHKA_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: FISHKA_PROFILE)")
	fs.DurationVar(&cfg.reapInterval, "reap-interval", 15*time.Second, "how often abandoned rooms and sessions are swept (env: FISHKA_REAP_INTERVAL)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 24*time.Hour, "time before an unused session token is forgotten (env: FISHKA_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: FISHKA_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: FISHKA_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: FISHKA_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: FISHKA_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("fishka v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
