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
	adminHash   string
	bind        string
	generalHash string
	port        int
	prefix      string
	profile     bool
	sessionTTL  time.Duration
	tlsCert     string
	tlsKey      string
	verbose     bool
	version     bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.sessionTTL < 0 {
		return fmt.Errorf("invalid session ttl (must not be negative): %s", c.sessionTTL)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TABLETOP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "tabletop",
		Short:         "A shared virtual tabletop for co-located play, synchronized over websockets.",
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

	fs.StringVar(&cfg.adminHash, "admin-hash", "", "bcrypt hash of the admin password, see the hash subcommand (env: TABLETOP_ADMIN_HASH)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TABLETOP_BIND)")
	fs.StringVar(&cfg.generalHash, "general-hash", "", "bcrypt hash of the general password, see the hash subcommand (env: TABLETOP_GENERAL_HASH)")
	fs.IntVarP(&cfg.port, "port", "p", 3000, "port to listen on (env: TABLETOP_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TABLETOP_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TABLETOP_PROFILE)")
	fs.DurationVar(&cfg.sessionTTL, "session-ttl", 24*time.Hour, "time before server-side sessions expire, 0 to keep them for the process lifetime (env: TABLETOP_SESSION_TTL)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TABLETOP_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TABLETOP_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TABLETOP_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TABLETOP_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(newHashCmd())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("tabletop v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
