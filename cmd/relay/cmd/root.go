package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nfrund/relay/internal/app"
	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/logging"
)

type serveFlags struct {
	host          string
	port          int
	queueCapacity int
	decodePolicy  string
	logLevel      string
}

// NewRootCmd builds the relay command tree.
func NewRootCmd() *cobra.Command {
	var flags serveFlags

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Real-time WebSocket chat relay",
		Long: `relay accepts WebSocket connections on /ws/chat and broadcasts every
chat message it receives to all connected clients.

Settings are read from the environment (and a .env file, if present).
Flags override the environment.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	f := rootCmd.Flags()
	f.StringVar(&flags.host, "host", config.DefaultHost, "interface to bind (RELAY_HOST)")
	f.IntVar(&flags.port, "port", config.DefaultPort, "listening port (RELAY_PORT)")
	f.IntVar(&flags.queueCapacity, "queue-capacity", config.DefaultQueueCapacity, "per-connection event buffer (RELAY_QUEUE_CAPACITY)")
	f.StringVar(&flags.decodePolicy, "decode-policy", config.DecodePolicyClose, "what to do with undecodable frames: close or skip (RELAY_DECODE_POLICY)")
	f.StringVar(&flags.logLevel, "log-level", config.DefaultLogLevel, "debug, info, warn or error (LOG_LEVEL)")

	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute executes the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the flags the user set.
func loadConfig(cmd *cobra.Command, flags serveFlags) (*config.Config, error) {
	cfg := config.New()

	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Host = flags.host
	}
	if changed("port") {
		cfg.Port = flags.port
	}
	if changed("queue-capacity") {
		cfg.QueueCapacity = flags.queueCapacity
	}
	if changed("decode-policy") {
		cfg.DecodePolicy = flags.decodePolicy
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(cfg *config.Config) error {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogNotices(logger)

	services, err := app.Resolve(app.New(cfg))
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer services.Close()

	return services.Server.Start()
}
