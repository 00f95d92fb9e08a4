package main

// This file launches a demo master. Most of the work is being done in
// 'server.NewMasterServer()', the main purpose of this file is to turn the
// environment and command line into a config and to listen for quit signals
// from the OS.

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glowlabs-org/demo-master/server"
)

func main() {
	cfg, err := server.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Unable to read configuration:", err)
		os.Exit(1)
	}
	if err := rootCmd(&cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

// rootCmd builds the command. Flag defaults are the values taken from the
// environment, so a flag always wins over DEMO_MASTER_* variables.
func rootCmd(cfg *server.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo-master",
		Short: "Game server registry and secure demo signing authority",
		Long: `demo-master keeps a list of game servers and, when a signing key is
configured, signs the start and end of demo recordings so that third
parties can check a demo was recorded against this master.

Every flag can also be set with a DEMO_MASTER_* environment variable,
for example DEMO_MASTER_SIGNING_KEY. The key passphrase can only be set
with DEMO_MASTER_KEY_PASSPHRASE.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(*cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.ListenAddress, "listen", cfg.ListenAddress, "UDP address to listen on")
	f.StringVar(&cfg.HTTPAddress, "http", cfg.HTTPAddress, "address of the HTTP API, empty to disable")
	f.DurationVar(&cfg.ServerTimeout, "server-timeout", cfg.ServerTimeout, "how long a game server stays listed after its last ADD")
	f.IntVar(&cfg.MaxServers, "max-servers", cfg.MaxServers, "maximum number of listed game servers")
	f.DurationVar(&cfg.MetadataRefreshTime, "metadata-refresh", cfg.MetadataRefreshTime, "how often to re-query game servers for name, version and player limit")
	f.StringVar(&cfg.QueryAddress, "query-address", cfg.QueryAddress, "local address of the socket used to query game servers")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file, - for stderr")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, error or fatal")
	f.StringVar(&cfg.SigningKey, "signing-key", cfg.SigningKey, "key to sign demos with, empty disables signing")
	f.StringVar(&cfg.SigningScheme, "scheme", cfg.SigningScheme, "signing scheme: openpgp or secp256k1")
	f.StringVar(&cfg.KeyStorePath, "keystore", cfg.KeyStorePath, "OpenPGP keyring file or directory of secp256k1 key files")
	f.IntVar(&cfg.SignWorkers, "sign-workers", cfg.SignWorkers, "maximum signing requests in flight")
	f.IntVar(&cfg.SignRateLimit, "sign-rate-limit", cfg.SignRateLimit, "signing requests per IP per window, 0 for no limit")
	f.DurationVar(&cfg.SignRateWindow, "sign-rate-window", cfg.SignRateWindow, "window of the per IP signing limit")
	return cmd
}

func run(cfg server.Config) error {
	ms, err := server.NewMasterServer(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Unable to launch demo master:", err)
		return err
	}
	fmt.Printf("demo master listening on %v\n", ms.UDPAddr())
	if addr := ms.HTTPAddr(); addr != nil {
		fmt.Printf("HTTP API on %v\n", addr)
	}

	// Block until the OS asks us to quit, then shut down cleanly.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	fmt.Println()
	if err := ms.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "Error during shutdown:", err)
		return err
	}
	return nil
}
