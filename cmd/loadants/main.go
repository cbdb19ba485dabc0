// Command loadants runs the DoH forwarder: it loads YAML configuration,
// wires every component (cache, router, upstream manager, remote rule
// loader, UDP/TCP/DoH/admin listeners) and blocks until a shutdown signal.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jroosing/loadants/internal/config"
	"github.com/jroosing/loadants/internal/logging"
	"github.com/jroosing/loadants/internal/server"
)

// version is set by the release build via -ldflags; "dev" otherwise.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath     string
	validateConfig bool
	showVersion    bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML configuration file")
	flag.BoolVar(&f.validateConfig, "validate-config", false, "Load and validate configuration, then exit")
	flag.BoolVar(&f.showVersion, "version", false, "Print version and exit")
	flag.Parse()
	return f
}

func run() error {
	flags := parseFlags()

	if flags.showVersion {
		fmt.Println("loadants " + version)
		return nil
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if flags.validateConfig {
		fmt.Println("configuration is valid")
		return nil
	}

	logger := logging.Configure(logging.Config{
		Level:      cfg.Logging.Level,
		Structured: cfg.Logging.Structured,
	})
	logger.Info("loadants starting",
		"config", flags.configPath,
		"udp_port", cfg.Server.UDPPort,
		"tcp_port", cfg.Server.TCPPort,
		"doh_port", cfg.Server.DoHPort,
		"api_enabled", cfg.API.Enabled,
		"version", version,
	)

	runner := server.NewRunner(logger)
	if err := runner.Run(cfg); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}
