// Command rtl-mus is a multi-user fan-out proxy for a single rtl_tcp
// dongle: one upstream connection is multiplexed to many downstream
// clients, each gated by an IP/country allowlist and a per-opcode
// command policy.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const version = "1.0.0"

const banner = `rtl-mus %s
multi-user rtl_tcp fan-out proxy
listening: %s:%d  upstream: %s:%d
`

func main() {
	configPath := flag.String("config", "rtl-mus.yaml", "path to the YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()
	if flag.NArg() > 0 {
		*configPath = flag.Arg(0)
	}

	if *showVersion {
		fmt.Println(version)
		return
	}

	DebugMode = *debug

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtl-mus: %v\n", err)
		os.Exit(1)
	}

	if cfg.Logging.LogFilePath != "" {
		fl, err := newFileLogger(cfg.Logging.LogFilePath, cfg.Logging.RotateMaxSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rtl-mus: %v\n", err)
			os.Exit(1)
		}
		globalFileLog = fl
	}

	fmt.Printf(banner, version, cfg.Server.ListenAddress, cfg.Server.ListenPort, cfg.Server.RTLHost, cfg.Server.RTLPort)

	if err := dropPrivileges(&cfg.Privilege); err != nil {
		logErrorf("main: dropping privileges: %v", err)
		os.Exit(1)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		logErrorf("main: constructing engine: %v", err)
		os.Exit(1)
	}

	if err := engine.Start(); err != nil {
		logErrorf("main: starting engine: %v", err)
		os.Exit(1)
	}

	logInfof("main: rtl-mus %s running", version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logInfof("main: shutting down")
	engine.Stop()
}

// dropPrivileges switches to the configured unprivileged uid/gid before
// the engine starts, matching the teacher's setuid-on-start handling in
// main.go. A no-op unless enabled.
func dropPrivileges(cfg *PrivilegeConfig) error {
	if !cfg.SetuidOnStart {
		return nil
	}
	if err := syscall.Setgid(cfg.GID); err != nil {
		return fmt.Errorf("setgid(%d): %w", cfg.GID, err)
	}
	if err := syscall.Setuid(cfg.UID); err != nil {
		return fmt.Errorf("setuid(%d): %w", cfg.UID, err)
	}
	return nil
}
