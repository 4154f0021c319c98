package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pokerbridge/internal/config"
	"pokerbridge/internal/crypto"
	"pokerbridge/internal/debuglog"
	"pokerbridge/internal/metrics"
	"pokerbridge/internal/network"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "room":
		return runRoom(args[1:], stdout, stderr)
	case "table":
		return runTable(args[1:], stdout, stderr)
	case "player":
		return runPlayer(args[1:], os.Stdin, stdout, stderr)
	case "forum":
		return runForum(args[1:], stdout, stderr)
	case "genkey":
		return runGenkey(args[1:], stdout, stderr)
	case "status":
		return runStatus(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: pokerbridge <room|table|player|forum|genkey|status> [args]")
	fmt.Fprintln(w, "  room   --devtls [--addr <ip:port>]")
	fmt.Fprintln(w, "  table  [--env .env] [--debug] [--insecure]")
	fmt.Fprintln(w, "  player --id <identity> [--lead] [--env .env] [--debug] [--insecure]")
	fmt.Fprintln(w, "  forum  [--env .env] [--debug] [--insecure]")
	fmt.Fprintln(w, "  genkey --id <identity> [--keys <dir>]")
	fmt.Fprintln(w, "  status [--file <metrics.json>]")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadConfig applies the shared --env and --debug flags.
func loadConfig(envFile string, debug bool, stderr io.Writer) (config.Config, bool) {
	cfg, err := config.Load(envFile)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return config.Config{}, false
	}
	if debug {
		cfg.Debug = true
	}
	return cfg, true
}

func runRoom(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("room", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", ".env", "optional env file")
	addr := fs.String("addr", "", "listen addr (default POKERBRIDGE_ROOM_ADDR)")
	devTLS := fs.Bool("devtls", false, "allow deterministic dev TLS certs (unsafe)")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, ok := loadConfig(*envFile, *debug, stderr)
	if !ok {
		return 1
	}
	if *addr == "" {
		*addr = cfg.RoomAddr
	}
	if !*devTLS && !cfg.DevTLS {
		fmt.Fprintln(stderr, "dev TLS disabled by default; pass --devtls to enable")
		return 1
	}
	fmt.Fprintln(stderr, "WARNING: using deterministic dev TLS certificates")
	log := debuglog.New(stderr, cfg.Debug)

	ln, err := network.Listen(*addr, true)
	if err != nil {
		fmt.Fprintf(stderr, "room listen failed: %v\n", err)
		return 1
	}
	defer ln.Close()
	hub := network.NewHub(network.HubOptions{
		MaxConnsPerIP: cfg.RoomMaxConnsPerIP,
		PostLimit:     cfg.RoomPostLimit,
		PostWindow:    cfg.RoomPostWindow,
		Logger:        log,
	})
	ctx, stop := signalContext()
	defer stop()
	banner(stdout, bannerInfo{Mode: "room", Addr: ln.Addr().String(), Channel: cfg.Channel})
	if err := hub.Serve(ctx, ln); err != nil {
		fmt.Fprintf(stderr, "room failed: %v\n", err)
		return 1
	}
	return 0
}

func runGenkey(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("genkey", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "identity handle")
	keys := fs.String("keys", "", "keys directory (default POKERBRIDGE_KEYS_DIR)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == "" {
		fmt.Fprintln(stderr, "missing --id")
		return 1
	}
	dir := *keys
	if dir == "" {
		cfg, ok := loadConfig(".env", false, stderr)
		if !ok {
			return 1
		}
		dir = cfg.KeysDir
	}
	pub, err := crypto.GenerateIdentity(dir, *id)
	if err != nil {
		fmt.Fprintf(stderr, "genkey failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s %s\n", *id, hex.EncodeToString(pub))
	return 0
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "metrics snapshot (default POKERBRIDGE_METRICS_FILE)")
	n := fs.Int("n", 10, "recent events to show")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	path := *file
	if path == "" {
		cfg, ok := loadConfig(".env", false, stderr)
		if !ok {
			return 1
		}
		path = cfg.MetricsFile
	}
	if path == "" {
		fmt.Fprintln(stderr, "status: no metrics file; pass --file or set POKERBRIDGE_METRICS_FILE")
		return 1
	}
	snap, err := metrics.ReadSnapshot(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stdout, "status: no snapshot at %s\n", path)
			return 0
		}
		fmt.Fprintf(stderr, "status: %v\n", err)
		return 1
	}
	r := snap.Relay
	fmt.Fprintf(stdout, "Identity %s (snapshot %s)\n", snap.Identity, snap.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(stdout, "  received: %d dispatched: %d\n", r.Received, r.Dispatched)
	fmt.Fprintf(stdout, "  sent: %d failed: %d\n", r.Sent, r.SendFailed)
	fmt.Fprintf(stdout, "  dropped: self=%d parse=%d not_addressed=%d invalid_sig=%d unauthorized=%d\n",
		r.DropSelf, r.DropParse, r.DropNotAddressed, r.DropInvalidSig, r.DropUnauthorized)
	if f := snap.Forum; f.Sessions > 0 || f.Forwarded > 0 || f.Suppressed > 0 {
		fmt.Fprintf(stdout, "  forum: sessions=%d forwarded=%d suppressed=%d\n", f.Sessions, f.Forwarded, f.Suppressed)
	}
	recent := snap.Recent
	if *n > 0 && len(recent) > *n {
		recent = recent[len(recent)-*n:]
	}
	for _, e := range recent {
		fmt.Fprintf(stdout, "  %s %s %s\n", e.At.Format(time.RFC3339), e.Author, e.Outcome)
	}
	return 0
}
