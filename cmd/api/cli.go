package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/corvusHold/certmail/internal/config"
	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	csvc "github.com/corvusHold/certmail/internal/credential/service"
	"github.com/corvusHold/certmail/internal/platform/smtpconn"
	"github.com/corvusHold/certmail/internal/sendlog"
	"github.com/corvusHold/certmail/internal/version"
)

const (
	exitOK      = 0
	exitUsage   = 2
	exitConfig  = 3
	exitMigrate = 4
	exitProbe   = 5
)

// Seams for tests.
var (
	migrateRunner = realMigrateRunner
	smtpReach     = realSMTPReach
	loadConfig    = config.Load
	osExit        = os.Exit
	stdout        io.Writer = os.Stdout
	stderr        io.Writer = os.Stderr
)

// handleCLICommand runs an admin subcommand and exits. It returns false when
// args name no subcommand and the server should start.
func handleCLICommand(args []string) bool {
	if len(args) == 0 {
		return false
	}
	var code int
	switch args[0] {
	case "migrate":
		code = runMigrate(args[1:])
	case "check-smtp":
		code = runCheckSMTP(args[1:])
	case "config":
		code = runShowConfig()
	case "version":
		fmt.Fprintln(stdout, version.String())
	case "help", "-h", "--help":
		printHelp()
	default:
		return false
	}
	osExit(code)
	return true
}

func runMigrate(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: certmail migrate up|down|status")
		return exitUsage
	}
	subcmd := args[0]
	switch subcmd {
	case "up", "down", "status":
	default:
		fmt.Fprintf(stderr, "unknown migrate subcommand: %s\n", subcmd)
		return exitUsage
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return exitConfig
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := migrateRunner(ctx, subcmd, cfg.DatabaseURL); err != nil {
		fmt.Fprintf(stderr, "migrate %s failed: %v\n", subcmd, err)
		return exitMigrate
	}
	fmt.Fprintf(stdout, "migrate %s: ok\n", subcmd)
	return exitOK
}

// runCheckSMTP resolves the provider for a sender address and checks that
// its submission endpoint answers and negotiates TLS from this host. No
// credential is sent.
func runCheckSMTP(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: certmail check-smtp <sender-address>")
		return exitUsage
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return exitConfig
	}
	prov, err := cdomain.DefaultDirectory().Lookup(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}
	ep := csvc.Endpoint(prov)
	t := smtpconn.Timeouts{Dial: cfg.SMTPDialTimeout, Greeting: cfg.SMTPGreetingTimeout, Socket: cfg.SMTPSocketTimeout}

	start := time.Now()
	if err := smtpReach(context.Background(), ep, t); err != nil {
		fmt.Fprintf(stderr, "%s (%s) unreachable: %v\n", prov.Name, ep.Addr(), err)
		return exitProbe
	}
	fmt.Fprintf(stdout, "%s (%s) reachable in %s\n", prov.Name, ep.Addr(), time.Since(start).Round(time.Millisecond))
	return exitOK
}

func runShowConfig() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return exitConfig
	}
	fmt.Fprintln(stdout, cfg.String())
	return exitOK
}

// realMigrateRunner applies the embedded send log migrations.
func realMigrateRunner(ctx context.Context, subcmd, databaseURL string) error {
	return sendlog.MigrateURL(ctx, databaseURL, subcmd)
}

func realSMTPReach(ctx context.Context, ep smtpconn.Endpoint, t smtpconn.Timeouts) error {
	s, err := smtpconn.Open(ctx, ep, smtpconn.Options{Timeouts: t})
	if err != nil {
		return err
	}
	return s.Close()
}

func printHelp() {
	fmt.Fprintf(stdout, "certmail API %s\n\n", version.String())
	fmt.Fprintln(stdout, "Usage:")
	fmt.Fprintln(stdout, "  certmail                        Start API server")
	fmt.Fprintln(stdout, "  certmail migrate up|down|status Manage send log migrations")
	fmt.Fprintln(stdout, "  certmail check-smtp <address>   Check the provider endpoint for a sender")
	fmt.Fprintln(stdout, "  certmail config                 Print the effective configuration")
	fmt.Fprintln(stdout, "  certmail version                Print the build version")
}
