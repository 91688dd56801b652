package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/target/portal-session/config"
	"github.com/target/portal-session/internal/bootstrap"
	"github.com/target/portal-session/internal/service"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer
	In     io.Reader
}

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if _, err := fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmdCtx := &commandContext{
		Ctx:    ctx,
		Logger: logger,
		Config: cfg,
		Out:    os.Stdout,
		In:     os.Stdin,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		stop()
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations for the postgres session store",
			run:         runMigrations,
		},
		"fingerprint": {
			name:        "fingerprint",
			description: "Print the device key derived from DEVICE_* settings",
			run:         runFingerprint,
		},
		"session-show": {
			name:        "session-show",
			description: "Show the persisted session and login hints",
			run:         runSessionShow,
		},
		"session-clear": {
			name:        "session-clear",
			description: "Remove the persisted session and login hints",
			run:         runSessionClear,
		},
	}
}

func printUsage(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Usage: portal-admin <command> [flags]\n\nAvailable commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	for _, name := range slices.Sorted(maps.Keys(cmds)) {
		c := cmds[name]
		if _, err := fmt.Fprintf(w, "  %-16s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{Timeout: defaultMigrationTimeout}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	cmdCtx.Logger.Info("running database migrations")
	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return fmt.Errorf("run migrations: %w", migrateErr)
	}
	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func runFingerprint(cmdCtx *commandContext, _ []string) error {
	_, err := fmt.Fprintln(cmdCtx.Out, bootstrap.DeviceKey(cmdCtx.Config.Device))
	return err
}

// withSessions opens the configured store and hands fn a session store over it.
func withSessions(cmdCtx *commandContext, fn func(*service.SessionStore) error) error {
	store, err := bootstrap.OpenStore(cmdCtx.Ctx, bootstrap.StoreConfig{
		Store:    cmdCtx.Config.Store,
		Postgres: cmdCtx.Config.Postgres,
		Redis:    cmdCtx.Config.Redis,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("store close failed", "error", closeErr)
		}
	}()
	return fn(service.NewSessionStore(service.SessionStoreOptions{KV: store.KV, Logger: cmdCtx.Logger}))
}

func runSessionShow(cmdCtx *commandContext, _ []string) error {
	return withSessions(cmdCtx, func(sessions *service.SessionStore) error {
		return printSession(cmdCtx.Ctx, cmdCtx.Out, sessions)
	})
}

func printSession(ctx context.Context, out io.Writer, sessions *service.SessionStore) error {
	sess, found, err := sessions.Load(ctx)
	if err != nil {
		return err
	}
	hints, err := sessions.Hints(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if found {
		_, _ = fmt.Fprintf(tw, "Identity:\t%s\n", sess.Identity.ID)
		_, _ = fmt.Fprintf(tw, "Role:\t%s\n", sess.Identity.Role)
		_, _ = fmt.Fprintf(tw, "Guest:\t%t\n", sess.Identity.IsGuest)
		_, _ = fmt.Fprintf(tw, "Contact:\t%s\n", valueOr(sess.Identity.Contact, "-"))
		_, _ = fmt.Fprintf(tw, "Credential:\t%s\n", redact(sess.Credential.String()))
	} else {
		_, _ = fmt.Fprintf(tw, "Identity:\t(none)\n")
	}
	_, _ = fmt.Fprintf(tw, "Remember me:\t%t\n", hints.RememberMe)
	_, _ = fmt.Fprintf(tw, "Remembered contact:\t%s\n", valueOr(hints.RememberedContact, "-"))
	return tw.Flush()
}

type sessionClearOptions struct {
	Yes bool
}

func parseSessionClearFlags(args []string) (sessionClearOptions, error) {
	fs := flag.NewFlagSet("session-clear", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var opts sessionClearOptions
	fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return sessionClearOptions{}, err
	}
	return opts, nil
}

func runSessionClear(cmdCtx *commandContext, args []string) error {
	opts, err := parseSessionClearFlags(args)
	if err != nil {
		return err
	}
	if !opts.Yes {
		ok, confirmErr := confirm(cmdCtx.In, cmdCtx.Out, "About to remove the persisted session and login hints.")
		if confirmErr != nil {
			return confirmErr
		}
		if !ok {
			_, err = fmt.Fprintln(cmdCtx.Out, "Aborted.")
			return err
		}
	}
	return withSessions(cmdCtx, func(sessions *service.SessionStore) error {
		if clearErr := sessions.ClearAll(cmdCtx.Ctx); clearErr != nil {
			return clearErr
		}
		_, err := fmt.Fprintln(cmdCtx.Out, "Session cleared.")
		return err
	})
}

func confirm(in io.Reader, out io.Writer, intro string) (bool, error) {
	if _, err := fmt.Fprintf(out, "%s\nContinue? [y/N]: ", intro); err != nil {
		return false, fmt.Errorf("print confirmation prompt: %w", err)
	}
	resp, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(resp)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// redact keeps only enough of a credential to tell two apart.
func redact(v string) string {
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + "…" + v[len(v)-4:]
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
