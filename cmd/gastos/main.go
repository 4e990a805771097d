// Command gastos runs one-off ledger maintenance tasks.
//
// Commands:
//
//	migrate      Bring the record store schema up to date
//	replicate    Run recurring replication once
//	invalidate   Evict the cached pages of a month view
//	list         Print one page of a month view
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gastos/internal/backend"
	"gastos/internal/cache"
	"gastos/internal/cli"
	"gastos/internal/core"
	applog "gastos/internal/log"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "replicate":
		err = runReplicate(os.Args[2:])
	case "invalidate":
		err = runInvalidate(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  gastos <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  migrate                                   Apply pending schema migrations")
	fmt.Println("  replicate [-now 2006-01-02]               Run recurring replication once")
	fmt.Println("  invalidate -user ID -month YYYY-MM [-mode calendar|billing]")
	fmt.Println("  list -user ID -month YYYY-MM [-mode calendar|billing] [-page N] [-limit N]")
	fmt.Println()
	fmt.Println("Configuration is read from the environment and an optional .env file.")
}

// errPrivateCache is returned by commands that act on cached pages when
// the configured cache lives only inside this process.
var errPrivateCache = errors.New("CACHE_BACKEND=memory is private to this process, so there are no cached pages to act on; use CACHE_BACKEND=redis")

// open loads the configuration and wires a backend for a single command.
// The returned context carries the command's logger.
func open(ctx context.Context, needSharedCache bool) (context.Context, *backend.Backend, func(), *applog.Logger, error) {
	cli.LoadEnvFile()
	cfg, err := cli.LoadConfig()
	if err != nil {
		return ctx, nil, nil, nil, err
	}
	logger := cli.SetupLogger(cfg, applog.ComponentCLI)

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		return ctx, nil, nil, nil, err
	}
	if needSharedCache && !backendConfig.Cache.Shared() {
		return ctx, nil, nil, nil, errPrivateCache
	}
	// A short-lived command has no use for the expiry sweeper.
	backendConfig.CacheCleanupInterval = 0

	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendConfig)
	if err != nil {
		return ctx, nil, nil, nil, err
	}
	closeFn := func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Failed to close backend", applog.FieldError, err)
		}
	}
	return applog.NewContext(ctx, logger), result.Backend, closeFn, logger, nil
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	fs.Parse(args)

	// Repositories migrate on open.
	_, _, closeFn, logger, err := open(context.Background(), false)
	if err != nil {
		return err
	}
	defer closeFn()
	logger.Info("Schema is up to date", applog.FieldOperation, applog.OpMigrate)
	return nil
}

func runReplicate(args []string) error {
	fs := flag.NewFlagSet("replicate", flag.ExitOnError)
	nowFlag := fs.String("now", "", "reference date (YYYY-MM-DD), defaults to today")
	timeout := fs.Duration("timeout", 10*time.Minute, "maximum run time")
	fs.Parse(args)

	now := time.Now()
	if *nowFlag != "" {
		t, err := time.Parse(time.DateOnly, *nowFlag)
		if err != nil {
			return fmt.Errorf("parse -now: %w", err)
		}
		now = t
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ctx, b, closeFn, _, err := open(ctx, false)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := b.Replicator.ProcessRecurringExpenses(ctx, now)
	if err != nil {
		return fmt.Errorf("replicate: %w", err)
	}
	fmt.Printf("created %d, skipped %d, failed %d\n", res.Created, res.Skipped, res.Failed)
	return nil
}

type periodFlags struct {
	user  *string
	month *string
	mode  *string
}

func addPeriodFlags(fs *flag.FlagSet) periodFlags {
	return periodFlags{
		user:  fs.String("user", "", "user id"),
		month: fs.String("month", "", "month (YYYY-MM)"),
		mode:  fs.String("mode", string(core.CalendarView), "view mode (calendar|billing)"),
	}
}

func (p periodFlags) parse() (string, core.MonthKey, core.ViewMode, error) {
	if *p.user == "" {
		return "", core.MonthKey{}, "", fmt.Errorf("-user is required")
	}
	month, err := core.ParseMonthKey(*p.month)
	if err != nil {
		return "", core.MonthKey{}, "", fmt.Errorf("parse -month: %w", err)
	}
	mode := core.ViewMode(*p.mode)
	if !mode.IsValid() {
		return "", core.MonthKey{}, "", fmt.Errorf("-mode must be calendar or billing")
	}
	return *p.user, month, mode, nil
}

func runInvalidate(args []string) error {
	fs := flag.NewFlagSet("invalidate", flag.ExitOnError)
	period := addPeriodFlags(fs)
	fs.Parse(args)

	userID, month, mode, err := period.parse()
	if err != nil {
		return err
	}

	ctx, b, closeFn, logger, err := open(context.Background(), true)
	if err != nil {
		return err
	}
	defer closeFn()

	n := b.Invalidator.Invalidate(ctx, userID, []cache.Entry{{Month: month, Mode: mode}})
	fields := applog.NewFields().WithOperation(applog.OpInvalidate).WithUserID(userID).WithPeriod(month, mode)
	logger.Info("Invalidated month view", append(fields.ToSlice(), "deleted", n)...)
	fmt.Printf("deleted %d cached pages\n", n)
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	period := addPeriodFlags(fs)
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", 0, "page size")
	fs.Parse(args)

	userID, month, mode, err := period.parse()
	if err != nil {
		return err
	}

	ctx, b, closeFn, logger, err := open(context.Background(), false)
	if err != nil {
		return err
	}
	defer closeFn()

	p, err := b.Expenses.ListMonth(ctx, userID, month, mode, *page, *limit)
	if err != nil {
		return err
	}
	logger.Debug("Listed month view",
		applog.NewFields().WithOperation(applog.OpList).WithUserID(userID).WithPeriod(month, mode).ToSlice()...)
	fmt.Printf("%s %s view, page %d: %d expenses, total %s\n", p.Month, p.Mode, p.Page, p.Count, p.Total)
	for _, e := range p.Expenses {
		fmt.Printf("  %s  %-40s %10s  %s\n", e.Date, e.Description, e.Amount, e.Category)
	}
	return nil
}
