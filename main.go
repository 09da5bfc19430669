package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fumapis/api"
	"fumapis/catalog"
	"fumapis/config"
	"fumapis/session"
	"fumapis/utils"
)

const usage = `usage: fumapis <command> [flags]

commands:
  login -u USER [-p PASS]    authenticate and store the session
  logout                     forget the stored session
  whoami                     show the stored session
  dashboard [-snapshot] [-export]
                             fetch citizens and print the dashboard
  unmapped [-export]         list citizens without a neighborhood
  search [flags]             search citizens (-cpf -bairro -zona -elegivel -votou -skip -limit -all)
  register [flags]           register a citizen
  update -id ID -set k=v...  change fields of a citizen
  import FILE.xlsx           upload a spreadsheet for import
  cep CEP                    look up a postal code
  validate-cpf CPF...        check CPF check digits
  history [-n N]             list stored dashboard snapshots
  serve                      run the dashboard HTTP server
`

type app struct {
	cfg     *config.Config
	logger  *utils.Logger
	catalog *catalog.Catalog
}

func main() {
	cfg := config.Load()
	logger := utils.NewLoggerWithLevel(utils.ParseLevel(cfg.LogLevel))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error("Failed to load catalog: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, logger: logger, catalog: cat}
	err = a.run(ctx, os.Args[1], os.Args[2:])
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	case errors.Is(err, session.ErrNoSession), errors.Is(err, api.ErrUnauthenticated):
		logger.Error("%v", err)
		logger.Error("Log in again with: fumapis login -u <user>")
		os.Exit(1)
	default:
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "dashboard":
		return a.dashboard(ctx, args)
	case "unmapped":
		return a.unmapped(ctx, args)
	case "search":
		return a.search(ctx, args)
	case "register":
		return a.register(ctx, args)
	case "update":
		return a.update(ctx, args)
	case "import":
		return a.importFile(ctx, args)
	case "cep":
		return a.cep(ctx, args)
	case "validate-cpf":
		return a.validateCPF(args)
	case "history":
		return a.history(ctx, args)
	case "serve":
		return a.serve(ctx)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// openStore opens the configured session store. The caller closes it.
func (a *app) openStore(ctx context.Context) (session.Store, error) {
	return session.Open(ctx, a.cfg)
}

// authedClient returns an API client carrying the stored session.
func (a *app) authedClient(ctx context.Context) (*api.Client, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	s, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Using session of %s", s.Username)
	return api.New(a.cfg, s, a.logger), nil
}

func (a *app) retry() *utils.RetryConfig {
	return &utils.RetryConfig{
		MaxAttempts: a.cfg.DBConnectAttempts,
		BaseDelay:   defaultRetryDelay,
		Logger:      a.logger,
	}
}
