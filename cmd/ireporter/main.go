package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/noah-isme/ireporter/internal/client/geo"
	"github.com/noah-isme/ireporter/internal/client/reports"
	"github.com/noah-isme/ireporter/internal/client/session"
	"github.com/noah-isme/ireporter/pkg/config"
	"github.com/noah-isme/ireporter/pkg/logger"
)

const usage = `usage: ireporter <command> [flags]

commands:
  signup    create a citizen account
  login     sign in and remember the session
  logout    forget the session
  password  change the signed-in user's password
  whoami    show the signed-in user
  can       check whether the session may open a view
  list      list your reports (admins: -all for every report)
  show      show one report and the actions available on it
  create    file a red-flag or intervention
  edit      change a draft
  delete    delete a draft
  status    move a report along its lifecycle (admins)
  attach    attach images or videos to a draft
  export    download every report as csv or pdf (admins)`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logr, err := logger.NewCLI(os.Getenv("IREPORTER_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	persister, err := session.NewFilePersister(cfg.Client.SessionDir)
	if err != nil {
		logr.Fatal("session store unavailable", zap.Error(err))
	}
	a := newApp(cfg, persister, os.Stdout, logr)
	os.Exit(a.run(ctx, os.Args[1:]))
}

type app struct {
	cfg      *config.Config
	store    *session.Store
	reports  *reports.Client
	geocoder geo.ReverseGeocoder
	out      io.Writer
	logger   *zap.Logger
}

func newApp(cfg *config.Config, persister session.Persister, out io.Writer, logr *zap.Logger) *app {
	store := session.New(session.Config{
		BaseURL:    cfg.Client.APIBaseURL,
		Timeout:    cfg.Client.Timeout,
		Persister:  persister,
		Revalidate: cfg.Client.RevalidateSession,
		Logger:     logr,
	})
	geocoder := geo.NewReverseGeocoder(cfg.Geocoder.Provider, cfg.Geocoder.UserAgent, cfg.Geocoder.MapboxToken, cfg.Geocoder.Timeout, logr)
	return &app{
		cfg:   cfg,
		store: store,
		reports: reports.New(store, store.Client(), reports.Config{
			EndpointShape:  cfg.Client.EndpointShape,
			MaxUploadBytes: cfg.Media.MaxFileSizeBytes,
			Logger:         logr,
		}),
		geocoder: geocoder,
		out:      out,
		logger:   logr,
	}
}

func (a *app) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(a.out, usage)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(a.out, "unknown command %q\n\n%s\n", args[0], usage)
		return 2
	}
	if err := cmd(a, ctx, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintf(a.out, "error: %s\n", describe(err))
		return 1
	}
	return 0
}
