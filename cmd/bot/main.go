// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/voicebox/internal/api/connect"
	"github.com/osa030/voicebox/internal/app/filter"
	"github.com/osa030/voicebox/internal/app/notification"
	"github.com/osa030/voicebox/internal/app/resolver"
	"github.com/osa030/voicebox/internal/app/session"
	"github.com/osa030/voicebox/internal/app/session/registry"
	"github.com/osa030/voicebox/internal/infra/config"
	"github.com/osa030/voicebox/internal/infra/discord"
	"github.com/osa030/voicebox/internal/infra/logger"
	"github.com/osa030/voicebox/internal/infra/spotify"
	"github.com/osa030/voicebox/internal/infra/youtube"
)

var (
	app        = kingpin.New("voicebox", "voicebox Discord music bot")
	configPath = app.Flag("config", "Path to config file").Default("config/bot.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to JSON log file (in addition to the console)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{Level: "info", File: *logfile}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	zlog.Info().Msgf("loading config: path=%s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("bot error: %+v", err)
		logCloser.Close()
		os.Exit(1)
	}
}

// run wires the components and blocks until a shutdown signal arrives.
func run(cfg *config.Config) error {
	ctx := context.Background()

	dg, err := discord.NewGatewaySession(cfg)
	if err != nil {
		return err
	}
	chat := discord.NewChat(dg)
	transport := discord.NewTransport(dg, cfg)

	notices := notification.NewManager(cfg.SendTimeout())
	defer notices.Close()

	yt := youtube.New(youtube.Config{
		HTTPClient: &http.Client{Timeout: time.Duration(cfg.YouTube.RequestTimeoutSec) * time.Second},
	})

	// Left nil when credentials are missing; Load drops the provider then.
	var sp resolver.SpotifyClient
	if cfg.Spotify.Enabled() {
		client, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Spotify client")
		}
		sp = client
	}

	chain, err := resolver.NewChainFromConfig(cfg, yt, sp)
	if err != nil {
		return errors.Wrap(err, "failed to create resolver")
	}
	for _, p := range chain.Providers() {
		zlog.Info().Msgf("resolver provider: name=%s", p.DisplayName)
	}

	reg := registry.New(session.NewSessionFactory(cfg, transport, resolver.NewOpener(yt), notices))
	sessionMgr, err := session.NewManager(cfg, reg, chain)
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}
	defer sessionMgr.Close()
	for _, f := range sessionMgr.Filters() {
		zlog.Info().Msgf("filter enabled: name=%s", f.Name())
	}

	dispatcher := discord.NewDispatcher(cfg, sessionMgr, chat)
	bot := discord.NewBot(dg, dispatcher, cfg.Discord.Status)
	sinkID := notices.Subscribe(discord.NewSink(cfg, chat))
	defer notices.Unsubscribe(sinkID)

	if err := bot.Open(); err != nil {
		return err
	}

	serverErrCh := make(chan error, 1)
	var server *http.Server
	if cfg.Admin.Addr != "" {
		adminPath, adminHandler := apiconnect.NewAdminServiceHandler(
			apiconnect.NewAdminService(sessionMgr, notices),
			connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg)),
		)
		mux := http.NewServeMux()
		mux.Handle(adminPath, adminHandler)

		// h2c serves HTTP/2 without TLS for streaming clients
		server = &http.Server{
			Addr:    cfg.Admin.Addr,
			Handler: h2c.NewHandler(mux, &http2.Server{}),
		}
		go func() {
			zlog.Info().Msgf("starting admin server: addr=%s", cfg.Admin.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrCh <- err
			}
		}()
	} else {
		zlog.Info().Msg("admin server disabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		zlog.Info().Msgf("received shutdown signal: signal=%s", sig)
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "admin server error")
	}

	// Leave voice before the gateway closes
	sessionMgr.Close()
	if err := bot.Close(); err != nil {
		zlog.Error().Msgf("failed to close gateway: %v", err)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("failed to shutdown admin server: %v", err)
		}
	}

	zlog.Info().Msg("bot stopped")
	return runErr
}

// printFilters prints available filters.
func printFilters() {
	registered := filter.GetRegistered()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Println("Available Filters:")
	for _, name := range names {
		f := registered[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}
