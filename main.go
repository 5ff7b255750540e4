package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/ratelimit"

	"radio-relay/work/cache"
	"radio-relay/work/client"
	"radio-relay/work/config"
	"radio-relay/work/database"
	"radio-relay/work/directory"
	"radio-relay/work/discovery"
	"radio-relay/work/handlers"
	"radio-relay/work/icy"
	"radio-relay/work/logger"
	"radio-relay/work/middleware"
	"radio-relay/work/netguard"
	"radio-relay/work/player"
	"radio-relay/work/relay"
	"radio-relay/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// nowPlayingEntries bounds the ICY title cache
const nowPlayingEntries = 10000

func main() {
	writeConfig := flag.String("write-config", "", "write an example config to this path and exit")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateExampleConfig(*writeConfig); err != nil {
			logger.Fatal("{main} failed to write example config: %v", err)
		}
		logger.Info("{main} example config written to %s", *writeConfig)
		return
	}

	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)
	utils.SetURLObfuscation(cfg.ObfuscateUrls)

	guard := &netguard.Guard{AllowPrivate: cfg.Relay.AllowPrivateNetworks}

	// directory: discovery, query cache and the rate limited client
	disc := discovery.New(nil, discovery.OptionsFromConfig(cfg.Directory))
	queryCache := cache.NewQueryCache(cfg.Directory.CacheTTL)
	apiClient := client.NewHeaderSettingClient(client.NewAPIClient(cfg.Directory.RequestTimeout), map[string]string{
		"User-Agent":   cfg.Directory.UserAgent,
		"Content-Type": "application/json",
	})
	dir := directory.New(apiClient, disc, queryCache, ratelimit.New(cfg.Directory.RequestsPerSecond), directory.OptionsFromConfig(cfg.Directory))

	// relay: primary HTTP path with the raw socket fallback
	streamRelay := relay.New(guard, relay.NewHTTPFetcher(guard, cfg.Relay), relay.NewSocketFetcher(guard, cfg.Relay))
	registry := relay.NewRegistry(cfg.Relay.MaxRelays)

	// now playing
	extractor, err := icy.New(icy.NewHarvester(guard, cfg), cache.NewNowPlayingCache(nowPlayingEntries, cfg.Metadata.CacheTTL), cfg.Metadata.Workers)
	if err != nil {
		logger.Fatal("{main} %v", err)
	}
	defer extractor.Close()

	deps := handlers.Deps{
		Directory: dir,
		Relay:     streamRelay,
		Registry:  registry,
		Info:      extractor,
	}

	// favorites
	db, err := database.Open(cfg.Favorites.DatabasePath)
	if err != nil {
		logger.Error("{main} favorites disabled: %v", err)
	} else {
		defer db.Close()
		deps.Favorites = db
	}

	// remote player
	var (
		controller *player.Controller
		process    *player.Process
	)
	if cfg.Player.Enabled {
		if cfg.Player.Spawn {
			process = player.NewProcess(cfg.Player)
			if err := process.Start(context.Background()); err != nil {
				logger.Error("{main} failed to spawn player: %v", err)
				process = nil
			}
		}
		controller = player.NewController(player.NewVLC(cfg.Player), cfg.Player.WatchdogInterval)
		deps.Player = controller
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestLogger)
	handlers.SetupRoutes(router, deps)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("{main} starting radio-relay %s", Version)
	logger.Info("{main} server configuration:")
	logger.Info("{main}   - Listen: %s", cfg.ListenAddr)
	logger.Info("{main}   - Directory SRV: _%s._%s.%s", cfg.Directory.SRVService, cfg.Directory.SRVProto, cfg.Directory.SRVDomain)
	logger.Info("{main}   - Query Cache TTL: %s", cfg.Directory.CacheTTL)
	logger.Info("{main}   - Max Relays: %d", cfg.Relay.MaxRelays)
	logger.Info("{main}   - Metadata Timeout: %s", cfg.Metadata.Timeout)
	logger.Info("{main}   - Player Enabled: %v", cfg.Player.Enabled)
	logger.Info("{main}   - Favorites: %v", deps.Favorites != nil)
	logger.Info("{main}   - URL Obfuscation: %v", cfg.ObfuscateUrls)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("{main} server failed to start: %v", err)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range signals {
		if sig == syscall.SIGHUP {
			// only the logging settings can change without a restart
			config.ClearConfigCache()
			reloaded := config.LoadConfig()
			logger.SetLogLevel(reloaded.LogLevel)
			utils.SetURLObfuscation(reloaded.ObfuscateUrls)
			logger.Info("{main} configuration reloaded, log level %s", logger.GetLogLevel())
			continue
		}

		logger.Info("{main} %s received, shutting down", sig)
		break
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// listeners hold streaming responses open, so the deadline usually expires
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("{main} shutdown: %v", err)
		srv.Close()
	}

	if controller != nil {
		controller.Shutdown()
	}
	if process != nil {
		if err := process.Stop(); err != nil {
			logger.Warn("{main} %v", err)
		}
	}
}
