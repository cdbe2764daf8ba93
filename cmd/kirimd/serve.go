package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/kirimchat/kirim/internal/api"
	"github.com/kirimchat/kirim/internal/auth"
	"github.com/kirimchat/kirim/internal/chat"
	"github.com/kirimchat/kirim/internal/config"
	"github.com/kirimchat/kirim/internal/database"
	"github.com/kirimchat/kirim/internal/logging"
	"github.com/kirimchat/kirim/internal/moderation"
	"github.com/kirimchat/kirim/internal/push"
	"github.com/kirimchat/kirim/internal/realtime"
	"github.com/kirimchat/kirim/internal/store"
)

// serveCommand returns the CLI command for starting the chat server.
func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the chat delivery server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override the listen port",
				EnvVars: []string{"KIRIM_PORT"},
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.URL == "" {
		if url, err := database.LoadDatabaseURL(); err == nil {
			cfg.Database.URL = url
		}
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}

	logging.Setup(cfg.Server.LogLevel, cfg.Server.LogFormat)

	ctx := context.Background()

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	redisClient, err := realtime.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	hub := realtime.NewHub()
	defer hub.Close()

	bridge := realtime.NewBridge(hub, redisClient)
	bridgeCtx, cancelBridge := context.WithCancel(ctx)
	defer cancelBridge()
	go func() {
		if err := bridge.Run(bridgeCtx); err != nil {
			log.Error().Err(err).Msg("room bridge stopped")
		}
	}()

	var classifier moderation.Classifier
	if cfg.Moderation.Enabled {
		llm, err := moderation.NewLLMClassifier(ctx, moderation.Options{
			Provider:    moderation.Provider(cfg.Moderation.Provider),
			APIKey:      cfg.Moderation.APIKey,
			BaseURL:     cfg.Moderation.BaseURL,
			Model:       cfg.Moderation.Model,
			Temperature: cfg.Moderation.Temperature,
			Timeout:     time.Duration(cfg.Moderation.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to create moderation classifier: %w", err)
		}
		classifier = llm
	} else {
		log.Warn().Msg("Moderation disabled; toxic messages will be delivered")
	}

	gateway := push.NewOneSignalGateway(cfg.Push.Endpoint, cfg.Push.AppID, cfg.Push.APIKey)
	queue, err := push.NewQueue(pool, gateway)
	if err != nil {
		return fmt.Errorf("failed to create push queue: %w", err)
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start push queue: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := queue.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("push queue did not stop cleanly")
		}
	}()

	conversations := store.NewConversationStore(pool)
	participants := store.NewParticipantStore(pool)
	messages := store.NewMessageStore(pool)
	blocks := store.NewBlockStore(pool)
	counters := store.NewToxicCounterStore(pool)
	users := store.NewUserStore(pool)

	gate := chat.NewToxicGate(classifier, counters, blocks, bridge)
	service := chat.NewService(conversations, participants, messages, blocks, users, gate, bridge, bridge, queue)

	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret, users)
	socket := api.NewSocketHandler(authenticator, service, hub, bridge)

	log.Info().Int("port", cfg.Server.Port).Msg("Starting chat server")
	server := api.NewServer(cfg.Server.Port, socket)
	return server.Start()
}
