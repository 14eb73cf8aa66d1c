package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"trivia-room-service/internal/answer"
	"trivia-room-service/internal/config"
	"trivia-room-service/internal/game"
	"trivia-room-service/internal/generator"
	"trivia-room-service/internal/infra/memory"
	"trivia-room-service/internal/infra/postgres"
	redisinfra "trivia-room-service/internal/infra/redis"
	"trivia-room-service/internal/retry"
	"trivia-room-service/internal/schedule"
	"trivia-room-service/internal/topic"
	transport "trivia-room-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var store game.Store
	switch {
	case pool != nil:
		store = postgres.NewStore(pool)
	case redisClient != nil:
		store = redisinfra.NewStore(redisClient, config.Duration(cfg.Redis.TTL, 24*time.Hour))
	default:
		store = memory.NewStore()
	}

	questions, err := newQuestionSource(ctx, cfg, pool)
	if err != nil {
		return err
	}

	machine := game.NewMachine(
		game.Rules{
			AnswerWindow: config.Duration(cfg.Game.AnswerWindow, game.DefaultRules.AnswerWindow),
			WinningScore: cfg.Game.WinningScore,
			MaxPlayers:   cfg.Game.MaxPlayers,
		},
		answer.NewMatcher(cfg.Matcher.Threshold),
		topic.NewRecommender(topic.Curated, cfg.Game.LikedTopicProbability, cfg.Game.RecentTopicWindow),
	)

	hub := transport.NewHub()
	var pub game.Publisher = hub
	var relay *redisinfra.Relay
	if redisClient != nil {
		pub = redisinfra.NewBroadcaster(redisClient)
		relay = redisinfra.NewRelay(redisClient, hub.Publish)
	}

	manager := game.NewManager(machine, store, questions, schedule.NewTimerScheduler(), pub, game.Options{
		IdleTimeout: config.Duration(cfg.Game.IdleTimeout, time.Hour),
		Retry: retry.Policy{
			Attempts:       cfg.Persistence.Attempts,
			InitialBackoff: config.Duration(cfg.Persistence.InitialBackoff, retry.Default.InitialBackoff),
			MaxBackoff:     config.Duration(cfg.Persistence.MaxBackoff, retry.Default.MaxBackoff),
		},
	})
	defer manager.Close()

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(manager, hub, cfg.Server.PublicURL),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("starting trivia service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		sweepEvery(gctx, manager, config.Duration(cfg.Game.SweepInterval, time.Minute))
		return nil
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	return g.Wait()
}

// sweepEvery tears down idle games until ctx is done.
func sweepEvery(ctx context.Context, manager *game.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := manager.Sweep(ctx, now); n > 0 {
				log.Printf("round: swept %d idle games", n)
			}
		}
	}
}

// newQuestionSource builds the configured content generator behind the
// validating gateway.
func newQuestionSource(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) (*generator.Gateway, error) {
	opts := generator.Options{
		Attempts:             cfg.Generator.Attempts,
		Timeout:              config.Duration(cfg.Generator.Timeout, generator.DefaultOptions.Timeout),
		Fallback:             cfg.Generator.Fallback,
		DuplicateContainment: cfg.Generator.DuplicateContainment,
		RecentLimit:          cfg.Game.RecentQuestionLimit,
	}

	switch cfg.Generator.Provider {
	case "gemini":
		key := cfg.Generator.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("generator.api_key or GEMINI_API_KEY is required for the gemini provider")
		}
		gen, err := generator.NewGeminiGenerator(ctx, key, cfg.Generator.Model)
		if err != nil {
			return nil, err
		}
		return generator.NewGateway(gen, opts), nil
	case "bank":
		var loader generator.BankLoader
		switch {
		case pool != nil:
			loader = postgres.NewBankLoader(pool)
		case cfg.Generator.BankFile != "":
			bank, err := memory.LoadBankFile(cfg.Generator.BankFile)
			if err != nil {
				return nil, err
			}
			loader = bank
		default:
			return nil, fmt.Errorf("bank provider needs postgres or generator.bank_file")
		}
		ttl := config.Duration(cfg.Generator.BankTTL, 10*time.Minute)
		return generator.NewGateway(generator.NewBankGenerator(loader, ttl), opts), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Generator.Provider)
	}
}
