package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/signaltrail/internal/aggregation"
	"github.com/smukkama/signaltrail/internal/cache"
	"github.com/smukkama/signaltrail/internal/database"
	"github.com/smukkama/signaltrail/internal/devicefeed"
	"github.com/smukkama/signaltrail/internal/ingestion"
	"github.com/smukkama/signaltrail/internal/maintenance"
	"github.com/smukkama/signaltrail/internal/navigation"
	"github.com/smukkama/signaltrail/internal/privacy"
	"github.com/smukkama/signaltrail/internal/protocol"
	"github.com/smukkama/signaltrail/internal/queue"
	"github.com/smukkama/signaltrail/internal/scheduler"
	"github.com/smukkama/signaltrail/internal/server"
	"github.com/smukkama/signaltrail/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting SignalTrail API...")

	store, closeStore, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()
	fmt.Printf("Store ready (%s)\n", cfg.Database.Backend)

	anonymizer, err := privacy.NewAnonymizer(cfg.Privacy.Salt)
	if err != nil {
		log.Fatalf("Failed to create anonymizer: %v", err)
	}

	aggregator := aggregation.NewAggregator(store, store, aggregation.Options{
		Resolution:         cfg.Grid.Resolution,
		SearchRadiusMeters: cfg.Aggregation.SearchRadiusMeters,
		Window:             cfg.Aggregation.Window,
	})

	// Aggregation trigger: in-process pool or Kafka topic for cmd/aggregator
	var trigger ingestion.AggregationTrigger
	switch cfg.Aggregation.Mode {
	case config.ModeKafka:
		if err := queue.EnsureTopic(&cfg.Kafka, 1); err != nil {
			fmt.Printf("Note: Topic creation failed: %v\n", err)
		}
		producer := queue.NewProducer(&cfg.Kafka)
		defer producer.Close()
		trigger = queue.NewKafkaTrigger(producer, protocol.ReasonIngest)
		fmt.Printf("Aggregation requests published to %s\n", cfg.Kafka.TopicAggregation)

	default:
		pool := queue.NewPool(aggregator, cfg.Aggregation.Workers, cfg.Aggregation.QueueSize, nil)
		pool.Start()
		defer pool.Stop()
		trigger = pool

		// Without a separate aggregator process the API runs the periodic jobs itself
		sched := scheduler.New()
		if err := maintenance.Register(sched,
			maintenance.NewRefresher(store, pool, cfg.Aggregation.StaleAfter, cfg.Aggregation.RefreshLimit),
			cfg.Aggregation.RefreshInterval,
			maintenance.NewRetention(store, cfg.Retention.MaxAge),
			cfg.Retention.Interval,
			time.Minute,
		); err != nil {
			log.Fatalf("Failed to schedule maintenance: %v", err)
		}
		sched.Start()
		defer sched.Stop()
		fmt.Printf("Inline aggregation pool started (%d workers)\n", cfg.Aggregation.Workers)
	}

	ingester := ingestion.NewService(store, anonymizer, trigger, ingestion.Options{
		Resolution:   cfg.Grid.Resolution,
		Precision:    cfg.Privacy.CoordinatePrecision,
		MaxBatchSize: cfg.Ingestion.MaxBatchSize,
	})

	var navigator navigation.Querier = navigation.NewNavigator(store, cfg.Grid.Resolution)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		resultCache := cache.NewRedisCache(redisClient)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := resultCache.Ping(ctx); err != nil {
			fmt.Printf("Note: Redis unavailable, queries will bypass the cache: %v\n", err)
		} else {
			fmt.Println("Connected to Redis")
		}
		cancel()

		navigator = navigation.NewCached(navigator, resultCache, cfg.Cache.NavigationTTL, cfg.Cache.HeatmapTTL)
	}

	handler := server.NewHandler(ingester, navigator, aggregator)
	httpServer := server.NewHTTPServer(&cfg.HTTP, server.NewRouter(handler))
	if err := httpServer.Start(); err != nil {
		log.Fatalf("Failed to start HTTP server: %v", err)
	}
	defer httpServer.Stop()

	if feed := devicefeed.New(&cfg.MQTT, ingester); feed != nil {
		if err := feed.Start(); err != nil {
			log.Fatalf("Failed to start MQTT device feed: %v", err)
		}
		defer feed.Stop()
		fmt.Printf("MQTT device feed subscribed to %s\n", cfg.MQTT.Topic)
	}

	fmt.Println("\n✓ SignalTrail API is running")
	fmt.Printf("✓ HTTP listening on %s (aggregation mode: %s)\n", httpServer.Addr(), cfg.Aggregation.Mode)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
}
