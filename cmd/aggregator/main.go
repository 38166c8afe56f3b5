package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/smukkama/signaltrail/internal/aggregation"
	"github.com/smukkama/signaltrail/internal/database"
	"github.com/smukkama/signaltrail/internal/maintenance"
	"github.com/smukkama/signaltrail/internal/model"
	"github.com/smukkama/signaltrail/internal/queue"
	"github.com/smukkama/signaltrail/internal/scheduler"
	"github.com/smukkama/signaltrail/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Aggregation Service...")

	store, closeStore, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()
	fmt.Printf("Store ready (%s)\n", cfg.Database.Backend)

	if err := queue.EnsureTopic(&cfg.Kafka, 1); err != nil {
		fmt.Printf("Note: Topic creation failed: %v\n", err)
	}

	aggregator := aggregation.NewAggregator(store, store, aggregation.Options{
		Resolution:         cfg.Grid.Resolution,
		SearchRadiusMeters: cfg.Aggregation.SearchRadiusMeters,
		Window:             cfg.Aggregation.Window,
	})

	stats := &poolStats{}
	pool := queue.NewPool(aggregator, cfg.Aggregation.Workers, cfg.Aggregation.QueueSize, stats.record)
	pool.Start()
	defer pool.Stop()
	fmt.Printf("Aggregation pool started (%d workers, queue size %d)\n", cfg.Aggregation.Workers, cfg.Aggregation.QueueSize)

	consumer := queue.NewConsumer(&cfg.Kafka)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := queue.NewDispatcher(consumer, pool)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx); err != nil {
			log.Printf("[Kafka] Dispatcher stopped: %v", err)
		}
	}()
	fmt.Printf("Consuming aggregation requests from %s (group %s)\n", cfg.Kafka.TopicAggregation, cfg.Kafka.GroupID)

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
	if err := sched.Every("print-stats", 30*time.Second, func() {
		stats.print(pool.QueueLength(), consumer.Lag())
	}); err != nil {
		log.Fatalf("Failed to schedule statistics: %v", err)
	}
	sched.Start()
	defer sched.Stop()
	fmt.Printf("Refresh sweep every %s, retention every %s\n", cfg.Aggregation.RefreshInterval, cfg.Retention.Interval)

	fmt.Println("\n✓ Aggregation Service is running")
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	cancel()
	wg.Wait()
}

// poolStats counts job results for the periodic statistics banner
type poolStats struct {
	mu        sync.Mutex
	written   int
	coldStart int
	failed    int
}

func (s *poolStats) record(r queue.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.Err != nil:
		s.failed++
	case r.Outcome == model.OutcomeWritten:
		s.written++
	default:
		s.coldStart++
	}
}

func (s *poolStats) print(queued int, lag int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Printf("\n--- Aggregation Statistics ---\n")
	fmt.Printf("Cells written: %d\n", s.written)
	fmt.Printf("Cold starts: %d\n", s.coldStart)
	fmt.Printf("Failures: %d\n", s.failed)
	fmt.Printf("Queued jobs: %d\n", queued)
	fmt.Printf("Consumer lag: %d\n", lag)
	fmt.Printf("------------------------------\n\n")
}
