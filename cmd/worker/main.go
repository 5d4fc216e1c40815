package main

import (
	"context"
	"time"

	"grantflow/config"
	"grantflow/contracts/mq"
	"grantflow/internal/escrow"
	"grantflow/internal/ledger"
	"grantflow/internal/mqhandler"
	"grantflow/internal/repository"
	"grantflow/internal/verifier"
	"grantflow/internal/watcher"
	"grantflow/pkg/db"
	"grantflow/pkg/logger"
	pkgmq "grantflow/pkg/mq"
	"grantflow/pkg/outbox"
	redisclient "grantflow/pkg/redis"
	"grantflow/pkg/util"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger("escrow-worker")
	defer log.Sync()

	log.Info("Starting escrow worker...")

	// Init Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduperWithLogger(rdb, time.Hour, log)
	retryCounter := util.NewRetryCounter(rdb, 24*time.Hour)

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	log.Info("Database connection established")

	// Init MQ publisher
	publisher, err := pkgmq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	// Init repositories
	outboxRepo := outbox.NewRepository(dbConn)
	projectRepo := repository.NewProjectRepository(dbConn, log)
	milestoneRepo := repository.NewMilestoneRepository(dbConn, outboxRepo, log)
	rosterRepo := repository.NewRosterRepository(dbConn, log)
	voteRepo := repository.NewVoteRepository(dbConn, log)
	releaseRepo := repository.NewReleaseRepository(dbConn, outboxRepo, log)

	// The worker needs the state machine to apply release outcomes
	schedule := escrow.NewSchedule(projectRepo, milestoneRepo, log)
	powers := escrow.NewPowerLedger(rosterRepo, log)
	tally := escrow.NewTally(voteRepo, rosterRepo, milestoneRepo, log)
	sigVerifier := verifier.NewHTTPVerifier(cfg.Verifier)

	machine := escrow.NewStateMachine(
		schedule, powers, tally,
		projectRepo, milestoneRepo, releaseRepo,
		sigVerifier, publisher, log,
	)

	ledgerClient := ledger.NewHTTPClient(cfg.Ledger)

	// Init handlers
	requestedHandler := mqhandler.NewReleaseRequestedHandler(releaseRepo, ledgerClient, publisher, deduper, retryCounter, log)
	outcomeHandler := mqhandler.NewReleaseOutcomeHandler(machine, log)

	// Outbox dispatcher: drains pending release.requested events to MQ
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithInterval(1 * time.Second).
		WithBatchSize(100)
	go dispatcher.Start(context.Background())

	// Ledger watcher: polls submitted releases for their on-chain outcome
	// and emits release.confirmed / release.failed
	ledgerWatcher := watcher.NewLedgerWatcher(releaseRepo, ledgerClient, publisher, log).
		WithInterval(10 * time.Second)
	go ledgerWatcher.Start(context.Background())

	// (1) Consumer for release.requested
	log.Info("Initializing release-requested consumer", zap.String("queue", "release.requested.q"))
	consumerRequested, err := pkgmq.NewConsumer(cfg.MQ.URL, "release.requested.q", mq.RoutingKeyReleaseRequested, log)
	if err != nil {
		log.Fatal("failed to init release-requested consumer", zap.Error(err))
	}
	consumerRequested.SetHandler(requestedHandler.HandleReleaseRequested)
	go func() {
		log.Info("Starting release-requested consumer")
		if err := consumerRequested.StartConsuming(); err != nil {
			log.Fatal("release-requested consumer failed", zap.Error(err))
		}
	}()
	defer consumerRequested.Close()

	// (2) Consumer for release.confirmed
	log.Info("Initializing release-confirmed consumer", zap.String("queue", "release.confirmed.q"))
	consumerConfirmed, err := pkgmq.NewConsumer(cfg.MQ.URL, "release.confirmed.q", mq.RoutingKeyReleaseConfirmed, log)
	if err != nil {
		log.Fatal("failed to init release-confirmed consumer", zap.Error(err))
	}
	consumerConfirmed.SetHandler(outcomeHandler.HandleReleaseConfirmed)
	go func() {
		log.Info("Starting release-confirmed consumer")
		if err := consumerConfirmed.StartConsuming(); err != nil {
			log.Fatal("release-confirmed consumer failed", zap.Error(err))
		}
	}()
	defer consumerConfirmed.Close()

	// (3) Consumer for release.failed
	log.Info("Initializing release-failed consumer", zap.String("queue", "release.failed.q"))
	consumerFailed, err := pkgmq.NewConsumer(cfg.MQ.URL, "release.failed.q", mq.RoutingKeyReleaseFailed, log)
	if err != nil {
		log.Fatal("failed to init release-failed consumer", zap.Error(err))
	}
	consumerFailed.SetHandler(outcomeHandler.HandleReleaseFailed)
	go func() {
		log.Info("Starting release-failed consumer")
		if err := consumerFailed.StartConsuming(); err != nil {
			log.Fatal("release-failed consumer failed", zap.Error(err))
		}
	}()
	defer consumerFailed.Close()

	log.Info("All consumers started, worker is ready to process messages")

	select {}
}
