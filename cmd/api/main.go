package main

import (
	"context"

	"grantflow/config"
	"grantflow/internal/escrow"
	"grantflow/internal/handler"
	"grantflow/internal/httpserver"
	"grantflow/internal/repository"
	"grantflow/internal/verifier"
	"grantflow/pkg/db"
	"grantflow/pkg/logger"
	"grantflow/pkg/mq"
	"grantflow/pkg/outbox"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger("escrow-api")
	defer log.Sync()

	log.Info("Starting escrow API service...")

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	log.Info("Database connection established")

	// Init MQ publisher (used directly for lifecycle events, and by the
	// outbox dispatcher for release.requested)
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
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
	evidenceRepo := repository.NewEvidenceRepository(dbConn, log)
	releaseRepo := repository.NewReleaseRepository(dbConn, outboxRepo, log)

	// Init domain services
	schedule := escrow.NewSchedule(projectRepo, milestoneRepo, log)
	powers := escrow.NewPowerLedger(rosterRepo, log)
	tally := escrow.NewTally(voteRepo, rosterRepo, milestoneRepo, log)
	evidenceLog := escrow.NewEvidenceLog(evidenceRepo, milestoneRepo, publisher, log)
	sigVerifier := verifier.NewHTTPVerifier(cfg.Verifier)

	machine := escrow.NewStateMachine(
		schedule, powers, tally,
		projectRepo, milestoneRepo, releaseRepo,
		sigVerifier, publisher, log,
	)

	// Init handlers and router
	projectHandler := handler.NewProjectHandler(schedule, machine)
	milestoneHandler := handler.NewMilestoneHandler(machine, evidenceLog)
	releaseHandler := handler.NewReleaseHandler(machine, releaseRepo)
	outboxHandler := handler.NewOutboxHandler(outbox.NewReplayService(outboxRepo, publisher))

	router := httpserver.NewRouter(
		projectHandler, milestoneHandler, releaseHandler, outboxHandler,
		cfg.JWT.Secret, log,
		map[string]httpserver.ReadinessCheck{
			"db": func() bool { return dbConn.Ping(context.Background()) == nil },
			"mq": publisher.IsConnected,
		},
	)

	log.Info("Escrow API listening", zap.String("port", cfg.Server.Port))
	if err := router.Run(cfg.Server.Port); err != nil {
		log.Fatal("HTTP server failed", zap.Error(err))
	}
}
