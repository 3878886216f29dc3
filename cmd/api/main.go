package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"revpay/auth"
	"revpay/config"
	"revpay/db"
	"revpay/dispute"
	"revpay/judge"
	"revpay/ledger"
	"revpay/lifecycle"
	"revpay/vote"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("bootstrap logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	ledgerRepo := ledger.NewRepository(pool, cfg.ReversalWindow)
	ledgerService := ledger.NewService(ledgerRepo)

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	disputeRepo := dispute.NewRepository(pool)
	disputeService := dispute.NewService(pool, disputeRepo, ledgerRepo)

	judgeService := judge.NewService(judge.NewRepository(pool))

	applier := lifecycle.NewVerdictApplier(ledgerRepo)
	voteService := vote.NewService(
		pool,
		vote.NewRepository(pool),
		judgeService,
		applier,
		vote.NewSealer(cfg.BallotSealKey),
		cfg.VotingWindow,
	)

	lifecycleService := lifecycle.NewService(disputeService, voteService, cfg.VotingWindow)
	closer := lifecycle.NewCloser(lifecycleService, cfg.CloserPollInterval)
	go func() {
		if err := closer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("closer stopped", zap.Error(err))
		}
	}()

	server := &Server{
		authService:    authService,
		ledgerService:  ledgerService,
		disputeService: lifecycleService,
		disputeLister:  disputeService,
		voteService:    voteService,
		judgeService:   judgeService,
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("api listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server", zap.Error(err))
	}
}
