package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"quickcap-api/config"
	"quickcap-api/constant"
	"quickcap-api/handler"
	"quickcap-api/pkg/chunkstore"
	"quickcap-api/pkg/rabbitmq"
	"quickcap-api/pkg/storage"
	"quickcap-api/repository"
	"quickcap-api/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	videos, categories, err := repository.NewRepo(cfg.DB)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRepo")
	}

	blobs := storage.NewMinioStore(cfg.Storage, cfg.MinIOBucket, cfg.App.Protocol, cfg.App.Host)

	chunks, err := chunkstore.New(cfg.Upload.TempDir, cfg.Upload.Grace)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("chunkstore.New")
	}

	broker := rabbitmq.NewAMQPClient(ctx, cfg.Queue, cfg.Broker)
	if !broker.EnsureConnection(ctx) {
		zerolog.Ctx(ctx).Warn().Msg("broker not reachable at startup, will retry per call")
	}

	orchestrator := service.NewOrchestrator(broker, videos, categories, blobs)
	uploads := service.NewUploadCoordinator(chunks, blobs, orchestrator, cfg.Upload.Grace)

	serviceDeps := handler.ServiceDependencies{
		Orchestrator: orchestrator,
	}

	// Inbound NSFW verdict consumer.
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
	} else {
		nsfwConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.NsfwResultQueue, cfg.Server.Workers, handler.NsfwResultHandler)
		go func() {
			if err := nsfwConsumer.Consume(ctx, serviceDeps); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("nsfw result consumer error")
			}
		}()
	}

	// Abandoned uploads and expired cached results are reaped on a
	// fixed cadence.
	go func() {
		ticker := time.NewTicker(cfg.Upload.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := chunks.ReapStale(ctx, cfg.Upload.ReapMaxAge); err != nil {
					zerolog.Ctx(ctx).Error().Err(err).Msg("reap stale uploads")
				}
				if n := uploads.SweepResults(); n > 0 {
					zerolog.Ctx(ctx).Debug().Int("entries", n).Msg("swept expired upload results")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	r := gin.Default()
	r.Use(handler.RequestLogger(*zerolog.Ctx(ctx)))
	addHealth(r)
	handler.NewVideoHandler(uploads, cfg.Upload.MaxChunkSize).Register(r)

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	if err := srv.Shutdown(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	broker.Close()
	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
