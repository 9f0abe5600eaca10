package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/dresscheck/internal/auth"
	"github.com/example/dresscheck/internal/blobstore"
	"github.com/example/dresscheck/internal/classifier"
	"github.com/example/dresscheck/internal/dresscode"
	"github.com/example/dresscheck/internal/grpcclient"
	"github.com/example/dresscheck/internal/handlers"
	"github.com/example/dresscheck/internal/imageprocessor"
	"github.com/example/dresscheck/internal/metrics"
	"github.com/example/dresscheck/internal/repository"
	"github.com/example/dresscheck/internal/usecase"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger := a.cfg, a.logger

			db, err := initDatabase(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			repo := repository.NewCheckRepository(db, logger)
			if err := repo.AutoMigrate(ctx); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}

			redisClient, err := initRedis(ctx, cfg.Redis, logger)
			if err != nil {
				return err
			}
			defer redisClient.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m := metrics.New(reg)

			pipeline, closeInference, err := a.buildPipeline(cmd, m)
			if err != nil {
				return err
			}
			defer closeInference()

			location, err := cfg.Location()
			if err != nil {
				return err
			}
			opts := usecase.Options{
				OnlyHighestPriorityFailure: cfg.Report.OnlyHighestPriorityFailure,
				ResultTTL:                  cfg.Cache.ResultTTL,
				Location:                   location,
				MaxImageDimension:          cfg.Image.MaxDimension,
				Metrics:                    m,
			}
			if cfg.S3.Bucket != "" {
				store, err := blobstore.Connect(blobstore.Config{
					Endpoint:      cfg.S3.Endpoint,
					Region:        cfg.S3.Region,
					Bucket:        cfg.S3.Bucket,
					AccessKey:     cfg.S3.AccessKey,
					SecretKey:     cfg.S3.SecretKey,
					PublicBaseURL: cfg.S3.PublicBaseURL,
				}, logger)
				if err != nil {
					return err
				}
				opts.Blobs = store
			} else {
				logger.Warn("s3.bucket is empty, image uploads are disabled")
			}

			cache := usecase.NewRedisCache(redisClient, cfg.Redis.KeyPrefix)
			uc := usecase.NewCheckUseCase(repo, cache, pipeline, logger, opts)

			r := gin.Default()
			r.MaxMultipartMemory = handlers.MaxUploadSize
			handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.JWT.Secret, cfg.JWT.Audience))
			handlers.RegisterMetrics(r, reg)

			server := &http.Server{
				Addr:    cfg.HTTP.Addr,
				Handler: r,
			}

			logger.Info("dresscheck API listening", zap.String("addr", cfg.HTTP.Addr))
			return serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger)
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <photo>",
		Short: "Evaluate one photograph and print the outcome as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			photo, err := imageprocessor.DecodeLimited(data, a.cfg.Image.MaxDimension)
			if err != nil {
				return err
			}

			pipeline, closeInference, err := a.buildPipeline(cmd, nil)
			if err != nil {
				return err
			}
			defer closeInference()

			runID := uuid.NewString()
			verdict, runErr := pipeline.Run(cmd.Context(), runID, photo.Image)
			out := struct {
				dresscode.Outcome
				Failures []string `json:"failures,omitempty"`
			}{Outcome: dresscode.NewOutcome(runID, verdict, runErr)}
			if runErr == nil {
				out.Failures = dresscode.ExtractFailures(verdict, a.cfg.Report.OnlyHighestPriorityFailure)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			return runErr
		},
	}
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the checks table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := initDatabase(cmd.Context(), a.cfg.Database, a.logger)
			if err != nil {
				return err
			}
			if err := repository.NewCheckRepository(db, a.logger).AutoMigrate(cmd.Context()); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
			a.logger.Info("migration complete")
			return nil
		},
	}
}

func (a *app) tokenCmd() *cobra.Command {
	var inspectorID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an inspector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := auth.IssueToken(a.cfg.JWT.Secret, a.cfg.JWT.Audience, inspectorID, a.cfg.JWT.TokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&inspectorID, "inspector", "", "inspector id placed in the token subject")
	_ = cmd.MarkFlagRequired("inspector")
	return cmd
}

// buildPipeline dials the inference service and assembles the pipeline over a
// shared model cache.
func (a *app) buildPipeline(cmd *cobra.Command, m *metrics.Metrics) (*dresscode.Pipeline, func(), error) {
	table, err := a.cfg.Rules.Table()
	if err != nil {
		return nil, nil, fmt.Errorf("load rules: %w", err)
	}

	loader, conn, err := grpcclient.DialInference(cmd.Context(), a.cfg.Inference.Addr, a.cfg.Inference.Timeout, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to inference service: %w", err)
	}

	pipeline := dresscode.NewPipeline(
		classifier.NewCache(loader, a.logger),
		table,
		a.logger,
		dresscode.WithParallelAccessories(a.cfg.Pipeline.ParallelAccessories),
		dresscode.WithMetrics(m),
	)
	return pipeline, func() { _ = conn.Close() }, nil
}
