// Package server wires the S3 API, the admin API, and the HTTP listener.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seaward/skiff/internal/admin"
	"github.com/seaward/skiff/internal/api"
	"github.com/seaward/skiff/internal/auth"
	"github.com/seaward/skiff/internal/config"
	"github.com/seaward/skiff/internal/metadata"
	"github.com/seaward/skiff/internal/metrics"
	"github.com/seaward/skiff/internal/storage"
)

// Server is the skiff HTTP server.
type Server struct {
	httpServer *http.Server
	meta       *metadata.Store
	blobs      *storage.BlobStore
	config     *config.Config
}

// New creates a Server from the configuration, opening the metadata
// database and the blob store.
func New(cfg *config.Config) (*Server, error) {
	meta, err := metadata.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	blobs, err := storage.NewBlobStore(cfg.Storage.Path)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	if err := bootstrapCredentials(meta); err != nil {
		meta.Close()
		return nil, err
	}

	registry := metrics.New()

	apiHandler := api.NewHandler(meta, blobs, cfg.S3.Region)
	verifier := auth.NewVerifier(meta)
	gate := auth.NewGate(verifier, meta)
	router := NewRouter(apiHandler, registry)

	adminHandler := admin.NewHandler(cfg, meta, blobs, registry)

	var s3 http.Handler = router
	s3 = gate.Wrap(s3)
	s3 = PreAuthMiddleware(s3)

	mux := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin" || strings.HasPrefix(r.URL.Path, "/admin/") {
			adminHandler.ServeHTTP(w, r)
			return
		}
		s3.ServeHTTP(w, r)
	})

	var handler http.Handler = mux
	handler = CORSMiddleware(cfg.S3.CORSOrigins())(handler)
	handler = LoggingMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		meta:       meta,
		blobs:      blobs,
		config:     cfg,
	}, nil
}

// bootstrapCredentials seeds a root access key when the store has none, so
// a fresh install is reachable with S3 clients.
func bootstrapCredentials(meta *metadata.Store) error {
	count, err := meta.CountAccessKeys(context.Background())
	if err != nil {
		return fmt.Errorf("failed to count access keys: %w", err)
	}
	if count > 0 {
		return nil
	}

	accessKeyID, secretKey, err := admin.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate root credentials: %w", err)
	}
	key := &metadata.AccessKey{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretKey,
		DisplayName:     "root",
		IsActive:        true,
	}
	if err := meta.CreateAccessKey(context.Background(), key); err != nil {
		return fmt.Errorf("failed to create root access key: %w", err)
	}

	log.Warn().
		Str("accessKeyId", accessKeyID).
		Str("secretAccessKey", secretKey).
		Msg("No access keys found; generated root credentials. Store them now, they are not shown again.")
	return nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and closes the stores.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Info().Msg("Shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	if err := s.meta.Close(); err != nil {
		return fmt.Errorf("metadata close error: %w", err)
	}
	return nil
}

// Metadata returns the metadata store (for testing).
func (s *Server) Metadata() *metadata.Store {
	return s.meta
}
