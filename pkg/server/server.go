// Package server exposes the engine over HTTP: one endpoint per
// command family, a websocket oplog tail, and a GraphQL query surface.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mnohosten/marlin-db/pkg/database"
	gql "github.com/mnohosten/marlin-db/pkg/graphql"
	"github.com/mnohosten/marlin-db/pkg/server/handlers"
	"github.com/mnohosten/marlin-db/pkg/storage"
)

// Server is the HTTP front of a catalog
type Server struct {
	config    *Config
	catalog   *database.Catalog
	router    *chi.Mux
	httpSrv   *http.Server
	broadcast *handlers.OplogBroadcaster
}

// New creates a server and the catalog it serves
func New(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var engine storage.Engine
	var err error
	switch {
	case config.BadgerDir != "":
		engine, err = storage.NewBadgerEngine(config.BadgerDir)
	case config.DataDir != "":
		engine, err = storage.NewFileEngine(config.DataDir, storage.AlgorithmZstd)
	default:
		engine = storage.NewMemoryEngine()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open storage engine: %w", err)
	}

	dbConfig := database.DefaultConfig()
	dbConfig.OplogEnabled = config.OplogEnabled

	broadcast := handlers.NewOplogBroadcaster()
	catalog := database.Open(dbConfig, engine, broadcast)

	srv := &Server{
		config:    config,
		catalog:   catalog,
		router:    chi.NewRouter(),
		broadcast: broadcast,
	}
	srv.setupRoutes()
	return srv, nil
}

// Catalog returns the catalog the server fronts
func (s *Server) Catalog() *database.Catalog {
	return s.catalog
}

// Router returns the HTTP handler, mostly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	h := handlers.New(s.catalog, s.broadcast)

	s.router.Get("/healthz", h.Health)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/databases", h.ListDatabases)
		r.Delete("/databases/{db}", h.DropDatabase)
		r.Get("/databases/{db}/collections", h.ListCollections)
		r.Delete("/databases/{db}/collections/{coll}", h.DropCollection)

		r.Post("/databases/{db}/collections/{coll}/insert", h.Insert)
		r.Post("/databases/{db}/collections/{coll}/find", h.Find)
		r.Post("/databases/{db}/collections/{coll}/update", h.Update)
		r.Post("/databases/{db}/collections/{coll}/delete", h.Delete)
		r.Post("/databases/{db}/collections/{coll}/findAndModify", h.FindAndModify)
		r.Post("/databases/{db}/collections/{coll}/aggregate", h.Aggregate)
		r.Post("/databases/{db}/collections/{coll}/distinct", h.Distinct)
		r.Post("/databases/{db}/collections/{coll}/count", h.Count)

		r.Get("/databases/{db}/collections/{coll}/indexes", h.ListIndexes)
		r.Post("/databases/{db}/collections/{coll}/indexes", h.CreateIndex)
		r.Delete("/databases/{db}/collections/{coll}/indexes/{index}", h.DropIndex)

		r.Post("/cursors/{id}/next", h.GetMore)
		r.Delete("/cursors/{id}", h.KillCursor)

		if s.config.OplogEnabled {
			r.Get("/oplog/tail", h.TailOplog)
		}
	})

	s.router.Handle("/graphql", gql.NewHandler(s.catalog))
}

// Start serves until the context is canceled, then shuts down
// gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("marlin-db listening on %s", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.broadcast.Close()
	return s.catalog.Close()
}
