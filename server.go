/*
 * Copyright 2022 RapidLoop, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gatejson

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// GatewayServer is the runnable HTTP front end wiring a [RequestContext]
// into a chi router. spec.md §3 treats "HTTP server glue" as out of core
// scope, exposed only through the dispatcher's three plug points (§6); the
// transport concerns here (mux, CORS, compression, graceful shutdown) are
// this ambient collaborator.
type GatewayServer struct {
	cfg    *GatewayConfig
	rc     *RequestContext
	log    zerolog.Logger
	http   *http.Server
	jobs   *JobRunner
	stream *EventBus
}

// NewGatewayServer builds a server from a validated [GatewayConfig] and
// routing table, connecting every configured datasource.
func NewGatewayServer(ctx context.Context, cfg *GatewayConfig, routes []Route, mesh PipelineMesh, log zerolog.Logger) (*GatewayServer, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}

	ds, err := Connect(ctx, cfg.Datasources, &log)
	if err != nil {
		return nil, err
	}

	var keys Keystore
	if cfg.HMAC != nil {
		keys = Keystore(cfg.HMAC.Keys)
	}

	bus := NewEventBus()
	var eventsPool *pgxpool.Pool
	if cfg.EventsDatasource != "" {
		if pool, err := ds.Pool(cfg.EventsDatasource); err == nil {
			eventsPool = pool
			bus.ListenPostgres(ctx, pool, &log)
		}
	}

	rc := &RequestContext{
		Routes:         routes,
		Mesh:           mesh,
		DS:             ds,
		Logger:         &log,
		HMAC:           cfg.HMAC,
		Keys:           keys,
		NodeBinary:     cfg.NodeBinary,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		DefaultTimeout: cfg.DefaultTimeoutSeconds,
		Cache:          NewResponseCache(cfg.CacheTTLSeconds),
		Hooks: &Hooks{
			PostSuccess: func(route *Route, resp RouteResponse) {
				ev := Event{Route: route.Pattern.Raw, Status: resp.Status}
				bus.Publish(ev)
				if eventsPool != nil {
					NotifyPostgres(context.Background(), eventsPool, ev, &log)
				}
			},
		},
	}

	s := &GatewayServer{cfg: cfg, rc: rc, log: log, stream: bus}

	if len(cfg.Jobs) > 0 {
		s.jobs = NewJobRunner(cfg.Jobs, ds, mesh, rc, &log)
	}

	s.http = &http.Server{
		Addr:    listenAddr(cfg.Listen),
		Handler: s.router(),
	}
	return s, nil
}

func listenAddr(listen string) string {
	if listen == "" {
		return ":8080"
	}
	if _, _, err := net.SplitHostPort(listen); err != nil {
		return listen + ":8080"
	}
	return listen
}

func (s *GatewayServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.cfg.Compression {
		r.Use(middleware.Compress(5))
	}
	if s.cfg.CORS != nil {
		r.Use(corsMiddleware(s.cfg.CORS))
	}

	handler := func(w http.ResponseWriter, req *http.Request) {
		Dispatch(w, req, s.rc)
	}
	for _, m := range []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"} {
		r.MethodFunc(m, "/*", handler)
	}

	r.Get("/_events", s.stream.ServeHTTP)
	return r
}

func corsMiddleware(c *CORS) func(http.Handler) http.Handler {
	maxAge := 0
	if c.MaxAge != nil {
		maxAge = *c.MaxAge
	}
	co := cors.New(cors.Options{
		AllowedOrigins:   c.AllowedOrigins,
		AllowedMethods:   c.AllowedMethods,
		AllowedHeaders:   c.AllowedHeaders,
		ExposedHeaders:   c.ExposedHeaders,
		AllowCredentials: c.AllowCredentials,
		MaxAge:           maxAge,
		Debug:            c.Debug,
	})
	return co.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *GatewayServer) Start(ctx context.Context) error {
	if s.jobs != nil {
		s.jobs.Start()
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		return err
	}
}

// Stop gracefully shuts the server down, with a bounded grace period.
func (s *GatewayServer) Stop() error {
	if s.jobs != nil {
		s.jobs.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	s.rc.DS.Close()
	return err
}
