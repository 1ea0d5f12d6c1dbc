package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/zenazn/goji/web"

	"github.com/fractal-analytics-platform/zroi/loader"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

// ShutdownDelay is how long Serve waits for in-flight requests on shutdown.
var ShutdownDelay = 5 * time.Second

// Server serves ROI loads over HTTP.
type Server struct {
	config *Config
	loader *loader.Loader
	mux    *web.Mux
}

// New returns a server using the given loader.
func New(config *Config, l *loader.Loader) *Server {
	s := &Server{config: config, loader: l}
	s.initRoutes()
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve listens on the configured address until the context is canceled.
// Stay-alive connections are not allowed to hog goroutines for more than an hour.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.config.HTTPAddress()
	src := &http.Server{
		Addr:        addr,
		Handler:     s.mux,
		ReadTimeout: 1 * time.Hour,
	}
	zroi.Infof("Web server listening at %s ...\n", addr)

	errc := make(chan error, 1)
	go func() {
		errc <- src.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	zroi.Infof("Shutting down web server at %s ...\n", addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownDelay)
	defer cancel()
	if err := src.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// corsHandler returns middleware allowing cross-origin GETs from the domains,
// or nil if there are none.
func corsHandler(domains []string) func(http.Handler) http.Handler {
	domains = splitDomains(domains)
	if len(domains) == 0 {
		return nil
	}
	c := cors.New(cors.Options{
		AllowedOrigins: domains,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		ExposedHeaders: []string{HeaderShape, HeaderDtype, HeaderScale},
	})
	return c.Handler
}
