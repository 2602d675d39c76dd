package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"

	"github.com/nzwater/compliance-core/pkg/application"
)

// HTTPServer mounts every registered controller behind the application middleware chain.
type HTTPServer struct {
	Controllers             []application.Controller
	Middlewares             []mux.MiddlewareFunc
	NotFoundHandler         http.Handler
	MethodNotAllowedHandler http.Handler

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

func NewHTTPServer(app application.Application, notFound, methodNotAllowed http.Handler) *HTTPServer {
	return &HTTPServer{
		Controllers:             app.Controllers(),
		Middlewares:             app.Middleware(),
		NotFoundHandler:         notFound,
		MethodNotAllowedHandler: methodNotAllowed,
		ReadHeaderTimeout:       10 * time.Second,
		IdleTimeout:             2 * time.Minute,
		ShutdownTimeout:         10 * time.Second,
	}
}

func (s *HTTPServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.Middlewares...)
	for _, c := range s.Controllers {
		c.Register(r)
	}
	// mux does not run Use() middleware for its fallback handlers.
	r.NotFoundHandler = s.chain(s.NotFoundHandler)
	r.MethodNotAllowedHandler = s.chain(s.MethodNotAllowedHandler)
	return r
}

func (s *HTTPServer) chain(h http.Handler) http.Handler {
	if h == nil {
		return nil
	}
	for i := len(s.Middlewares) - 1; i >= 0; i-- {
		h = s.Middlewares[i](h)
	}
	return h
}

func (s *HTTPServer) Handler() http.Handler {
	return gziphandler.GzipHandler(s.Router())
}

// Start serves on socketAddress until ctx is cancelled, then drains in-flight requests for up to
// ShutdownTimeout.
func (s *HTTPServer) Start(ctx context.Context, socketAddress string) error {
	ln, err := net.Listen("tcp", socketAddress)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.ReadHeaderTimeout,
		IdleTimeout:       s.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
