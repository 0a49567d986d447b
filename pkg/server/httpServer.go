package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/application"
)

const shutdownTimeout = 10 * time.Second

func NewHTTPServer(
	app application.Application,
	notFoundHandler, methodNotAllowedHandler http.Handler,
) *HTTPServer {
	return &HTTPServer{
		Controllers:             app.Controllers(),
		Middlewares:             app.Middleware(),
		NotFoundHandler:         notFoundHandler,
		MethodNotAllowedHandler: methodNotAllowedHandler,
	}
}

type HTTPServer struct {
	Controllers             []application.Controller
	Middlewares             []mux.MiddlewareFunc
	NotFoundHandler         http.Handler
	MethodNotAllowedHandler http.Handler
}

func (s *HTTPServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.Middlewares...)
	for _, controller := range s.Controllers {
		controller.Register(r)
	}

	var notFoundHandler = s.NotFoundHandler
	var notAllowedHandler = s.MethodNotAllowedHandler
	for i := len(s.Middlewares) - 1; i >= 0; i-- {
		notFoundHandler = s.Middlewares[i](notFoundHandler)
		notAllowedHandler = s.Middlewares[i](notAllowedHandler)
	}
	r.NotFoundHandler = notFoundHandler
	r.MethodNotAllowedHandler = notAllowedHandler
	return r
}

func (s *HTTPServer) Handler() http.Handler {
	return gziphandler.GzipHandler(s.Router())
}

func (s *HTTPServer) Start(socketAddress string) error {
	return http.ListenAndServe(socketAddress, s.Handler())
}

// Serve listens until ctx is cancelled, then drains in-flight requests.
func (s *HTTPServer) Serve(ctx context.Context, socketAddress string) error {
	srv := &http.Server{
		Addr:              socketAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
