package restapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/renegade-fi/fee-sweeper/logging"
	"github.com/renegade-fi/fee-sweeper/restapi/handlers"
	"github.com/renegade-fi/fee-sweeper/service"
)

const shutdownTimeout = 5 * time.Second

// NewHandler routes the admin API.
func NewHandler(svc service.Fee) http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/fees", handlers.HandleListFees(svc)).Methods(http.MethodGet)
	api.HandleFunc("/fees/{id:[0-9]+}", handlers.HandleGetFee(svc)).Methods(http.MethodGet)
	api.HandleFunc("/fees/{id:[0-9]+}/requeue", handlers.HandleRequeueFee(svc)).Methods(http.MethodPost)
	api.HandleFunc("/stats", handlers.HandleGetStats(svc)).Methods(http.MethodGet)
	return setupGlobalMiddleware(router)
}

// Serve blocks until ctx is done or the listener fails.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Logger.Errorf("admin api shutdown, err=%s", err.Error())
		}
	}()
	logging.Logger.Infof("serving admin api on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func setupGlobalMiddleware(handler http.Handler) http.Handler {
	return handlers.LogRequests(handler)
}
