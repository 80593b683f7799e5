package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/renegade-fi/fee-sweeper/logging"
	"github.com/renegade-fi/fee-sweeper/service"
)

type Response struct {
	Code    int64       `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LogRequests logs every request with its status and latency.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		logging.Logger.Debugf("%s %s %d %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

func Error(err error) (int64, string) {
	switch e := err.(type) {
	case service.Err:
		return e.Code, e.Message
	case nil:
		return service.NoErr.Code, service.NoErr.Message
	default:
		return service.InternalErr.Code, err.Error()
	}
}

func writeResponse(w http.ResponseWriter, data interface{}, err error) {
	code, message := Error(err)
	payload := Response{
		Code:    code,
		Message: message,
	}
	if err == nil {
		payload.Data = data
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(int(code))
	if encodeErr := json.NewEncoder(w).Encode(payload); encodeErr != nil {
		logging.Logger.Errorf("failed to encode response, err=%s", encodeErr.Error())
	}
}
