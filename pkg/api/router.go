package api

import (
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
)

// Handler returns the full http handler: every route is served at the root and again under /api/v1.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)
	s.routes(r)
	s.routes(r.PathPrefix("/api/v1").Subrouter())
	return allowCORS(r)
}

func (s *Server) routes(r *mux.Router) {
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(s.health)
	r.Methods(http.MethodGet).Path("/health/ready").HandlerFunc(s.ready)
	r.Methods(http.MethodGet).Path("/pages").HandlerFunc(s.listPages)
	r.Methods(http.MethodPost).Path("/pages").HandlerFunc(s.createPage)
	// registered before /pages/{id} so it is not taken for a page id
	r.Methods(http.MethodGet).Path("/pages/graph.svg").HandlerFunc(s.pageGraph)
	r.Methods(http.MethodGet).Path("/pages/{id}").HandlerFunc(s.getPage)
	r.Methods(http.MethodPut).Path("/pages/{id}").HandlerFunc(s.updatePage)
	r.Methods(http.MethodPost).Path("/pages/{id}/children").HandlerFunc(s.createChildPage)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.serveWebsocket)
}

func logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

// allowCORS answers preflight requests itself and marks every response as readable from any origin.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		h := writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Add("Vary", "Origin")
		if request.Method == http.MethodOptions && request.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			if reqHeaders := request.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(writer, request)
	})
}
