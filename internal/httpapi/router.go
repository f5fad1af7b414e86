package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the vcpaudit HTTP router: the ingestion webhook, the
// query endpoints, the live status feed, and the operational surface
// (/health, /metrics), wrapped in panic recovery, request-id propagation,
// access logging, and a body-size limit.
func NewRouter(s *Server) http.Handler {
	r := mux.NewRouter()

	r.Handle("/vcp/event", webhookAuth(s)(http.HandlerFunc(s.handleEvent))).Methods(http.MethodPost)
	r.HandleFunc("/vcp/verify/{event_id}", s.handleVerifyEvent).Methods(http.MethodGet)
	r.HandleFunc("/vcp/proof/{event_id}", s.handleProof).Methods(http.MethodGet)
	r.HandleFunc("/vcp/anchor/force", s.handleAnchorForce).Methods(http.MethodPost)
	r.HandleFunc("/vcp/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	var handler http.Handler = r
	handler = accessLog(s.Log)(handler)
	handler = limitBody(handler)
	handler = requestID(handler)
	handler = recoverer(s.Log)(handler)
	return handler
}
