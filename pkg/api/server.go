// Package api exposes the Coin Inventory Server's coin endpoints and an
// aggregated health check over net/http.ServeMux: small handler functions
// behind one mux, JSON request/response structs, explicit status-code
// mapping. Binary fields cross the JSON boundary base64-encoded.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/catalog"
	aqmerrors "github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/errors"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/health"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/log"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/metrics"
	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/server"
)

const (
	defaultPurgeStaleMaxAgeDays = 30
	defaultHardDeleteGraceHours = 1
)

// Server is the HTTP surface over the Coin Inventory Server and the
// process's health checkers.
type Server struct {
	srv      *server.Server
	checkers []health.Checker
	mux      *http.ServeMux
	logger   zerolog.Logger
}

// NewServer builds the HTTP surface. checkers is aggregated into the
// /v1/health response: the endpoint reports degraded if any checker reports
// unhealthy.
func NewServer(srv *server.Server, checkers []health.Checker) *Server {
	s := &Server{
		srv:      srv,
		checkers: checkers,
		mux:      http.NewServeMux(),
		logger:   log.WithComponent("api"),
	}
	s.mux.HandleFunc("/v1/coins/upload", instrument("/v1/coins/upload", s.handleUpload))
	s.mux.HandleFunc("/v1/coins/fetch", instrument("/v1/coins/fetch", s.handleFetch))
	s.mux.HandleFunc("/v1/coins/count", instrument("/v1/coins/count", s.handleCount))
	s.mux.HandleFunc("/v1/admin/purge-stale", instrument("/v1/admin/purge-stale", s.handlePurgeStale))
	s.mux.HandleFunc("/v1/admin/hard-delete", instrument("/v1/admin/hard-delete", s.handleHardDelete))
	s.mux.HandleFunc("/v1/health", instrument("/v1/health", s.handleHealth))
	s.mux.Handle("/metrics", metrics.Handler())
	return s
}

// statusRecorder captures the status code a handler writes so instrument can
// label the request counter with it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument times each request per route and counts it per (route, status).
func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

// Handler returns the HTTP handler for embedding or for httptest.
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs the HTTP server at addr until it errors or is shut down.
func (s *Server) Start(addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api server listening")
	return httpServer.ListenAndServe()
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "user_id must be a UUID")
		return
	}

	coins := make([]server.UploadCoin, 0, len(req.Coins))
	for _, c := range req.Coins {
		pk, err := base64.StdEncoding.DecodeString(c.PublicKeyB64)
		if err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, "malformed public_key_b64")
			return
		}
		sig, err := base64.StdEncoding.DecodeString(c.SignatureB64)
		if err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, "malformed signature_b64")
			return
		}
		coins = append(coins, server.UploadCoin{
			KeyID:     c.KeyID,
			Category:  c.CoinCategory,
			PublicKey: pk,
			Signature: sig,
		})
	}

	inserted, err := s.srv.UploadCoins(r.Context(), req.UserID, coins)
	if err != nil {
		s.writeError(w, "upload", err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Inserted: inserted})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	targetUserID := q.Get("target_user_id")
	requesterID := q.Get("requester_id")
	category := q.Get("coin_category")
	countStr := q.Get("count")
	if targetUserID == "" || requesterID == "" || category == "" || countStr == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "missing required query parameter")
		return
	}
	if _, err := uuid.Parse(targetUserID); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "target_user_id must be a UUID")
		return
	}
	if _, err := uuid.Parse(requesterID); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "requester_id must be a UUID")
		return
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count <= 0 {
		writeJSONError(w, http.StatusUnprocessableEntity, "count must be a positive integer")
		return
	}

	rows, err := s.srv.FetchCoins(r.Context(), targetUserID, requesterID, catalog.Tier(category), count)
	if err != nil {
		s.writeError(w, "fetch", err)
		return
	}

	coins := make([]fetchedCoin, 0, len(rows))
	for _, row := range rows {
		coins = append(coins, fetchedCoin{
			KeyID:        row.KeyID,
			CoinCategory: row.Category,
			PublicKeyB64: base64.StdEncoding.EncodeToString(row.PublicKey),
			SignatureB64: base64.StdEncoding.EncodeToString(row.Signature),
		})
	}
	writeJSON(w, http.StatusOK, fetchResponse{Coins: coins})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "missing user_id")
		return
	}
	if _, err := uuid.Parse(userID); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "user_id must be a UUID")
		return
	}
	counts, err := s.srv.GetInventoryCount(r.Context(), userID)
	if err != nil {
		s.writeError(w, "count", err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Gold: counts.Gold, Silver: counts.Silver, Bronze: counts.Bronze})
}

func (s *Server) handlePurgeStale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req purgeStaleRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, "malformed request body")
			return
		}
	}
	maxAgeDays := defaultPurgeStaleMaxAgeDays
	if req.MaxAgeDays != nil {
		maxAgeDays = *req.MaxAgeDays
	}
	deleted, err := s.srv.PurgeStale(r.Context(), time.Duration(maxAgeDays)*24*time.Hour)
	if err != nil {
		s.writeError(w, "purge-stale", err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: deleted})
}

func (s *Server) handleHardDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req hardDeleteRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, "malformed request body")
			return
		}
	}
	graceHours := defaultHardDeleteGraceHours
	if req.GraceHours != nil {
		graceHours = *req.GraceHours
	}
	deleted, err := s.srv.HardDeleteFetched(r.Context(), time.Duration(graceHours)*time.Hour)
	if err != nil {
		s.writeError(w, "hard-delete", err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: deleted})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	connected := true
	for _, c := range s.checkers {
		if !c.Check(ctx).Healthy {
			connected = false
			break
		}
	}
	status := "ok"
	if !connected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status, DBConnected: connected})
}

// writeError maps the typed error taxonomy onto status codes: invalid
// category is 422, everything else from a backing-store failure is 500.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	var invalidCategory *aqmerrors.InvalidCoinCategoryError
	if errors.As(err, &invalidCategory) {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.logger.Error().Err(err).Str("op", op).Msg("api request failed")
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
