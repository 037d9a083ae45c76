package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"marketsync/internal/model"
	"marketsync/internal/syncer"
	"marketsync/internal/verify"
)

// StatusSource reports engine health.
type StatusSource interface {
	Report(ctx context.Context) (syncer.Status, error)
}

// TxVerifier answers pull-path verification requests.
type TxVerifier interface {
	Verify(ctx context.Context, txHash, claimedActor string) (verify.VerificationResult, error)
}

// Replayer triggers a dead-letter sweep.
type Replayer interface {
	ReplayFailed(ctx context.Context, includeExhausted bool) (healed int, failed int, err error)
}

// Cleaner wipes the dead-letter log.
type Cleaner interface {
	ClearFailedEvents(ctx context.Context) (int, error)
}

// Server is the admin HTTP surface over the sync engine.
type Server struct {
	status   StatusSource
	verifier TxVerifier
	replayer Replayer
	cleaner  Cleaner
	logger   *zap.Logger
}

func NewServer(status StatusSource, verifier TxVerifier, replayer Replayer, cleaner Cleaner, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		status:   status,
		verifier: verifier,
		replayer: replayer,
		cleaner:  cleaner,
		logger:   logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/failed/retry", s.handleRetry)
	mux.HandleFunc("/failed/clear", s.handleClear)
	return mux
}

// ListenAndServe runs the server until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status, err := s.status.Report(r.Context())
	if err != nil {
		s.logger.Error("status report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	txHash := r.URL.Query().Get("tx")
	actor := r.URL.Query().Get("actor")
	if txHash == "" || actor == "" {
		writeError(w, http.StatusBadRequest, "tx and actor are required")
		return
	}

	result, err := s.verifier.Verify(r.Context(), txHash, actor)
	if err != nil {
		switch {
		case model.IsPermanent(err):
			writeError(w, http.StatusBadRequest, err.Error())
		case model.IsConnectivity(err):
			s.logger.Error("verification upstream failure", zap.String("tx_hash", txHash), zap.Error(err))
			writeError(w, http.StatusBadGateway, "ledger unreachable")
		default:
			s.logger.Error("verification failed", zap.String("tx_hash", txHash), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	switch result.Outcome {
	case verify.OutcomeNotFoundOrFailed:
		writeJSON(w, http.StatusNotFound, result)
	case verify.OutcomeActorMismatch:
		writeJSON(w, http.StatusUnprocessableEntity, result)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Operator retries include exhausted records unless asked not to.
	includeExhausted := true
	if raw := r.URL.Query().Get("include_exhausted"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid include_exhausted")
			return
		}
		includeExhausted = parsed
	}

	healed, failed, err := s.replayer.ReplayFailed(r.Context(), includeExhausted)
	if err != nil {
		s.logger.Error("dead-letter replay failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "replay failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"healed": healed, "failed": failed})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	removed, err := s.cleaner.ClearFailedEvents(r.Context())
	if err != nil {
		s.logger.Error("dead-letter clear failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message})
}
