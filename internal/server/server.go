package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/variantlab/variantlab/internal/engine"
	"github.com/variantlab/variantlab/internal/stats"
	"github.com/variantlab/variantlab/internal/store"
)

type Server struct {
	store     *store.SQLiteStore
	engine    *engine.AssignmentEngine
	recorder  *engine.ConversionRecorder
	advisor   *stats.Advisor
	port      int
	token     string
	tokenFile string
	router    *http.ServeMux
	startTime time.Time
	log       *zap.Logger
}

func New(s *store.SQLiteStore, port int, tokenFile string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	aggregator := stats.NewAggregator(s, stats.NewZTestCalculator(s))

	srv := &Server{
		store:     s,
		engine:    engine.NewAssignmentEngine(s, engine.HashBucketer{}, log),
		recorder:  engine.NewConversionRecorder(s, log),
		advisor:   stats.NewAdvisor(s, aggregator),
		port:      port,
		token:     generateToken(),
		tokenFile: tokenFile,
		router:    http.NewServeMux(),
		startTime: time.Now(),
		log:       log,
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints (traffic-serving path)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("/v1/t/{tenant}/experiments/{experiment}/assign", s.handleAssign)
	s.router.HandleFunc("/v1/t/{tenant}/experiments/{experiment}/convert", s.handleConvert)

	// Analysis endpoints (protected)
	s.router.Handle("GET /v1/t/{tenant}/experiments/{experiment}/analyze", s.authMiddleware(http.HandlerFunc(s.handleAnalyze)))
	s.router.Handle("POST /v1/t/{tenant}/experiments/{experiment}/results", s.authMiddleware(http.HandlerFunc(s.handleResultsIngest)))
}

func (s *Server) Start() error {
	// Write token to file so the CLI can print it later
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.log.Warn("failed to write token file", zap.Error(err))
		}
	}

	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("server listening",
		zap.String("addr", addr),
		zap.String("token", s.token))

	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand failing is unrecoverable for token auth
		panic(fmt.Sprintf("failed to generate token: %v", err))
	}
	return hex.EncodeToString(bytes)
}
