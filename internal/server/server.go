package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/marksync/marksync/internal/crypto"
)

// Config holds server configuration.
type Config struct {
	// Listen address, host:port (default ":8383").
	Listen string

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen: ":8383",
		Logger: log.Default(),
	}
}

// Server is the marksync backend HTTP server.
type Server struct {
	store    *Store
	cipher   *crypto.Cipher
	verifier TokenVerifier
	hub      *Hub

	listen     string
	listener   net.Listener
	httpServer *http.Server
	wg         sync.WaitGroup

	logger *log.Logger
}

// New assembles a server from its collaborators. A nil config uses
// DefaultConfig.
func New(store *Store, cipher *crypto.Cipher, verifier TokenVerifier, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Listen == "" {
		config.Listen = ":8383"
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	return &Server{
		store:    store,
		cipher:   cipher,
		verifier: verifier,
		hub:      NewHub(config.Logger),
		listen:   config.Listen,
		logger:   config.Logger,
	}
}

// Hub exposes the WebSocket fan-out, mainly for tests and embedding.
func (s *Server) Hub() *Hub { return s.hub }

// Router builds the HTTP route table. The clear route is registered before
// the id route so "clear" is never parsed as a bookmark identifier.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.authenticate(s.hub.HandleWebSocket)).Methods(http.MethodGet)

	r.HandleFunc("/bookmarks", s.authenticate(s.handleListBookmarks)).Methods(http.MethodGet)
	r.HandleFunc("/bookmarks", s.authenticate(s.handleCreateBookmark)).Methods(http.MethodPost)
	r.HandleFunc("/bookmarks/search", s.authenticate(s.handleSearchBookmarks)).Methods(http.MethodGet)
	r.HandleFunc("/bookmarks/sync", s.authenticate(s.handleSyncBookmark)).Methods(http.MethodPost)
	r.HandleFunc("/bookmarks/clear", s.authenticate(s.handleClearBookmarks)).Methods(http.MethodDelete)
	r.HandleFunc("/bookmarks/{id:[0-9]+}", s.authenticate(s.handleUpdateBookmark)).Methods(http.MethodPut)
	r.HandleFunc("/bookmarks/{id:[0-9]+}", s.authenticate(s.handleDeleteBookmark)).Methods(http.MethodDelete)

	return r
}

// Start begins serving. It returns once the listener is bound; the serve
// loop runs in the background until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:     s.Router(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: it would sever long-lived WebSocket connections.
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Server listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down, disconnecting WebSocket clients
// first.
func (s *Server) Stop() error {
	s.logger.Println("Stopping server")

	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Println("Server stopped")
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.listen
}
