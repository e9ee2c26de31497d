package observability

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// StatusServer exposes link status, health and Prometheus metrics.
type StatusServer struct {
	ID       string
	Addr     string
	Appeared time.Time

	router *gin.Engine
	mu     sync.RWMutex
	links  map[string]*Link
}

func NewStatusServer(id, addr string, corsOrigins []string) *StatusServer {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &StatusServer{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		router:   r,
		links:    make(map[string]*Link),
	}
	s.registerRoutes()
	return s
}

// Track adds a link to the status listing, replacing one with the same name.
func (s *StatusServer) Track(l *Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[l.Name()] = l
}

func (s *StatusServer) Untrack(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, name)
}

func (s *StatusServer) Handler() http.Handler {
	return s.router
}

func (s *StatusServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/links", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"links": s.Snapshot()})
	})

	s.router.GET("/links/:link", func(c *gin.Context) {
		s.mu.RLock()
		l, ok := s.links[c.Param("link")]
		s.mu.RUnlock()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
			return
		}
		c.JSON(http.StatusOK, l.Snapshot())
	})
}

// Snapshot lists tracked links sorted by name.
func (s *StatusServer) Snapshot() []LinkStatus {
	s.mu.RLock()
	list := make([]LinkStatus, 0, len(s.links))
	for _, l := range s.links {
		list = append(list, l.Snapshot())
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].Link < list[j].Link
	})
	return list
}

// Serve listens on Addr until ctx ends.
func (s *StatusServer) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Msg("observability.StatusServer listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
