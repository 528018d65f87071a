package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// adminServer serves the read-only observability surface over HTTP:
// /health, /status, and /metrics. It is optional and never part of the
// overlay protocol itself.
type adminServer struct {
	httpServer *http.Server
	addr       string
	done       chan struct{}
}

func startAdmin(s *Server) (*adminServer, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(s.cfg.Admin.CorsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.Admin.CorsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.startedAt).String(),
		})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Status())
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ln, err := net.Listen("tcp", s.cfg.Admin.Addr)
	if err != nil {
		return nil, fmt.Errorf("server: admin listen %s: %w", s.cfg.Admin.Addr, err)
	}

	admin := &adminServer{
		httpServer: &http.Server{Handler: router},
		addr:       ln.Addr().String(),
		done:       make(chan struct{}),
	}
	go func() {
		defer close(admin.done)
		if err := admin.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("admin endpoint failed")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin endpoint listening")
	return admin, nil
}

func (a *adminServer) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		_ = a.httpServer.Close()
	}
	<-a.done
}
