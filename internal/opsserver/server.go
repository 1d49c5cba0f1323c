// Package opsserver exposes an Initializer's already-public Status and
// event-subscription surface over HTTP and WebSocket, for dashboards,
// runbooks, or a sidecar liveness probe. It is additive: nothing in the
// orchestration core imports this package, and an embedder who doesn't
// want an HTTP surface never constructs one.
package opsserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/artemis/bucketsinit/internal/status"
)

// Initializer is the narrow read-only surface opsserver depends on; it is
// satisfied by *orchestrator.Initializer without opsserver importing that
// package, keeping the dependency one-directional.
type Initializer interface {
	Status() status.Snapshot
	Subscribe() *status.Subscription
	InstanceID() string
}

// Server is the HTTP/WebSocket operational surface.
type Server struct {
	init   Initializer
	logger *zap.Logger
	hub    *hub
	router *gin.Engine
	addr   string

	stopRelay chan struct{}
}

// New constructs a Server bound to an Initializer. Call Start to begin
// serving and relaying events.
func New(init Initializer, logger *zap.Logger, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		init:      init,
		logger:    logger,
		hub:       newHub(logger),
		addr:      addr,
		stopRelay: make(chan struct{}),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "instance_id": s.init.InstanceID()})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/status", func(c *gin.Context) {
		snap := s.init.Status()
		c.JSON(http.StatusOK, snapshotToJSON(snap))
	})

	r.GET("/events", s.handleWebSocket)

	s.router = r
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 16)}
	s.hub.register(client)
	defer s.hub.unregister(client)

	go client.writeLoop()

	// The connection is read-only from the client's perspective; drain
	// and discard anything the peer sends so control frames (ping/close)
	// are still processed and a dead connection is detected promptly.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Start relays the Initializer's lifecycle events to connected WebSocket
// clients and serves HTTP until the listener fails; Stop ends only the
// event relay, not the HTTP serving. It blocks, like the teacher's own Server.Start, so callers run it in a
// goroutine when embedding it alongside the Initializer's own Start.
func (s *Server) Start() error {
	sub := s.init.Subscribe()
	go s.relay(sub)

	s.logger.Info("starting opsserver", zap.String("addr", s.addr))
	return s.router.Run(s.addr)
}

func (s *Server) relay(sub *status.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			s.hub.broadcast(evt)
		case <-s.stopRelay:
			return
		}
	}
}

// Stop ends the event relay goroutine. It does not shut down the
// underlying HTTP listener, matching gin's own lack of a built-in
// graceful-stop primitive on Engine.Run.
func (s *Server) Stop() {
	close(s.stopRelay)
}

func snapshotToJSON(snap status.Snapshot) gin.H {
	return gin.H{
		"instance_id": snap.InstanceID,
		"buckets_setup": phaseJSON(snap.BucketsSetup),
		"buckets_reindex": phaseJSON(snap.BucketsReindex),
		"data_migrations": gin.H{
			"state":         snap.DataMigrations.State,
			"latest_errors": errorMapJSON(snap.DataMigrations.LatestErrors),
			"completed":     snap.DataMigrations.Completed,
		},
		"observed_at": time.Now().UTC(),
	}
}

func phaseJSON(p status.PhaseStatus) gin.H {
	h := gin.H{"state": p.State}
	if p.LatestError != nil {
		h["latest_error"] = p.LatestError.Error()
	}
	return h
}

func errorMapJSON(m map[string]error) gin.H {
	out := gin.H{}
	for k, v := range m {
		out[k] = v.Error()
	}
	return out
}
