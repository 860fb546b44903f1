// Package adminhttp serves the coordinator's operational side
// channel: health, Prometheus metrics, partition/quorum status, and
// membership view. None of this is the replication data path, which
// runs entirely over the cluster queues; it exists so an operator (or
// a load balancer's own health probe) has something to poll.
//
// Routing and the request-metrics middleware are adapted from the
// file-storage coordinator server this module grew out of, grounded
// on its setupRoutes/setupHealthEndpoints pattern.
package adminhttp

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kurahashiryo/orientdb/internal/membership"
	"github.com/kurahashiryo/orientdb/pkg/metrics"
	"github.com/kurahashiryo/orientdb/pkg/partition"
)

// Server is the coordinator's gin-based admin HTTP surface.
type Server struct {
	router   *gin.Engine
	node     string
	resolver *partition.StaticResolver
	prober   *membership.Prober
}

// New builds a Server for node, backed by resolver for /status and
// prober for /nodes.
func New(node string, resolver *partition.StaticResolver, prober *membership.Prober) *Server {
	s := &Server{
		router:   gin.Default(),
		node:     node,
		resolver: resolver,
		prober:   prober,
	}
	s.router.Use(metricsMiddleware(node))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/nodes", s.handleNodes)
}

func (s *Server) handleHealth(c *gin.Context) {
	sys, err := metrics.GetSystemMetrics()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "node": s.node})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "OK",
		"node":   s.node,
		"system": gin.H{
			"cpuPercent":        sys.CPUUsagePercent,
			"memoryUsedBytes":   sys.MemoryUsedBytes,
			"diskUsedBytes":     sys.DiskUsedBytes,
			"activeConnections": sys.ActiveConnections,
		},
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	database := c.Query("database")
	shard := c.Query("shard")
	if database == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "database query parameter is required"})
		return
	}

	cfg, err := s.resolver.Config(database, shard)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"database":                    database,
		"shard":                       shard,
		"nodes":                       cfg.Nodes,
		"readQuorum":                  cfg.ReadQuorum,
		"writeQuorum":                 cfg.WriteQuorum,
		"readYourWrites":              cfg.ReadYourWrites,
		"failWhenAvailableLessQuorum": cfg.FailWhenAvailableLessQuorum,
		"strategy":                    cfg.Strategy,
		"resyncEverySeconds":          cfg.ResyncEverySeconds,
	})
}

func (s *Server) handleNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"localNode": s.node,
		"peers":     s.prober.Snapshot(),
	})
}

// Run starts the admin HTTP server on addr, blocking until it exits.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
