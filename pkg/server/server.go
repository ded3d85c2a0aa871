// Package server wires the VFS backend, cache, existence index, mesh,
// and replication workers into a running AssetServer: two TCP
// listeners (client service, intramesh query service) plus the
// background goroutines that keep the node's topology and
// replication state current.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/whip/pkg/cache"
	"github.com/cuemby/whip/pkg/config"
	"github.com/cuemby/whip/pkg/connio"
	"github.com/cuemby/whip/pkg/existence"
	"github.com/cuemby/whip/pkg/mesh"
	"github.com/cuemby/whip/pkg/replication"
	"github.com/cuemby/whip/pkg/vfs"
	"github.com/rs/zerolog"
)

// statsInterval is how often the server logs aggregate throughput and
// mesh stats, per the original listener's periodic report.
const statsInterval = 5 * time.Second

// AssetServer owns every long-lived component of one whip node.
type AssetServer struct {
	cfg    *config.Config
	logger zerolog.Logger

	existence *existence.Index
	backend   *vfs.Backend
	cache     *cache.Cache
	store     *store
	mesh      *mesh.Mesh
	puller    *replication.Puller
	pusher    *replication.Pusher

	clientLn net.Listener
	meshLn   net.Listener

	mu          sync.Mutex
	clientAddr  string
	meshAddr    string
	rawConns    map[net.Conn]struct{}
	clientConns map[*connio.Conn]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New assembles an AssetServer from cfg, scanning the configured
// storage root to rebuild the existence index before accepting
// connections.
func New(cfg *config.Config, logger zerolog.Logger) (*AssetServer, error) {
	if cfg.DiskStorageBackend() != "vfs" {
		return nil, fmt.Errorf("server: unsupported disk_storage_backend %q", cfg.DiskStorageBackend())
	}

	idx := existence.New(0)
	if err := vfs.ScanExistenceIndex(cfg.DiskStorageRoot(), idx); err != nil {
		return nil, err
	}

	backend, err := vfs.New(cfg.DiskStorageRoot(), idx, logger.With().Str("component", "vfs").Logger())
	if err != nil {
		return nil, err
	}

	var c *cache.Cache
	if cfg.CacheEnabled() {
		c = cache.New(cfg.CacheSizeBytes())
	}

	s := newStore(backend, c, idx)

	m := mesh.New(cfg, idx, cfg.IsWritable, logger.With().Str("component", "mesh").Logger())
	puller := replication.NewPuller(cfg, idx, backend, logger.With().Str("component", "pull").Logger())
	pusher := replication.NewPusher(cfg, logger.With().Str("component", "push").Logger())
	backend.OnStore(pusher.Enqueue)

	return &AssetServer{
		cfg:         cfg,
		logger:      logger,
		existence:   idx,
		backend:     backend,
		cache:       c,
		store:       s,
		mesh:        m,
		puller:      puller,
		pusher:      pusher,
		rawConns:    make(map[net.Conn]struct{}),
		clientConns: make(map[*connio.Conn]struct{}),
		stopCh:      make(chan struct{}),
	}, nil
}

// Run starts every listener and background goroutine, and blocks
// until ctx is canceled. It returns an error if either listener
// cannot be bound; otherwise it returns nil after a clean shutdown.
// An accept error is logged and ends that listener's accept loop.
func (s *AssetServer) Run(ctx context.Context) error {
	clientLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port()))
	if err != nil {
		return fmt.Errorf("server: listen client port: %w", err)
	}
	s.clientLn = clientLn

	meshLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.IntraMeshPort()))
	if err != nil {
		clientLn.Close()
		return fmt.Errorf("server: listen intramesh port: %w", err)
	}
	s.meshLn = meshLn

	s.mu.Lock()
	s.clientAddr = clientLn.Addr().String()
	s.meshAddr = meshLn.Addr().String()
	s.mu.Unlock()

	backendCtx, cancelBackend := context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.backend.Run(backendCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.mesh.Run(s.stopCh)
	}()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.puller.Run(s.stopCh)
	}()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pusher.Run(s.stopCh)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptClientLoop(clientLn)
	}()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptMeshLoop(meshLn)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.statsLoop()
	}()

	s.logger.Info().
		Int("port", s.cfg.Port()).
		Int("intramesh_port", s.cfg.IntraMeshPort()).
		Msg("whip node listening")

	<-ctx.Done()
	s.shutdown(cancelBackend)
	return nil
}

// ClientAddr returns the client-service listen address once Run has
// bound it, or "" before that.
func (s *AssetServer) ClientAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientAddr
}

// MeshAddr returns the intramesh query listen address once Run has
// bound it, or "" before that.
func (s *AssetServer) MeshAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meshAddr
}

func (s *AssetServer) shutdown(cancelBackend context.CancelFunc) {
	s.logger.Info().Msg("whip node shutting down")
	close(s.stopCh)
	s.clientLn.Close()
	s.meshLn.Close()
	s.closeAllConns()
	cancelBackend()
	s.backend.Stop()
	s.wg.Wait()
}

func (s *AssetServer) acceptClientLoop(ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Warn().Err(err).Msg("client accept failed")
				return
			}
		}

		c := connio.New(nc, s.cfg.Password(), s.cfg.TCPBufSize(), s.store, s.mesh, s.logger)
		s.trackClientConn(c)
		go func() {
			defer s.untrackClientConn(c)
			defer nc.Close()
			c.Serve()
		}()
	}
}

func (s *AssetServer) acceptMeshLoop(ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Warn().Err(err).Msg("intramesh accept failed")
				return
			}
		}

		s.trackRawConn(nc)
		go func() {
			defer s.untrackRawConn(nc)
			s.serveMeshQuery(nc)
		}()
	}
}

func (s *AssetServer) trackClientConn(c *connio.Conn) {
	s.mu.Lock()
	s.clientConns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *AssetServer) untrackClientConn(c *connio.Conn) {
	s.mu.Lock()
	delete(s.clientConns, c)
	s.mu.Unlock()
}

func (s *AssetServer) trackRawConn(c net.Conn) {
	s.mu.Lock()
	s.rawConns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *AssetServer) untrackRawConn(c net.Conn) {
	s.mu.Lock()
	delete(s.rawConns, c)
	s.mu.Unlock()
}

func (s *AssetServer) closeAllConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.rawConns {
		c.Close()
	}
	for c := range s.clientConns {
		c.Close()
	}
}

// serveMeshQuery handles one inbound intramesh query connection,
// rejecting any peer not present in the configured peer list.
func (s *AssetServer) serveMeshQuery(nc net.Conn) {
	if !s.mesh.Trusted(nc.RemoteAddr().String()) {
		s.logger.Warn().Str("remote", nc.RemoteAddr().String()).Msg("rejected untrusted intramesh connection")
		nc.Close()
		return
	}
	s.mesh.ServeInboundQuery(nc)
}

func (s *AssetServer) statsLoop() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logStats()
		case <-s.stopCh:
			return
		}
	}
}

func (s *AssetServer) logStats() {
	var requests int
	var bytes int64
	s.mu.Lock()
	for c := range s.clientConns {
		r, b := c.Stats()
		requests += r
		bytes += b
	}
	s.mu.Unlock()

	seconds := statsInterval.Seconds()
	s.logger.Info().
		Float64("requests_per_sec", float64(requests)/seconds).
		Float64("kb_per_sec", float64(bytes)/1000/seconds).
		Int("mesh_peers_online", s.mesh.OnlineCount()).
		Int("existing_assets", s.existence.Len()).
		Msg("periodic stats")
}
