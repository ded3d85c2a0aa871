package replication

import (
	"strings"
	"sync"
	"time"

	"github.com/cuemby/whip/pkg/config"
	"github.com/cuemby/whip/pkg/existence"
	"github.com/cuemby/whip/pkg/metrics"
	"github.com/cuemby/whip/pkg/vfs"
	"github.com/rs/zerolog"
)

// RetryInterval is how long the pull worker waits after a connection
// loss before reconnecting to the master.
const RetryInterval = 10 * time.Second

// Puller is the slave-role worker: it sweeps shard prefixes against a
// configured master, fetching any asset present there and missing
// locally.
type Puller struct {
	cfg       *config.Config
	existence *existence.Index
	backend   *vfs.Backend
	logger    zerolog.Logger
}

// NewPuller builds a pull-replication worker.
func NewPuller(cfg *config.Config, idx *existence.Index, backend *vfs.Backend, logger zerolog.Logger) *Puller {
	return &Puller{cfg: cfg, existence: idx, backend: backend, logger: logger}
}

// Run drives the IDLIST -> RETRIEVE -> WAIT loop until stop is closed.
// It is a no-op for the lifetime of the process if replication_master
// is never set.
func (p *Puller) Run(stop <-chan struct{}) {
	for {
		master := p.cfg.ReplicationMaster()
		if master == "" {
			if !sleepOrStop(stop, RetryInterval) {
				return
			}
			continue
		}
		if !p.sweepAll(master, stop) {
			return
		}
		wait := time.Duration(p.cfg.PullReplicationFrequency()) * time.Minute
		if !sleepOrStop(stop, wait) {
			return
		}
	}
}

func sleepOrStop(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}

// sweepAll walks shard prefixes start..4095 then 0..start-1, pulling
// any asset present on master but absent locally. Returns false if
// stop fired mid-sweep.
func (p *Puller) sweepAll(masterAddr string, stop <-chan struct{}) bool {
	c, err := dial(masterAddr, p.cfg.Password())
	if err != nil {
		p.logger.Warn().Err(err).Str("master", masterAddr).Msg("pull replication connect failed")
		return sleepOrStop(stop, RetryInterval)
	}
	defer c.close()

	start := p.cfg.PullReplicationStartAt()
	batch := p.cfg.PullReplicationBatchSize()
	if batch < 1 {
		batch = 1
	}

	for i := 0; i < vfs.ShardPrefixCount; i++ {
		select {
		case <-stop:
			return false
		default:
		}

		prefix := vfs.ShardPrefix((start + i) % vfs.ShardPrefixCount)
		if p.cfg.ReplicationMaster() != masterAddr {
			return true // master changed at config reload; reconnect on the outer loop
		}

		if err := p.pullShard(c, prefix, batch); err != nil {
			p.logger.Warn().Err(err).Str("shard", prefix).Msg("pull replication shard sweep failed")
			return true // reconnect and resume on the next sweepAll call
		}
	}
	return true
}

func (p *Puller) pullShard(c *client, prefix string, batch int) error {
	csv, err := c.storedIDs(prefix)
	if err != nil {
		return err
	}
	if csv == "" {
		return nil
	}

	sem := make(chan struct{}, batch)
	var wg sync.WaitGroup
	for _, id := range strings.Split(csv, ",") {
		if p.existence.Contains(id) {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			a, err := c.getNoCache(id)
			if err != nil {
				p.logger.Debug().Err(err).Str("asset", id).Msg("pull replication asset fetch failed")
				return // non-fatal, keep sweeping
			}
			if err := p.backend.Put(a); err != nil {
				p.logger.Debug().Err(err).Str("asset", id).Msg("pull replication local store failed")
				return
			}
			metrics.ReplicationPulledTotal.Inc()
		}(id)
	}
	wg.Wait()
	return nil
}
