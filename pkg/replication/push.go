package replication

import (
	"time"

	"github.com/cuemby/whip/pkg/asset"
	"github.com/cuemby/whip/pkg/config"
	"github.com/cuemby/whip/pkg/metrics"
	"github.com/rs/zerolog"
)

// PushQueueLimit is the hard cap on assets awaiting push to the slave.
// Once full, newly stored assets are dropped silently; the slave's own
// pull sweep is expected to catch anything lost this way.
const PushQueueLimit = 250

// Pusher is the master-role worker: it maintains one authenticated
// connection to a configured slave and streams every locally stored
// asset to it. Enqueue is registered as a vfs.Backend.OnStore hook.
type Pusher struct {
	cfg    *config.Config
	logger zerolog.Logger

	queue chan *asset.Asset
}

// NewPusher builds a push-replication worker.
func NewPusher(cfg *config.Config, logger zerolog.Logger) *Pusher {
	return &Pusher{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan *asset.Asset, PushQueueLimit),
	}
}

// Enqueue offers a, dropping it silently if the queue is already full.
func (p *Pusher) Enqueue(a *asset.Asset) {
	select {
	case p.queue <- a:
	default:
		metrics.ReplicationPushDropped.Inc()
		p.logger.Warn().Str("asset", a.UUID()).Msg("push replication queue full, dropping")
	}
}

// Run connects to the configured slave and streams queued assets to it
// until stop is closed. It is a no-op for the lifetime of the process
// if replication_slave is never set. On any wire error it discards the
// connection and reconnects, without requeuing the failed asset (the
// slave's pull sweep will pick it up on its own schedule).
func (p *Pusher) Run(stop <-chan struct{}) {
	for {
		slave := p.cfg.ReplicationSlave()
		if slave == "" {
			if !p.drainUntil(stop, RetryInterval) {
				return
			}
			continue
		}

		c, err := dial(slave, p.cfg.Password())
		if err != nil {
			p.logger.Warn().Err(err).Str("slave", slave).Msg("push replication connect failed")
			if !p.drainUntil(stop, RetryInterval) {
				return
			}
			continue
		}

		if !p.stream(c, slave, stop) {
			c.close()
			return
		}
		c.close()
	}
}

// stream pushes queued assets over c until the slave address changes,
// a wire error occurs, or stop fires. Returns false only when stop fired.
func (p *Pusher) stream(c *client, slaveAddr string, stop <-chan struct{}) bool {
	for {
		select {
		case <-stop:
			return false
		case a := <-p.queue:
			if p.cfg.ReplicationSlave() != slaveAddr {
				return true // slave changed at config reload; reconnect on the outer loop
			}
			if err := c.put(a); err != nil {
				p.logger.Warn().Err(err).Str("asset", a.UUID()).Msg("push replication send failed")
				return true // reconnect; this asset is left for the slave's pull sweep
			}
			metrics.ReplicationPushedTotal.Inc()
		}
	}
}

// drainUntil waits d, bailing out early and returning false if stop
// fires. Queued assets are discarded while disconnected so the queue
// doesn't build up stale backlog across a long outage.
func (p *Pusher) drainUntil(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return true
		case <-stop:
			return false
		case <-p.queue:
		}
	}
}
