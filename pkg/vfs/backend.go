package vfs

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/whip/pkg/asset"
	"github.com/cuemby/whip/pkg/existence"
	"github.com/cuemby/whip/pkg/metrics"
	"github.com/rs/zerolog"
)

// requestKind enumerates the disk worker's request queue entries,
// named after the original request hierarchy (GET, PUT, PURGE, ...).
type requestKind int

const (
	reqGet requestKind = iota
	reqPut
	reqPurge
	reqPurgeLocals
	reqDeleteLocalStorage
	reqStatus
	reqStoredIDs
)

// request is one FIFO queue entry. reply is always buffered(1) so the
// worker never blocks handing back a result.
type request struct {
	kind      requestKind
	uuid      string
	asset     *asset.Asset
	prefix    string
	noCache   bool
	submitted time.Time
	reply     chan reply
}

type reply struct {
	asset *asset.Asset
	found bool
	ids   []string
	text  string
	err   error
}

// Backend is the single-worker disk engine for one storage root. It
// owns the existence index, the index-file pool, and the FIFO request
// queue; a single goroutine drains the queue so all disk I/O for this
// root is strictly serialized, matching the original single-threaded
// disk worker.
type Backend struct {
	root      string
	existence *existence.Index
	pool      *IndexPool
	logger    zerolog.Logger

	queue chan request

	mu          sync.Mutex
	queueWait   movingAverage
	opDuration  movingAverage
	purgeTicker *time.Ticker
	stopCh      chan struct{}
	doneCh      chan struct{}
	purge       purgeSweep

	onStore func(a *asset.Asset) // push-replication hook, set by the wiring layer
}

// purgeSweep tracks an in-progress purge-locals pass: a recurring
// 1-second step through shard prefixes 000..fff, dropping local assets.
type purgeSweep struct {
	active  bool
	current int
}

// New builds a Backend rooted at root. The existence index is
// expected to already be populated by ScanExistenceIndex.
func New(root string, idx *existence.Index, logger zerolog.Logger) (*Backend, error) {
	pool, err := NewIndexPool()
	if err != nil {
		return nil, err
	}
	b := &Backend{
		root:      root,
		existence: idx,
		pool:      pool,
		logger:    logger,
		queue:     make(chan request, 256),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	return b, nil
}

// OnStore registers a callback invoked synchronously after each
// successful PUT, from the worker goroutine, used to feed the push
// replication queue.
func (b *Backend) OnStore(fn func(a *asset.Asset)) {
	b.onStore = fn
}

// Run starts the worker goroutine and the purge-locals ticker. It
// blocks until ctx is canceled, then drains any already-queued
// requests before returning.
func (b *Backend) Run(ctx context.Context) {
	b.purgeTicker = time.NewTicker(time.Second)
	defer b.purgeTicker.Stop()
	defer close(b.doneCh)

	for {
		select {
		case req := <-b.queue:
			b.process(req)
		case <-b.purgeTicker.C:
			if b.purge.active {
				b.stepPurgeSweep()
			}
		case <-b.stopCh:
			b.drain()
			return
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

// drain processes any requests already sitting in the queue, without
// accepting new ones, so in-flight client calls complete on shutdown.
func (b *Backend) drain() {
	for {
		select {
		case req := <-b.queue:
			b.process(req)
		default:
			return
		}
	}
}

// Stop requests a clean shutdown and waits for the worker to exit.
func (b *Backend) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

func (b *Backend) submit(req request) reply {
	req.submitted = time.Now()
	req.reply = make(chan reply, 1)
	b.queue <- req
	metrics.DiskQueueDepth.Set(float64(len(b.queue)))
	return <-req.reply
}

func (b *Backend) process(req request) {
	start := time.Now()
	b.mu.Lock()
	b.queueWait.add(start.Sub(req.submitted))
	b.mu.Unlock()

	var r reply
	switch req.kind {
	case reqGet:
		r = b.doGet(req.uuid, req.noCache)
	case reqPut:
		r = b.doPut(req.asset)
	case reqPurge:
		r = reply{} // no-op, always succeeds
	case reqPurgeLocals:
		r = b.doPurgeLocals()
	case reqDeleteLocalStorage:
		r = b.doDeleteLocalStorage(req.prefix)
	case reqStatus:
		r = b.doStatus()
	case reqStoredIDs:
		r = b.doStoredIDs(req.prefix)
	}

	b.mu.Lock()
	b.opDuration.add(time.Since(start))
	b.mu.Unlock()

	req.reply <- r
}

// Get retrieves an asset by UUID. noCache is informational only here;
// callers (the cache layer) decide whether to insert the result.
func (b *Backend) Get(uuid string, noCache bool) (*asset.Asset, bool, error) {
	r := b.submit(request{kind: reqGet, uuid: uuid, noCache: noCache})
	return r.asset, r.found, r.err
}

// Put stores a new asset, rejecting duplicates.
func (b *Backend) Put(a *asset.Asset) error {
	r := b.submit(request{kind: reqPut, asset: a})
	return r.err
}

// Purge is currently a no-op, per the original protocol contract.
func (b *Backend) Purge(uuid string) error {
	r := b.submit(request{kind: reqPurge, uuid: uuid})
	return r.err
}

// PurgeLocals arms the recurring shard sweep that drops all local assets.
func (b *Backend) PurgeLocals() {
	b.submit(request{kind: reqPurgeLocals})
}

// Status returns the textual status blob for STATUS_GET.
func (b *Backend) Status() (string, error) {
	r := b.submit(request{kind: reqStatus})
	return r.text, r.err
}

// StoredIDs returns the CSV of active asset IDs in the given shard prefix.
func (b *Backend) StoredIDs(prefix string) (string, error) {
	r := b.submit(request{kind: reqStoredIDs, prefix: prefix})
	return r.text, r.err
}

func (b *Backend) doGet(uuid string, noCache bool) reply {
	if !b.existence.Contains(uuid) {
		return reply{found: false}
	}
	set, err := NewDatabaseSet(b.root, uuid)
	if err != nil {
		return reply{err: err}
	}
	for _, l := range []Locality{Globals, Locals} {
		a, found, err := b.readFrom(set, l, uuid)
		if err != nil {
			return reply{err: err}
		}
		if found {
			return reply{asset: a, found: true}
		}
	}
	return reply{found: false}
}

func (b *Backend) readFrom(set *DatabaseSet, l Locality, uuid string) (*asset.Asset, bool, error) {
	idx, err := b.pool.Get(set.IndexPath(l))
	if err != nil {
		return nil, false, err
	}
	row, found, err := idx.Lookup(uuid)
	if err != nil || !found {
		return nil, false, err
	}
	df, err := OpenDataFile(set.DataPath(l))
	if err != nil {
		return nil, false, err
	}
	defer df.Close()
	raw, err := df.ReadAt(row.Position)
	if err != nil {
		return nil, false, err
	}
	a, err := asset.New(raw)
	if err != nil {
		return nil, false, fmt.Errorf("vfs: decode stored asset %s: %w", uuid, err)
	}
	return a, true, nil
}

func (b *Backend) doPut(a *asset.Asset) reply {
	uuid := a.UUID()
	if uint64(a.Size()) > math.MaxUint32 {
		return reply{err: fmt.Errorf("vfs: asset %s: %w", uuid, asset.ErrAssetTooLarge)}
	}
	if !b.existence.Add(uuid) {
		return reply{err: fmt.Errorf("vfs: asset %s already exists", uuid)}
	}

	set, err := NewDatabaseSet(b.root, uuid)
	if err != nil {
		b.existence.Remove(uuid)
		return reply{err: err}
	}

	l := Globals
	if a.Locality() == asset.Local {
		l = Locals
	}

	df, err := OpenDataFile(set.DataPath(l))
	if err != nil {
		b.existence.Remove(uuid)
		return reply{err: err}
	}
	pos, err := df.Append(a.Bytes())
	df.Close()
	if err != nil {
		b.existence.Remove(uuid)
		return reply{err: err}
	}

	idx, err := b.pool.Get(set.IndexPath(l))
	if err != nil {
		b.existence.Remove(uuid)
		return reply{err: err}
	}
	if err := idx.Insert(uuid, pos, a.Type()); err != nil {
		b.existence.Remove(uuid)
		return reply{err: err}
	}

	if b.onStore != nil {
		b.onStore(a)
	}
	return reply{}
}

func (b *Backend) doStatus() reply {
	b.mu.Lock()
	qw := b.queueWait.average()
	od := b.opDuration.average()
	open := b.pool.Len()
	b.mu.Unlock()

	text := fmt.Sprintf(
		"queue_wait_avg_ms=%d op_duration_avg_ms=%d open_index_files=%d existing_assets=%d",
		qw.Milliseconds(), od.Milliseconds(), open, b.existence.Len(),
	)
	return reply{text: text}
}

func (b *Backend) doStoredIDs(prefix string) reply {
	dir := ShardDir(b.root, prefix)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return reply{text: ""}
	}

	var ids []string
	for _, l := range []Locality{Globals, Locals} {
		path := filepath.Join(dir, l.indexFileName())
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		idx, err := b.pool.Get(path)
		if err != nil {
			return reply{err: err}
		}
		got, err := idx.AllActiveIDs()
		if err != nil {
			return reply{err: err}
		}
		ids = append(ids, got...)
	}

	csv := ""
	for i, id := range ids {
		if i > 0 {
			csv += ","
		}
		csv += id
	}
	return reply{text: csv}
}

func (b *Backend) doDeleteLocalStorage(prefix string) reply {
	dir := ShardDir(b.root, prefix)
	indexPath := filepath.Join(dir, Locals.indexFileName())
	dataPath := filepath.Join(dir, Locals.dataFileName())

	b.pool.ForceClose(indexPath)
	_ = os.Remove(indexPath)
	_ = os.Remove(dataPath)
	return reply{}
}

func (b *Backend) doPurgeLocals() reply {
	b.mu.Lock()
	b.purge = purgeSweep{active: true, current: 0}
	b.mu.Unlock()
	b.logger.Info().Msg("purge-locals sweep armed")
	return reply{}
}

// stepPurgeSweep processes one shard prefix per tick: drop its local
// UUIDs from the existence index, then physically remove its local
// storage files. Runs on the worker goroutine, so it never races disk
// requests drained from the normal queue.
func (b *Backend) stepPurgeSweep() {
	prefix := ShardPrefix(b.purge.current)
	dir := ShardDir(b.root, prefix)

	if _, err := os.Stat(dir); err == nil {
		indexPath := filepath.Join(dir, Locals.indexFileName())
		if idx, err := b.pool.Get(indexPath); err == nil {
			if ids, err := idx.AllActiveIDs(); err == nil {
				for _, id := range ids {
					b.existence.Remove(id)
				}
			}
		}
		b.doDeleteLocalStorage(prefix)
	}

	b.purge.current++
	if b.purge.current >= ShardPrefixCount {
		b.purge = purgeSweep{}
		b.logger.Info().Msg("purge-locals sweep complete")
	}
}
