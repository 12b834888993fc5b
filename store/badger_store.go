package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v2"
	badgeroptions "github.com/dgraph-io/badger/v2/options"
	lru "github.com/hashicorp/golang-lru"

	"nyzoverifier/logs"
	"nyzoverifier/types"
)

// writeOp distinguishes a set from a delete in the write queue, mirroring
// the teacher's db.WriteOp.
type writeOp int

const (
	opSet writeOp = iota
	opDelete
)

// writeTask is one entry on the async write queue, grounded on the
// teacher's db.WriteTask.
type writeTask struct {
	key   []byte
	value []byte
	op    writeOp
}

type flushRequest struct {
	done chan error
}

// BadgerStore is the durable BlockStore, grounded on the teacher's
// db.Manager: an embedded Badger instance fed by a batching write-queue
// goroutine that flushes on size, on a timer, or synchronously on
// demand, with a binary-split retry when a batch trips
// badger.ErrTxnTooBig.
type BadgerStore struct {
	db *badger.DB

	writeQueueChan chan writeTask
	forceFlushChan chan flushRequest
	stopChan       chan struct{}
	wg             sync.WaitGroup

	maxBatchSize  int
	flushInterval time.Duration

	recentBlocks *lru.Cache

	highestHeight uint64
	haveHighest   bool
	highestMu     sync.RWMutex
}

// BadgerStoreConfig carries the tuning knobs Config.Store exposes.
type BadgerStoreConfig struct {
	Dir              string
	ValueLogSize     int64
	WriteQueueSize   int
	BatchMaxBytes    int64
	BatchMaxCount    int
	FlushInterval    time.Duration
	RecentBlockCache int
}

func OpenBadgerStore(cfg BadgerStoreConfig) (*BadgerStore, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.ValueLogSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogSize
	}
	opts.TableLoadingMode = badgeroptions.FileIO
	opts.ValueLogLoadingMode = badgeroptions.FileIO
	opts.NumCompactors = 0

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}

	cacheSize := cfg.RecentBlockCache
	if cacheSize <= 0 {
		cacheSize = 64
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create cache: %w", err)
	}

	queueSize := cfg.WriteQueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	maxBatch := cfg.BatchMaxCount
	if maxBatch <= 0 {
		maxBatch = 128
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 200 * time.Millisecond
	}

	s := &BadgerStore{
		db:             db,
		writeQueueChan: make(chan writeTask, queueSize),
		forceFlushChan: make(chan flushRequest, 1),
		stopChan:       make(chan struct{}),
		maxBatchSize:   maxBatch,
		flushInterval:  flushInterval,
		recentBlocks:   cache,
	}

	if err := s.restoreHighestHeight(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.runWriteQueue()
	return s, nil
}

func (s *BadgerStore) restoreHighestHeight() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyLatestHeight())
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return nil
			}
			s.highestMu.Lock()
			s.highestHeight = binary.BigEndian.Uint64(val)
			s.haveHighest = true
			s.highestMu.Unlock()
			return nil
		})
	})
}

func (s *BadgerStore) Close() error {
	close(s.stopChan)
	s.wg.Wait()
	return s.db.Close()
}

func (s *BadgerStore) enqueue(task writeTask) {
	select {
	case s.writeQueueChan <- task:
	case <-s.stopChan:
	}
}

// forceFlush blocks until every queued write up to this point is durable,
// matching the contract's "durable write ... atomic w.r.t. crash" and the
// consensus loop's synchronous-write suspension point during freeze_block.
func (s *BadgerStore) forceFlush() error {
	req := flushRequest{done: make(chan error, 1)}
	select {
	case s.forceFlushChan <- req:
	case <-s.stopChan:
		return fmt.Errorf("store: write queue stopped")
	}
	return <-req.done
}

func (s *BadgerStore) runWriteQueue() {
	defer s.wg.Done()

	batch := make([]writeTask, 0, s.maxBatchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	drain := func(b []writeTask) []writeTask {
		for {
			select {
			case t := <-s.writeQueueChan:
				b = append(b, t)
			default:
				return b
			}
		}
	}
	flushCurrent := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.flushBatch(batch)
		batch = batch[:0]
		return err
	}

	for {
		select {
		case <-s.stopChan:
			batch = drain(batch)
			err := flushCurrent()
			s.resolvePendingForceFlush(err)
			return

		case task := <-s.writeQueueChan:
			batch = append(batch, task)
			if len(batch) >= s.maxBatchSize {
				if err := flushCurrent(); err != nil {
					logs.Error("store: flush by size failed: %v", err)
				}
			}

		case <-ticker.C:
			batch = drain(batch)
			if err := flushCurrent(); err != nil {
				logs.Error("store: flush by ticker failed: %v", err)
			}

		case req := <-s.forceFlushChan:
			batch = drain(batch)
			err := flushCurrent()
			req.done <- err
			close(req.done)
		}
	}
}

func (s *BadgerStore) resolvePendingForceFlush(err error) {
	for {
		select {
		case req := <-s.forceFlushChan:
			req.done <- err
			close(req.done)
		default:
			return
		}
	}
}

// flushBatch commits the batch to Badger, binary-splitting and retrying
// on badger.ErrTxnTooBig the way the teacher's flushRangeWithSplit does.
func (s *BadgerStore) flushBatch(batch []writeTask) error {
	return s.flushRange(batch, 0, len(batch))
}

func (s *BadgerStore) flushRange(batch []writeTask, start, end int) error {
	type rng struct{ i, j int }
	stack := []rng{{start, end}}
	var firstErr error

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.i >= cur.j {
			continue
		}

		ok, err := s.tryFlush(batch, cur.i, cur.j)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ok {
			continue
		}
		if cur.j-cur.i <= 1 {
			continue
		}
		mid := cur.i + (cur.j-cur.i)/2
		stack = append(stack, rng{mid, cur.j}, rng{cur.i, mid})
	}
	return firstErr
}

func (s *BadgerStore) tryFlush(batch []writeTask, start, end int) (bool, error) {
	if start >= end {
		return true, nil
	}
	sub := batch[start:end]

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, task := range sub {
		var err error
		switch task.op {
		case opSet:
			err = wb.Set(task.key, task.value)
		case opDelete:
			err = wb.Delete(task.key)
		}
		if err != nil {
			if isTxnTooBig(err) {
				if end-start == 1 {
					return true, fmt.Errorf("store: single entry too big: key=%q size=%d", task.key, len(task.value))
				}
				return false, nil
			}
			return true, err
		}
	}

	err := wb.Flush()
	if err == nil {
		return true, nil
	}
	if isTxnTooBig(err) && end-start > 1 {
		return false, nil
	}
	return true, err
}

func isTxnTooBig(err error) bool {
	return errors.Is(err, badger.ErrTxnTooBig) || strings.Contains(err.Error(), "Txn is too big")
}

func (s *BadgerStore) PutBlock(block *types.Block) error {
	s.enqueue(writeTask{key: keyBlock(block.Height), value: block.Encode(), op: opSet})

	heightBuf := make([]byte, 8)
	s.highestMu.Lock()
	if !s.haveHighest || block.Height > s.highestHeight {
		s.highestHeight = block.Height
		s.haveHighest = true
	}
	binary.BigEndian.PutUint64(heightBuf, s.highestHeight)
	s.highestMu.Unlock()
	s.enqueue(writeTask{key: keyLatestHeight(), value: heightBuf, op: opSet})

	if err := s.forceFlush(); err != nil {
		return err
	}
	cp := *block
	s.recentBlocks.Add(block.Height, &cp)
	return nil
}

func (s *BadgerStore) GetBlock(height uint64) (*types.Block, bool, error) {
	if v, ok := s.recentBlocks.Get(height); ok {
		cp := *v.(*types.Block)
		return &cp, true, nil
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyBlock(height))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	block, err := types.DecodeBlock(raw)
	if err != nil {
		return nil, false, err
	}
	s.recentBlocks.Add(height, block)
	return block, true, nil
}

func (s *BadgerStore) PutSnapshot(snapshot *types.BalanceSnapshot) error {
	s.enqueue(writeTask{key: keySnapshot(snapshot.BlockHeight), value: snapshot.Encode(), op: opSet})
	return s.forceFlush()
}

func (s *BadgerStore) GetSnapshot(height uint64) (*types.BalanceSnapshot, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keySnapshot(height))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	snapshot, err := types.DecodeBalanceSnapshot(raw)
	if err != nil {
		return nil, false, err
	}
	return snapshot, true, nil
}

func (s *BadgerStore) HighestHeight() (uint64, bool, error) {
	s.highestMu.RLock()
	defer s.highestMu.RUnlock()
	return s.highestHeight, s.haveHighest, nil
}

func (s *BadgerStore) GenesisStartTimestamp() (types.Timestamp, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyGenesisStartTimestamp())
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	if raw == nil || len(raw) != 8 {
		return 0, false, nil
	}
	return types.Timestamp(int64(binary.BigEndian.Uint64(raw))), true, nil
}

func (s *BadgerStore) SetGenesisStartTimestamp(ts types.Timestamp) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ts))
	s.enqueue(writeTask{key: keyGenesisStartTimestamp(), value: buf, op: opSet})
	return s.forceFlush()
}
