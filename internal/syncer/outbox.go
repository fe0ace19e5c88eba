package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pot-code/course-playback/internal/infrastructure/driver"
)

// Outbox durable mirror of the queue, survives session restarts.
// Items are upserted by Seq and removed only once acknowledged or dropped.
// Engines sharing an outbox draw their Seq from it so they never collide.
type Outbox interface {
	// NextSeq allocate a sequence number unique within the outbox
	NextSeq(ctx context.Context) (uint64, error)
	Put(ctx context.Context, items ...*Item) error
	Remove(ctx context.Context, seqs ...uint64) error
	// Load all items ordered by Seq
	Load(ctx context.Context) ([]*Item, error)
}

// MemoryOutbox process local outbox
type MemoryOutbox struct {
	mu    sync.Mutex
	seq   uint64
	items map[uint64]*Item
}

var _ Outbox = &MemoryOutbox{}

// NewMemoryOutbox create an empty MemoryOutbox
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{items: make(map[uint64]*Item)}
}

// NextSeq implement Outbox
func (mo *MemoryOutbox) NextSeq(ctx context.Context) (uint64, error) {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	mo.seq++
	return mo.seq, nil
}

// Put implement Outbox
func (mo *MemoryOutbox) Put(ctx context.Context, items ...*Item) error {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	for _, it := range items {
		mo.items[it.Seq] = it.clone()
	}
	return nil
}

// Remove implement Outbox
func (mo *MemoryOutbox) Remove(ctx context.Context, seqs ...uint64) error {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	for _, seq := range seqs {
		delete(mo.items, seq)
	}
	return nil
}

// Load implement Outbox
func (mo *MemoryOutbox) Load(ctx context.Context) ([]*Item, error) {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	out := make([]*Item, 0, len(mo.items))
	for _, it := range mo.items {
		out = append(out, it.clone())
	}
	sortItems(out)
	return out, nil
}

// seqField hash field holding the sequence counter
const seqField = "seq"

// RedisOutbox outbox stored in a redis hash, field is the item Seq
type RedisOutbox struct {
	kv  driver.HashDB
	key string
	ttl time.Duration
}

var _ Outbox = &RedisOutbox{}

// NewRedisOutbox create an outbox under key, refreshed to live ttl after every write
func NewRedisOutbox(kv driver.HashDB, key string, ttl time.Duration) *RedisOutbox {
	return &RedisOutbox{kv: kv, key: key, ttl: ttl}
}

// NextSeq implement Outbox, HINCRBY on the counter field of the hash
func (ro *RedisOutbox) NextSeq(ctx context.Context) (uint64, error) {
	n, err := ro.kv.HIncrBy(ro.key, seqField, 1)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// Put implement Outbox
func (ro *RedisOutbox) Put(ctx context.Context, items ...*Item) error {
	for _, it := range items {
		raw, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode outbox item %d: %w", it.Seq, err)
		}
		if err := ro.kv.HSet(ro.key, strconv.FormatUint(it.Seq, 10), string(raw)); err != nil {
			return err
		}
	}
	if ro.ttl > 0 && len(items) > 0 {
		return ro.kv.Expire(ro.key, ro.ttl)
	}
	return nil
}

// Remove implement Outbox
func (ro *RedisOutbox) Remove(ctx context.Context, seqs ...uint64) error {
	fields := make([]string, len(seqs))
	for i, seq := range seqs {
		fields[i] = strconv.FormatUint(seq, 10)
	}
	return ro.kv.HDel(ro.key, fields...)
}

// Load implement Outbox
func (ro *RedisOutbox) Load(ctx context.Context) ([]*Item, error) {
	all, err := ro.kv.HGetAll(ro.key)
	if err != nil {
		return nil, err
	}
	out := make([]*Item, 0, len(all))
	for field, raw := range all {
		if field == seqField {
			continue
		}
		it := new(Item)
		if err := json.Unmarshal([]byte(raw), it); err != nil {
			return nil, fmt.Errorf("decode outbox item %s: %w", field, err)
		}
		out = append(out, it)
	}
	sortItems(out)
	return out, nil
}

func sortItems(items []*Item) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Seq < items[j].Seq
	})
}
