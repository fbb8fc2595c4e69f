package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"settlement-engine/internal/core/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Items live in one hash keyed by id; queues, processing sublists and retry
// sets only hold ids, so every move is an O(1) or O(log n) id operation.
// All keys share a hash tag so the scripts stay valid on a cluster.
//
// Processing sublists are scored by a monotonic pop sequence, which keeps
// recovered items in pop order. Each processing id also has a claim key
// owned by the popping executor; an id is stalled only once its claim expired.

var enqueueScript = goredis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing and redis.call('HEXISTS', KEYS[2], existing) == 1 then
  return {0, existing}
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('RPUSH', KEYS[3], ARGV[1])
return {1, ARGV[1]}
`)

var popBatchScript = goredis.NewScript(`
local out = {}
for i = 1, tonumber(ARGV[1]) do
  local id = redis.call('LPOP', KEYS[1])
  if not id then break end
  local body = redis.call('HGET', KEYS[3], id)
  if body then
    local seq = redis.call('INCR', KEYS[4])
    redis.call('ZADD', KEYS[2], seq, id)
    redis.call('SET', ARGV[2] .. id, ARGV[3], 'PX', ARGV[4])
    table.insert(out, body)
  end
end
return out
`)

var extendClaimsScript = goredis.NewScript(`
local n = 0
for i = 4, #ARGV do
  local key = ARGV[1] .. ARGV[i]
  if redis.call('GET', key) == ARGV[2] then
    redis.call('PEXPIRE', key, ARGV[3])
    n = n + 1
  end
end
return n
`)

var finishScript = goredis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[4])
if redis.call('GET', KEYS[3]) == ARGV[1] then
  redis.call('DEL', KEYS[3])
end
return 1
`)

var scheduleRetryScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('DEL', KEYS[5])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
local cur = redis.call('GET', KEYS[4])
if not cur then
  redis.call('SET', KEYS[4], ARGV[1], 'PX', ARGV[4])
elseif cur == ARGV[1] then
  redis.call('PEXPIRE', KEYS[4], ARGV[4])
end
return 1
`)

var promoteDueScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)

var requeueStalledScript = goredis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
  if redis.call('EXISTS', ARGV[1] .. id) == 0 then
    redis.call('ZREM', KEYS[1], id)
    redis.call('RPUSH', KEYS[2], id)
    n = n + 1
  end
end
return n
`)

var releaseLeaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var renewLeaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// QueueStore implements ports.QueueStore on Redis.
type QueueStore struct {
	client *goredis.Client
	prefix string
}

// NewQueueStore creates a queue store whose keys start with {prefix}.
func NewQueueStore(client *goredis.Client, prefix string) *QueueStore {
	if prefix == "" {
		prefix = "settle"
	}
	return &QueueStore{client: client, prefix: "{" + prefix + "}"}
}

func (s *QueueStore) itemsKey() string                       { return s.prefix + ":items" }
func (s *QueueStore) queueKey(p domain.Priority) string      { return s.prefix + ":queue:" + string(p) }
func (s *QueueStore) processingKey(p domain.Priority) string { return s.prefix + ":processing:" + string(p) }
func (s *QueueStore) retryKey(p domain.Priority) string      { return s.prefix + ":retry:" + string(p) }
func (s *QueueStore) leaseKey(p domain.Priority) string      { return s.prefix + ":lease:" + string(p) }
func (s *QueueStore) seqKey(p domain.Priority) string        { return s.prefix + ":seq:" + string(p) }
func (s *QueueStore) claimPrefix(p domain.Priority) string   { return s.prefix + ":claim:" + string(p) + ":" }
func (s *QueueStore) dedupKey(escrowID uuid.UUID) string     { return s.prefix + ":dedup:" + escrowID.String() }

func (s *QueueStore) claimKey(item *domain.QueuedTransaction) string {
	return s.claimPrefix(item.Priority) + item.ID.String()
}

// Enqueue admits item unless its escrow already has an active item.
func (s *QueueStore) Enqueue(ctx context.Context, item *domain.QueuedTransaction, dedupTTL time.Duration) (uuid.UUID, bool, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("marshal queue item: %w", err)
	}

	res, err := enqueueScript.Run(ctx, s.client,
		[]string{s.dedupKey(item.EscrowID), s.itemsKey(), s.queueKey(item.Priority)},
		item.ID.String(), body, dedupTTL.Milliseconds(),
	).Slice()
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis enqueue: %w", err)
	}
	if len(res) != 2 {
		return uuid.Nil, false, fmt.Errorf("redis enqueue: unexpected reply %v", res)
	}

	created, _ := res[0].(int64)
	idStr, _ := res[1].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis enqueue: bad item id %q: %w", idStr, err)
	}
	return id, created == 1, nil
}

// Get loads an item from the arena. It returns (nil, nil) when absent.
func (s *QueueStore) Get(ctx context.Context, id uuid.UUID) (*domain.QueuedTransaction, error) {
	body, err := s.client.HGet(ctx, s.itemsKey(), id.String()).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get item: %w", err)
	}
	return decodeItem(body)
}

// ActiveFor returns the item currently holding the escrow's dedup entry.
func (s *QueueStore) ActiveFor(ctx context.Context, escrowID uuid.UUID) (uuid.UUID, bool, error) {
	idStr, err := s.client.Get(ctx, s.dedupKey(escrowID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("redis dedup lookup: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis dedup lookup: bad item id %q: %w", idStr, err)
	}
	return id, true, nil
}

// AcquireLease takes the priority's lease with SET NX PX and a random token.
func (s *QueueStore) AcquireLease(ctx context.Context, p domain.Priority, ttl time.Duration) (string, bool, error) {
	token, err := newLeaseToken()
	if err != nil {
		return "", false, err
	}
	result, err := s.client.SetArgs(ctx, s.leaseKey(p), token, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis acquire lease: %w", err)
	}
	return token, result == "OK", nil
}

// RenewLease extends the lease if token still holds it.
func (s *QueueStore) RenewLease(ctx context.Context, p domain.Priority, token string, ttl time.Duration) (bool, error) {
	n, err := renewLeaseScript.Run(ctx, s.client, []string{s.leaseKey(p)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis renew lease: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease deletes the lease only if token still holds it.
func (s *QueueStore) ReleaseLease(ctx context.Context, p domain.Priority, token string) error {
	if err := releaseLeaseScript.Run(ctx, s.client, []string{s.leaseKey(p)}, token).Err(); err != nil {
		return fmt.Errorf("redis release lease: %w", err)
	}
	return nil
}

// PopBatch moves up to n ids from the queue head into processing, claims each
// for owner until claimTTL and returns their items.
func (s *QueueStore) PopBatch(ctx context.Context, p domain.Priority, n int, owner string, claimTTL time.Duration) ([]*domain.QueuedTransaction, error) {
	bodies, err := popBatchScript.Run(ctx, s.client,
		[]string{s.queueKey(p), s.processingKey(p), s.itemsKey(), s.seqKey(p)},
		n, s.claimPrefix(p), owner, claimTTL.Milliseconds(),
	).StringSlice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis pop batch: %w", err)
	}

	items := make([]*domain.QueuedTransaction, 0, len(bodies))
	for _, b := range bodies {
		item, err := decodeItem([]byte(b))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// ExtendClaims pushes the claim deadline of ids still owned by owner to ttl
// from now. It returns how many claims were extended.
func (s *QueueStore) ExtendClaims(ctx context.Context, p domain.Priority, owner string, ttl time.Duration, ids ...uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+3)
	args = append(args, s.claimPrefix(p), owner, ttl.Milliseconds())
	for _, id := range ids {
		args = append(args, id.String())
	}
	n, err := extendClaimsScript.Run(ctx, s.client, []string{s.processingKey(p)}, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("redis extend claims: %w", err)
	}
	return n, nil
}

// Finish removes a terminal item and releases its escrow's dedup entry.
func (s *QueueStore) Finish(ctx context.Context, item *domain.QueuedTransaction) error {
	err := finishScript.Run(ctx, s.client,
		[]string{s.processingKey(item.Priority), s.itemsKey(), s.dedupKey(item.EscrowID), s.claimKey(item)},
		item.ID.String(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis finish item: %w", err)
	}
	return nil
}

// ScheduleRetry persists the updated item and parks it in the retry set until due.
// The dedup entry is kept alive past due so the escrow cannot be admitted twice
// while it waits.
func (s *QueueStore) ScheduleRetry(ctx context.Context, item *domain.QueuedTransaction, due time.Time, dedupTTL time.Duration) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	ttl := time.Until(due) + dedupTTL
	if ttl < dedupTTL {
		ttl = dedupTTL
	}

	n, err := scheduleRetryScript.Run(ctx, s.client,
		[]string{s.processingKey(item.Priority), s.retryKey(item.Priority), s.itemsKey(), s.dedupKey(item.EscrowID), s.claimKey(item)},
		item.ID.String(), body, due.UnixMilli(), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis schedule retry: %w", err)
	}
	if n == 0 {
		return domain.ErrNotProcessing
	}
	return nil
}

// PromoteDue moves due retry items to the tail of their queue.
func (s *QueueStore) PromoteDue(ctx context.Context, p domain.Priority, now time.Time, limit int) (int, error) {
	n, err := promoteDueScript.Run(ctx, s.client,
		[]string{s.retryKey(p), s.queueKey(p)},
		now.UnixMilli(), limit,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis promote due: %w", err)
	}
	return n, nil
}

// RequeueStalled returns processing items whose claim expired to the queue
// tail, in pop order. Claimed items stay put even when the lease is gone.
func (s *QueueStore) RequeueStalled(ctx context.Context, p domain.Priority) (int, error) {
	n, err := requeueStalledScript.Run(ctx, s.client,
		[]string{s.processingKey(p), s.queueKey(p)},
		s.claimPrefix(p),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis requeue stalled: %w", err)
	}
	return n, nil
}

// Pending returns the number of ids waiting in the queue.
func (s *QueueStore) Pending(ctx context.Context, p domain.Priority) (int64, error) {
	n, err := s.client.LLen(ctx, s.queueKey(p)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis queue length: %w", err)
	}
	return n, nil
}

// Depth snapshots every priority in one pipeline.
func (s *QueueStore) Depth(ctx context.Context) ([]domain.QueueDepth, error) {
	type counters struct {
		queued, processing, retrying *goredis.IntCmd
	}
	cmds := make([]counters, len(domain.Priorities))

	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, p := range domain.Priorities {
			cmds[i] = counters{
				queued:     pipe.LLen(ctx, s.queueKey(p)),
				processing: pipe.ZCard(ctx, s.processingKey(p)),
				retrying:   pipe.ZCard(ctx, s.retryKey(p)),
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis queue depth: %w", err)
	}

	out := make([]domain.QueueDepth, len(domain.Priorities))
	for i, p := range domain.Priorities {
		out[i] = domain.QueueDepth{
			Priority:   p,
			Queued:     cmds[i].queued.Val(),
			Processing: cmds[i].processing.Val(),
			Retrying:   cmds[i].retrying.Val(),
		}
	}
	return out, nil
}

func decodeItem(body []byte) (*domain.QueuedTransaction, error) {
	var item domain.QueuedTransaction
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("unmarshal queue item: %w", err)
	}
	return &item, nil
}

func newLeaseToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lease token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
