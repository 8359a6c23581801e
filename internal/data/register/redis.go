package register

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	"github.com/yungbote/certsig-backend/internal/observability"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

// The scan and the update run inside one script, which Redis executes
// atomically. Row hashes live under ARGV[1]..serial; KEYS[1] is the ordered
// serial list.
var claimScript = goredis.NewScript(`
local order = redis.call("LRANGE", KEYS[1], 0, -1)
for _, serial in ipairs(order) do
  if serial ~= "" then
    local key = ARGV[1] .. serial
    if redis.call("HGET", key, "used") ~= "yes" then
      redis.call("HSET", key, "issued_date", ARGV[2], "owner_surname", ARGV[3], "user_id", ARGV[4], "used", "yes")
      return serial
    end
  end
end
return false
`)

const maxSeedAttempts = 8

// RedisTable keeps the register in Redis: a list holding allocation order and
// one hash per serial.
type RedisTable struct {
	rdb     goredis.UniversalClient
	log     *logger.Logger
	metrics *observability.Metrics
	prefix  string
}

func NewRedisTable(rdb goredis.UniversalClient, prefix string, log *logger.Logger, metrics *observability.Metrics) *RedisTable {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "certsig:register"
	}
	return &RedisTable{
		rdb:     rdb,
		log:     log.With("repo", "RedisRegister", "prefix", prefix),
		metrics: metrics,
		prefix:  prefix,
	}
}

func (t *RedisTable) Backend() string { return BackendRedis }

func (t *RedisTable) orderKey() string  { return t.prefix + ":order" }
func (t *RedisTable) rowPrefix() string { return t.prefix + ":row:" }

func (t *RedisTable) ClaimNext(ctx context.Context, claim certificate.Claim) (certificate.SerialRecord, error) {
	rec := claim.Apply(certificate.SerialRecord{})
	serial, err := claimScript.Run(
		ctx,
		t.rdb,
		[]string{t.orderKey()},
		t.rowPrefix(),
		rec.IssuedDate,
		rec.OwnerSurname,
		rec.UserID,
	).Text()
	if errors.Is(err, goredis.Nil) {
		return certificate.SerialRecord{}, exhausted()
	}
	if err != nil {
		return certificate.SerialRecord{}, ioError(claimOp, err)
	}
	rec.Serial = serial
	return rec, nil
}

func (t *RedisTable) Records(ctx context.Context) ([]certificate.SerialRecord, error) {
	order, err := t.rdb.LRange(ctx, t.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, ioError("read register", err)
	}
	cmds := make([]*goredis.MapStringStringCmd, len(order))
	_, err = t.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, serial := range order {
			cmds[i] = p.HGetAll(ctx, t.rowPrefix()+serial)
		}
		return nil
	})
	if err != nil {
		return nil, ioError("read register", err)
	}
	out := make([]certificate.SerialRecord, 0, len(order))
	for i, serial := range order {
		h := cmds[i].Val()
		out = append(out, certificate.SerialRecord{
			Serial:       serial,
			IssuedDate:   h["issued_date"],
			OwnerSurname: h["owner_surname"],
			UserID:       h["user_id"],
			Used:         h["used"],
		})
	}
	return out, nil
}

func (t *RedisTable) Stats(ctx context.Context) (certificate.RegisterStats, error) {
	recs, err := t.Records(ctx)
	if err != nil {
		return certificate.RegisterStats{}, err
	}
	return statsOf(recs), nil
}

// Seed appends records under WATCH on the order list, retrying when another
// writer changes the list between read and commit.
func (t *RedisTable) Seed(ctx context.Context, records []certificate.SerialRecord) (int, error) {
	inserted := 0
	seed := func(tx *goredis.Tx) error {
		existing, err := tx.LRange(ctx, t.orderKey(), 0, -1).Result()
		if err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(existing))
		for _, s := range existing {
			seen[s] = struct{}{}
		}
		var fresh []certificate.SerialRecord
		for _, rec := range records {
			if rec.Serial == "" {
				continue
			}
			if _, ok := seen[rec.Serial]; ok {
				continue
			}
			seen[rec.Serial] = struct{}{}
			fresh = append(fresh, rec)
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			for _, rec := range fresh {
				p.HSet(ctx, t.rowPrefix()+rec.Serial,
					"issued_date", rec.IssuedDate,
					"owner_surname", rec.OwnerSurname,
					"user_id", rec.UserID,
					"used", rec.Used,
				)
				p.RPush(ctx, t.orderKey(), rec.Serial)
			}
			return nil
		})
		if err == nil {
			inserted = len(fresh)
		}
		return err
	}
	for attempt := 1; attempt <= maxSeedAttempts; attempt++ {
		err := t.rdb.Watch(ctx, seed, t.orderKey())
		if err == nil {
			return inserted, nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return 0, ioError("seed register", err)
		}
		t.metrics.IncClaimConflict(BackendRedis)
	}
	return 0, ioError("seed register", fmt.Errorf("order list kept changing after %d attempts", maxSeedAttempts))
}
