package rowstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	logx "deadlinebot/pkg/logx"

	"github.com/redis/rueidis"
)

// A deleted element is overwritten with the tombstone and then removed, so
// the index lookup and the removal happen in one script call.
const redisTombstone = "\x00deleted"

var deleteAtScript = rueidis.NewLuaScript(`
local v = redis.call('LINDEX', KEYS[1], ARGV[1])
if not v then return 0 end
redis.call('LSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('LREM', KEYS[1], 1, ARGV[2])
return 1
`)

// redisStore keeps each table in a list of JSON-encoded rows.
type redisStore struct {
	client rueidis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, err
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "deadlinebot:table:"
	}
	return &redisStore{client: client, prefix: prefix, log: log}, nil
}

func (s *redisStore) key(name string) string { return s.prefix + name }

func (s *redisStore) ReadTable(ctx context.Context, name string) ([][]string, error) {
	vals, err := s.client.Do(ctx, s.client.B().Lrange().Key(s.key(name)).Start(0).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, classifyRedis(err)
	}
	out := make([][]string, 0, len(vals))
	for _, v := range vals {
		var cells []string
		if err := json.Unmarshal([]byte(v), &cells); err != nil {
			s.log.Warn("redis row decode failed", logx.String("table", name), logx.Err(err))
			cells = []string{}
		}
		out = append(out, cells)
	}
	return out, nil
}

func (s *redisStore) AppendRow(ctx context.Context, name string, row []string) error {
	if row == nil {
		row = []string{}
	}
	b, err := json.Marshal(row)
	if err != nil {
		return err
	}
	err = s.client.Do(ctx, s.client.B().Rpush().Key(s.key(name)).Element(string(b)).Build()).Error()
	return classifyRedis(err)
}

func (s *redisStore) DeleteRow(ctx context.Context, name string, index int) error {
	if index < 0 {
		return ErrRowOutOfRange
	}
	n, err := deleteAtScript.Exec(ctx, s.client, []string{s.key(name)}, []string{strconv.Itoa(index), redisTombstone}).AsInt64()
	if err != nil {
		return classifyRedis(err)
	}
	if n == 0 {
		return ErrRowOutOfRange
	}
	return nil
}

func (s *redisStore) Close() error {
	s.client.Close()
	return nil
}

// classifyRedis treats everything except a server reply error as a
// connection problem worth retrying.
func classifyRedis(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := rueidis.IsRedisErr(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return Transient(err)
}
