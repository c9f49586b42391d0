package redis

import (
	"context"
	"fmt"

	"github.com/pscheid92/pollpulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	scriptCacheMiss  = -2
	scriptOutOfRange = -1
)

// incrementScript bumps one choice and the total of a cached counts hash.
// It never creates fields: an absent hash or an unknown choice field leaves
// the record untouched and is reported with a negative status code.
// KEYS: [1]=counts key  ARGV: [1]=choice field
var incrementScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -2
end
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
  return -1
end
redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
redis.call('HINCRBY', KEYS[1], 'total', 1)
return redis.call('HGETALL', KEYS[1])
`)

func runIncrement(ctx context.Context, rdb goredis.Scripter, key, field string) (domain.Counts, error) {
	result, err := incrementScript.Run(ctx, rdb, []string{key}, field).Result()
	if err != nil {
		return nil, fmt.Errorf("increment script failed: %w", err)
	}

	switch v := result.(type) {
	case int64:
		switch v {
		case scriptCacheMiss:
			return nil, domain.ErrCacheMiss
		case scriptOutOfRange:
			return nil, domain.ErrChoiceOutOfRange
		}
		return nil, fmt.Errorf("unexpected increment status %d", v)
	case []any:
		return parseFlatHash(v)
	default:
		return nil, fmt.Errorf("unexpected increment reply %T", result)
	}
}

// parseFlatHash converts an HGETALL reply returned from Lua
// (field, value, field, value, ...) into Counts.
func parseFlatHash(reply []any) (domain.Counts, error) {
	if len(reply)%2 != 0 {
		return nil, fmt.Errorf("odd hash reply length %d", len(reply))
	}
	fields := make(map[string]string, len(reply)/2)
	for i := 0; i < len(reply); i += 2 {
		field, ok1 := reply[i].(string)
		value, ok2 := reply[i+1].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("unexpected hash reply element types %T/%T", reply[i], reply[i+1])
		}
		fields[field] = value
	}
	return domain.ParseCounts(fields)
}
