package lease

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// снимаем замок, только если значение совпадает с токеном владельца
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisBackend хранит замки в redis: SET NX PX и удаление через Lua-скрипт.
type RedisBackend struct {
	db *redis.Client
}

// NewRedisBackend создаёт бэкенд поверх готового клиента redis.
func NewRedisBackend(db *redis.Client) *RedisBackend {
	return &RedisBackend{db: db}
}

func (r *RedisBackend) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return r.db.SetNX(ctx, key, token, ttl).Result()
}

func (r *RedisBackend) Unlock(ctx context.Context, key, token string) error {
	return unlockScript.Run(ctx, r.db, []string{key}, token).Err()
}
