package storage

import (
	"fmt"

	r "github.com/redis/go-redis/v9"
)

// Open builds the one Storage implementation the process will use. The
// choice is made here, at startup, and injected everywhere; no code path
// re-checks the backend per call.
func Open(backend, redisAddr, redisPassword string) (Storage, error) {
	switch backend {
	case "redis", "":
		rdb := r.NewClient(&r.Options{Addr: redisAddr, Password: redisPassword})
		return NewRedis(rdb), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
