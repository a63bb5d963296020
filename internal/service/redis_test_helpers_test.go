package service

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testSessionPrefix = "sess_test"

// newRedisSessionStoreForTest returns a session store on a private
// miniredis instance plus the server for keyspace and clock control.
func newRedisSessionStoreForTest(t *testing.T) (*miniredis.Miniredis, *RedisSessionStore) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, NewRedisSessionStore(client, testSessionPrefix, nil)
}
