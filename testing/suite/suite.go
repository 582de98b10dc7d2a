package suite

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
)

const (
	containerTTL = 120
	startTimeout = 120 * time.Second
)

const (
	redisPort  = "6379/tcp"
	redisImage = "redis"
	redisTag   = "alpine"
)

// Suite - a Redis server in a throwaway container, shared by one test and its streams.
type Suite struct {
	*testing.T
	Logger *slog.Logger

	Storage *redis.Client

	ctx context.Context
}

// New - starts a disposable Redis container. Skipped with -short or when Docker is unreachable.
func New(t *testing.T) (context.Context, *Suite) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	t.Cleanup(cancel)

	client := startRedis(ctx, t)

	return ctx, &Suite{
		T:       t,
		Logger:  slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Storage: client,
		ctx:     ctx,
	}
}

// StreamKey - claims key for a log stream. The stream must not exist yet and is deleted when the test ends.
func (that *Suite) StreamKey(key string) string {
	that.Helper()

	exists, err := that.Storage.Exists(that.ctx, key).Result()
	if err != nil {
		that.Fatalf("could not check stream %s: %v", key, err)
	}

	if exists != 0 {
		that.Fatalf("stream %s is already in use", key)
	}

	that.Cleanup(func() {
		_ = that.Storage.Del(context.Background(), key).Err()
	})

	return key
}

// StreamLen - number of entries in the stream at key, zero when it does not exist.
func (that *Suite) StreamLen(key string) int64 {
	that.Helper()

	length, err := that.Storage.XLen(that.ctx, key).Result()
	if err != nil {
		that.Fatalf("could not read length of %s: %v", key, err)
	}

	return length
}

// AddRaw - appends fields to the stream at key without going through any encoder.
func (that *Suite) AddRaw(key string, fields map[string]string) string {
	that.Helper()

	values := make(map[string]any, len(fields))
	for field, value := range fields {
		values[field] = value
	}

	id, err := that.Storage.XAdd(that.ctx, &redis.XAddArgs{Stream: key, Values: values}).Result()
	if err != nil {
		that.Fatalf("could not append to %s: %v", key, err)
	}

	return id
}

func startRedis(ctx context.Context, t *testing.T) *redis.Client {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("could not construct docker pool: %v", err)
	}

	if err = pool.Client.Ping(); err != nil {
		t.Skipf("could not connect to docker: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: redisImage,
		Tag:        redisTag,
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start redis: %v", err)
	}

	// docker kills the container after containerTTL seconds even if cleanup never runs
	_ = resource.Expire(containerTTL)

	pool.MaxWait = startTimeout

	client := redis.NewClient(&redis.Options{Addr: resource.GetHostPort(redisPort)})

	if err = pool.Retry(func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = client.Close()

		if purgeErr := pool.Purge(resource); purgeErr != nil {
			t.Fatalf("could not purge redis: %v", purgeErr)
		}

		t.Fatalf("could not connect to redis: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()

		if err := pool.Purge(resource); err != nil {
			t.Errorf("could not purge redis: %v", err)
		}
	})

	return client
}
