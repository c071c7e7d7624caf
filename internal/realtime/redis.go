package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func NewRedis(o RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

const BroadcastChannel = "notifications:broadcast"

// Channel is the pub/sub channel an event is published on.
func Channel(e Event) string {
	if e.Broadcast() {
		return BroadcastChannel
	}
	return "notifications:" + *e.TargetUserID
}

// Publisher is the part of the redis client the sink uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type RedisSink struct {
	rdb Publisher
}

func NewRedisSink(rdb Publisher) *RedisSink { return &RedisSink{rdb: rdb} }

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, Channel(e), b).Err()
}
