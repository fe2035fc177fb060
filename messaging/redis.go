package messaging

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

func init() {
	Register("redis", func() Client { return &RedisClient{} })
}

type RedisClient struct {
	redisClient *redis.Client

	channel string
}

func (redisMQ *RedisClient) String() string {
	return "redis"
}

func (redisMQ *RedisClient) Channel() string {
	return redisMQ.channel
}

// Connect takes Address, Channel and the optional Password and DB.
func (redisMQ *RedisClient) Connect(ctx context.Context, _ string, args map[string]string) error {
	address, err := requireEntry("redis", args, "Address")
	if err != nil {
		return err
	}

	redisMQ.channel, err = requireEntry("redis", args, "Channel")
	if err != nil {
		return err
	}

	password, _ := GetEntry(args, "Password")

	var db int

	if dbValue, ok := GetEntry(args, "DB"); ok && dbValue != "" {
		db, err = strconv.Atoi(dbValue)
		if err != nil {
			return fmt.Errorf("redis connect db atoi: %w", err)
		}
	}

	redisMQ.redisClient = redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	err = redisMQ.redisClient.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("redis connect ping: %w", err)
	}

	return nil
}

func (redisMQ *RedisClient) Publish(ctx context.Context, channelName string, data []byte) error {
	return redisMQ.redisClient.Publish(
		ctx,
		redisMQ.channel+"."+channelName,
		data,
	).Err()
}

func (redisMQ *RedisClient) Close() error {
	if redisMQ.redisClient == nil {
		return nil
	}

	err := redisMQ.redisClient.Close()
	redisMQ.redisClient = nil

	return err
}
