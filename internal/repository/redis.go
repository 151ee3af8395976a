package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"emperror.dev/errors"
	"github.com/go-redis/redis/v8"

	"github.com/lvdashuaibi/pollbox/config"
	"github.com/lvdashuaibi/pollbox/internal/model"
)

const (
	// Redis key prefixes
	ResultsKey = "polls:results:"
)

// NewRedisClient connects to the data node and checks it answers.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.DataAddress,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.WrapIf(err, "redis data node ping failed")
	}

	return client, nil
}

// RedisRepository caches tallied results as JSON with a TTL.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl}
}

func resultsKey(questionID int64) string {
	return ResultsKey + strconv.FormatInt(questionID, 10)
}

// GetResults reports a miss with ok == false and a nil error.
func (r *RedisRepository) GetResults(ctx context.Context, questionID int64) (*model.QuestionResults, bool, error) {
	data, err := r.client.Get(ctx, resultsKey(questionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, errors.WrapIf(err, "failed to read cached results")
	}

	var results model.QuestionResults
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false, errors.WrapIf(err, "failed to decode cached results")
	}

	return &results, true, nil
}

func (r *RedisRepository) SetResults(ctx context.Context, results *model.QuestionResults) error {
	data, err := json.Marshal(results)
	if err != nil {
		return errors.WrapIf(err, "failed to encode results")
	}

	if err := r.client.Set(ctx, resultsKey(results.Question.ID), data, r.ttl).Err(); err != nil {
		return errors.WrapIf(err, "failed to cache results")
	}

	return nil
}

func (r *RedisRepository) DeleteResults(ctx context.Context, questionID int64) error {
	if err := r.client.Del(ctx, resultsKey(questionID)).Err(); err != nil {
		return errors.WrapIf(err, "failed to invalidate cached results")
	}
	return nil
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}
