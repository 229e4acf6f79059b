// Package cache keeps per-project filter criteria in redis so several
// clients of the same user share them.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Joseda-hg/tasksync/internal/model"
)

type CriteriaStore struct {
	client *redis.Client
	prefix string
	log    *logrus.Entry
}

// NewRedisClient connects to a single redis node and pings it.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg.DefaultConfig()
	r := redis.NewClient(&redis.Options{
		Addr:         cfg.Host,
		Password:     cfg.Password,
		DB:           cfg.Db,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  time.Second * time.Duration(cfg.DialTimeout),
		ReadTimeout:  time.Second * time.Duration(cfg.ReadTimeout),
		WriteTimeout: time.Second * time.Duration(cfg.WriteTimeout),
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := r.Ping(ctx).Result(); err != nil {
		_ = r.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", cfg.Host)
	}
	return r, nil
}

func NewCriteriaStore(client *redis.Client, prefix string, logger *logrus.Entry) *CriteriaStore {
	if prefix == "" {
		prefix = "tasksync"
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CriteriaStore{client: client, prefix: prefix, log: logger.WithField("component", "cache")}
}

func (s *CriteriaStore) key(projectID int64) string {
	return fmt.Sprintf("%s:filter:%d", s.prefix, projectID)
}

func (s *CriteriaStore) LoadCriteria(ctx context.Context, projectID int64) (model.FilterCriteria, error) {
	payload, err := s.client.Get(ctx, s.key(projectID)).Bytes()
	if err == redis.Nil {
		return model.FilterCriteria{}, nil
	}
	if err != nil {
		return model.FilterCriteria{}, errors.Wrap(err, "redis get criteria")
	}

	var criteria model.FilterCriteria
	if err := json.Unmarshal(payload, &criteria); err != nil {
		s.log.WithError(err).WithField("scope", projectID).Warn("discarding unreadable criteria")
		return model.FilterCriteria{}, errors.Wrap(err, "parse criteria")
	}
	return criteria, nil
}

func (s *CriteriaStore) SaveCriteria(ctx context.Context, projectID int64, criteria model.FilterCriteria) error {
	if criteria.IsEmpty() {
		return errors.Wrap(s.client.Del(ctx, s.key(projectID)).Err(), "redis del criteria")
	}

	payload, err := json.Marshal(criteria)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(s.client.Set(ctx, s.key(projectID), payload, 0).Err(), "redis set criteria")
}

func (s *CriteriaStore) Close() error {
	return s.client.Close()
}
