// Package counterstore builds the Redis client that backs rate limiting,
// passkey challenges and TOTP replay protection.
//
// One address gives a single-node client, a master name gives a sentinel
// failover client, and several addresses (or Cluster) give a cluster
// client. FlushAll knows how to reach every master of a cluster and exists
// for tests and local resets only.
package counterstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNoAddress   = errors.New("counter store address is required")
	ErrUnavailable = errors.New("counter store unavailable")
)

// Config is parsed from the environment by internal/config with the REDIS_
// prefix.
type Config struct {
	Addrs        []string      `env:"ADDRS" envSeparator:"," envDefault:"localhost:6379"`
	MasterName   string        `env:"MASTER_NAME"`
	Username     string        `env:"USERNAME"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB" envDefault:"0"`
	Cluster      bool          `env:"CLUSTER" envDefault:"false"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"0"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

// New returns a client for cfg. It does not dial; call Ping to check
// reachability.
func New(cfg Config) (redis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, ErrNoAddress
	}

	if cfg.Cluster && cfg.MasterName == "" {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}), nil
	}

	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}), nil
}

// Ping checks that the store answers.
func Ping(ctx context.Context, client redis.UniversalClient) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// FlushAll removes every key. On a cluster client every master is flushed.
func FlushAll(ctx context.Context, client redis.UniversalClient) error {
	var err error
	switch c := client.(type) {
	case *redis.ClusterClient:
		err = c.ForEachMaster(ctx, func(ctx context.Context, master *redis.Client) error {
			return master.FlushAll(ctx).Err()
		})
	default:
		err = client.FlushAll(ctx).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
