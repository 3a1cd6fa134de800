package counterstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestNewRequiresAddress(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("err = %v, want ErrNoAddress", err)
	}
}

func TestNewPicksClientKind(t *testing.T) {
	single, err := New(Config{Addrs: []string{"localhost:6379"}})
	if err != nil {
		t.Fatalf("New single: %v", err)
	}
	defer single.Close()
	if _, ok := single.(*redis.Client); !ok {
		t.Fatalf("single address gave %T", single)
	}

	cluster, err := New(Config{Addrs: []string{"a:7000", "b:7001"}})
	if err != nil {
		t.Fatalf("New cluster: %v", err)
	}
	defer cluster.Close()
	if _, ok := cluster.(*redis.ClusterClient); !ok {
		t.Fatalf("several addresses gave %T", cluster)
	}

	forced, err := New(Config{Addrs: []string{"a:7000"}, Cluster: true})
	if err != nil {
		t.Fatalf("New forced cluster: %v", err)
	}
	defer forced.Close()
	if _, ok := forced.(*redis.ClusterClient); !ok {
		t.Fatalf("Cluster flag gave %T", forced)
	}
}

func TestPingAndFlushAll(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(Config{Addrs: []string{mr.Addr()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	if err := Ping(ctx, client); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	mr.Set("rl:login:u1", "3")
	mr.Set("th:login:u1:1.2.3.4", "1")
	if err := FlushAll(ctx, client); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("keys left after flush: %v", keys)
	}
}

func TestFlushAllVisitsClusterMasters(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(Config{Addrs: []string{mr.Addr()}, Cluster: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	mr.Set("pkc:abc", "x")
	if err := FlushAll(context.Background(), client); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if mr.Exists("pkc:abc") {
		t.Fatal("cluster flush left key behind")
	}
}

func TestPingFailsWhenDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(Config{Addrs: []string{mr.Addr()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	if err := Ping(context.Background(), client); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if err := FlushAll(context.Background(), client); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
