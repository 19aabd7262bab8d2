//go:build integration

package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type RedisIDCacheSuite struct {
	suite.Suite
	ctx       context.Context
	container testcontainers.Container
	cache     *RedisIDCache
}

func (s *RedisIDCacheSuite) SetupSuite() {
	s.ctx = context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	container, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(s.ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(s.ctx, "6379")
	s.Require().NoError(err)

	s.cache, err = NewRedisIDCache(fmt.Sprintf("redis://%s:%s", host, port.Port()), "", time.Second)
	s.Require().NoError(err)
	s.Require().NoError(s.cache.Ping(s.ctx))
}

func (s *RedisIDCacheSuite) TearDownSuite() {
	if s.cache != nil {
		s.cache.Close()
	}
	if s.container != nil {
		s.container.Terminate(s.ctx)
	}
}

func (s *RedisIDCacheSuite) TestRoundTripAndExpiry() {
	_, ok, err := s.cache.Get(s.ctx)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.cache.Set(s.ctx, []int64{3, 1, 2}))
	ids, ok, err := s.cache.Get(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal([]int64{3, 1, 2}, ids)

	s.Eventually(func() bool {
		_, ok, _ := s.cache.Get(s.ctx)
		return !ok
	}, 5*time.Second, 100*time.Millisecond)
}

func (s *RedisIDCacheSuite) TestInvalidate() {
	s.Require().NoError(s.cache.Set(s.ctx, []int64{}))
	ids, ok, err := s.cache.Get(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Empty(ids)

	s.Require().NoError(s.cache.Invalidate(s.ctx))
	_, ok, _ = s.cache.Get(s.ctx)
	s.False(ok)
}

func TestRedisIDCacheSuite(t *testing.T) {
	suite.Run(t, new(RedisIDCacheSuite))
}
