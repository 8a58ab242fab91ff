// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kv

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// StoreSuite runs the same behaviour checks against every driver
type StoreSuite struct {
	suite.Suite
	store Store
	open  func() Store
	ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.open()
	keys, err := s.store.Keys(s.ctx, "test:")
	s.Require().NoError(err)
	s.Require().NoError(s.store.Delete(s.ctx, keys...))
}

func (s *StoreSuite) TestStrings() {
	_, err := s.store.Get(s.ctx, "test:missing")
	s.ErrorIs(err, ErrNotFound)

	s.Require().NoError(s.store.Set(s.ctx, "test:a", "hello", 0))
	value, err := s.store.Get(s.ctx, "test:a")
	s.Require().NoError(err)
	s.Equal("hello", value)

	s.Require().NoError(s.store.Set(s.ctx, "test:a", "world", 0))
	value, _ = s.store.Get(s.ctx, "test:a")
	s.Equal("world", value)

	s.Require().NoError(s.store.Delete(s.ctx, "test:a", "test:missing"))
	_, err = s.store.Get(s.ctx, "test:a")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestExpiry() {
	s.Require().NoError(s.store.Set(s.ctx, "test:ttl", "x", 1500*time.Millisecond))
	value, err := s.store.Get(s.ctx, "test:ttl")
	s.Require().NoError(err)
	s.Equal("x", value)

	time.Sleep(2 * time.Second)
	_, err = s.store.Get(s.ctx, "test:ttl")
	s.ErrorIs(err, ErrNotFound)
	keys, err := s.store.Keys(s.ctx, "test:ttl")
	s.Require().NoError(err)
	s.Empty(keys)
}

func (s *StoreSuite) TestHashes() {
	all, err := s.store.HGetAll(s.ctx, "test:h")
	s.Require().NoError(err)
	s.Empty(all)
	_, err = s.store.HGet(s.ctx, "test:h", "f")
	s.ErrorIs(err, ErrNotFound)

	s.Require().NoError(s.store.HSet(s.ctx, "test:h", "f1", "v1"))
	s.Require().NoError(s.store.HSet(s.ctx, "test:h", "f2", "v2"))
	s.Require().NoError(s.store.HSet(s.ctx, "test:h", "f1", "v1b"))

	value, err := s.store.HGet(s.ctx, "test:h", "f1")
	s.Require().NoError(err)
	s.Equal("v1b", value)

	all, err = s.store.HGetAll(s.ctx, "test:h")
	s.Require().NoError(err)
	s.Equal(map[string]string{"f1": "v1b", "f2": "v2"}, all)

	removed, err := s.store.HDel(s.ctx, "test:h", "f1", "nope")
	s.Require().NoError(err)
	s.EqualValues(1, removed)
	all, _ = s.store.HGetAll(s.ctx, "test:h")
	s.Equal(map[string]string{"f2": "v2"}, all)

	t, err := s.store.Type(s.ctx, "test:h")
	s.Require().NoError(err)
	s.Equal(TypeHash, t)
}

func (s *StoreSuite) TestHIncrBy() {
	n, err := s.store.HIncrBy(s.ctx, "test:counter", "case:2024", 1)
	s.Require().NoError(err)
	s.EqualValues(1, n)
	n, err = s.store.HIncrBy(s.ctx, "test:counter", "case:2024", 5)
	s.Require().NoError(err)
	s.EqualValues(6, n)
	n, err = s.store.HIncrBy(s.ctx, "test:counter", "case:2024", -2)
	s.Require().NoError(err)
	s.EqualValues(4, n)

	s.Require().NoError(s.store.HSet(s.ctx, "test:counter", "text", "abc"))
	_, err = s.store.HIncrBy(s.ctx, "test:counter", "text", 1)
	s.ErrorIs(err, ErrWrongType)
}

func (s *StoreSuite) TestHIncrByConcurrent() {
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.HIncrBy(s.ctx, "test:concurrent", "n", 1)
			s.NoError(err)
		}()
	}
	wg.Wait()
	value, err := s.store.HGet(s.ctx, "test:concurrent", "n")
	s.Require().NoError(err)
	s.Equal("20", value)
}

func (s *StoreSuite) TestLists() {
	values, err := s.store.LRange(s.ctx, "test:l", 0, -1)
	s.Require().NoError(err)
	s.Empty(values)

	s.Require().NoError(s.store.LPush(s.ctx, "test:l", "a", "b"))
	s.Require().NoError(s.store.LPush(s.ctx, "test:l", "c"))

	values, err = s.store.LRange(s.ctx, "test:l", 0, -1)
	s.Require().NoError(err)
	s.Equal([]string{"c", "b", "a"}, values)

	values, _ = s.store.LRange(s.ctx, "test:l", 1, 1)
	s.Equal([]string{"b"}, values)
	values, _ = s.store.LRange(s.ctx, "test:l", -2, 100)
	s.Equal([]string{"b", "a"}, values)
	values, _ = s.store.LRange(s.ctx, "test:l", 5, 10)
	s.Empty(values)

	s.Require().NoError(s.store.LTrim(s.ctx, "test:l", 0, 1))
	values, _ = s.store.LRange(s.ctx, "test:l", 0, -1)
	s.Equal([]string{"c", "b"}, values)

	s.Require().NoError(s.store.LPush(s.ctx, "test:l", "d"))
	values, _ = s.store.LRange(s.ctx, "test:l", 0, -1)
	s.Equal([]string{"d", "c", "b"}, values)

	t, _ := s.store.Type(s.ctx, "test:l")
	s.Equal(TypeList, t)
}

func (s *StoreSuite) TestWrongType() {
	s.Require().NoError(s.store.Set(s.ctx, "test:s", "x", 0))
	s.ErrorIs(s.store.HSet(s.ctx, "test:s", "f", "v"), ErrWrongType)
	s.ErrorIs(s.store.LPush(s.ctx, "test:s", "v"), ErrWrongType)

	s.Require().NoError(s.store.HSet(s.ctx, "test:h2", "f", "v"))
	_, err := s.store.Get(s.ctx, "test:h2")
	s.ErrorIs(err, ErrWrongType)

	// SET overwrites any type
	s.Require().NoError(s.store.Set(s.ctx, "test:h2", "y", 0))
	t, _ := s.store.Type(s.ctx, "test:h2")
	s.Equal(TypeString, t)
}

func (s *StoreSuite) TestKeys() {
	s.Require().NoError(s.store.Set(s.ctx, "test:k:1", "x", 0))
	s.Require().NoError(s.store.HSet(s.ctx, "test:k:2", "f", "v"))
	s.Require().NoError(s.store.LPush(s.ctx, "test:k:3", "v"))
	s.Require().NoError(s.store.Set(s.ctx, "test:other", "x", 0))
	s.Require().NoError(s.store.Set(s.ctx, "test:k*", "glob", 0))

	keys, err := s.store.Keys(s.ctx, "test:k:")
	s.Require().NoError(err)
	s.Equal([]string{"test:k:1", "test:k:2", "test:k:3"}, keys)

	keys, err = s.store.Keys(s.ctx, "test:k*")
	s.Require().NoError(err)
	s.Equal([]string{"test:k*"}, keys)

	t, err := s.store.Type(s.ctx, "test:nothing")
	s.Require().NoError(err)
	s.Equal(TypeNone, t)
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func() Store { return NewMemory() }})
}

func TestListRange(t *testing.T) {
	tests := []struct {
		n, start, stop int64
		lo, hi         int64
		ok             bool
	}{
		{n: 5, start: 0, stop: -1, lo: 0, hi: 5, ok: true},
		{n: 5, start: 1, stop: 2, lo: 1, hi: 3, ok: true},
		{n: 5, start: -2, stop: -1, lo: 3, hi: 5, ok: true},
		{n: 5, start: -10, stop: 100, lo: 0, hi: 5, ok: true},
		{n: 5, start: 3, stop: 1},
		{n: 5, start: 5, stop: 10},
		{n: 0, start: 0, stop: -1},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d[%d:%d]", test.n, test.start, test.stop), func(t *testing.T) {
			lo, hi, ok := listRange(test.n, test.start, test.stop)
			require.Equal(t, test.ok, ok)
			if ok {
				assert.Equal(t, test.lo, lo)
				assert.Equal(t, test.hi, hi)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Configuration{Driver: "etcd"})
	assert.Error(t, err)

	store, err := Open(Configuration{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, store)
}
