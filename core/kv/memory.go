// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kv

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryString struct {
	value     string
	expiresAt time.Time
}

func (s memoryString) expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && !now.Before(s.expiresAt)
}

// Memory is an in-process store. It is safe for concurrent use.
type Memory struct {
	mutex   sync.RWMutex
	strings map[string]memoryString
	hashes  map[string]map[string]string
	lists   map[string][]string
	now     func() time.Time
}

// NewMemory returns an empty in-process store
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]memoryString),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		now:     time.Now,
	}
}

// typeOf must be called with the mutex held
func (m *Memory) typeOf(key string) Type {
	if s, ok := m.strings[key]; ok && !s.expired(m.now()) {
		return TypeString
	}
	if _, ok := m.hashes[key]; ok {
		return TypeHash
	}
	if _, ok := m.lists[key]; ok {
		return TypeList
	}
	return TypeNone
}

// Get implements Store
func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if t := m.typeOf(key); t != TypeString {
		if t == TypeNone {
			return "", ErrNotFound
		}
		return "", ErrWrongType
	}
	return m.strings[key].value, nil
}

// Set implements Store
func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.hashes, key)
	delete(m.lists, key)
	s := memoryString{value: value}
	if ttl > 0 {
		s.expiresAt = m.now().Add(ttl)
	}
	m.strings[key] = s
	return nil
}

// Delete implements Store
func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, key := range keys {
		delete(m.strings, key)
		delete(m.hashes, key)
		delete(m.lists, key)
	}
	return nil
}

// HGet implements Store
func (m *Memory) HGet(ctx context.Context, key, field string) (string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if t := m.typeOf(key); t != TypeHash && t != TypeNone {
		return "", ErrWrongType
	}
	value, ok := m.hashes[key][field]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// hash returns the hash for key, creating it if necessary. Must be called with the write lock held.
func (m *Memory) hash(key string) (map[string]string, error) {
	if t := m.typeOf(key); t != TypeHash && t != TypeNone {
		return nil, ErrWrongType
	}
	h, ok := m.hashes[key]
	if !ok {
		delete(m.strings, key) // might be an expired string
		h = make(map[string]string)
		m.hashes[key] = h
	}
	return h, nil
}

// HSet implements Store
func (m *Memory) HSet(ctx context.Context, key, field, value string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	h, err := m.hash(key)
	if err != nil {
		return err
	}
	h[field] = value
	return nil
}

// HGetAll implements Store
func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if t := m.typeOf(key); t != TypeHash && t != TypeNone {
		return nil, ErrWrongType
	}
	result := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		result[k] = v
	}
	return result, nil
}

// HDel implements Store
func (m *Memory) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if t := m.typeOf(key); t != TypeHash {
		if t == TypeNone {
			return 0, nil
		}
		return 0, ErrWrongType
	}
	h := m.hashes[key]
	var removed int64
	for _, field := range fields {
		if _, ok := h[field]; ok {
			delete(h, field)
			removed++
		}
	}
	if len(h) == 0 {
		delete(m.hashes, key)
	}
	return removed, nil
}

// HIncrBy implements Store
func (m *Memory) HIncrBy(ctx context.Context, key, field string, increment int64) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	h, err := m.hash(key)
	if err != nil {
		return 0, err
	}
	var current int64
	if s, ok := h[field]; ok {
		current, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, ErrWrongType
		}
	}
	current += increment
	h[field] = strconv.FormatInt(current, 10)
	return current, nil
}

// LPush implements Store
func (m *Memory) LPush(ctx context.Context, key string, values ...string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if t := m.typeOf(key); t != TypeList && t != TypeNone {
		return ErrWrongType
	}
	delete(m.strings, key)
	list := m.lists[key]
	head := make([]string, 0, len(values)+len(list))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, values[i])
	}
	m.lists[key] = append(head, list...)
	return nil
}

// LRange implements Store
func (m *Memory) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if t := m.typeOf(key); t != TypeList && t != TypeNone {
		return nil, ErrWrongType
	}
	list := m.lists[key]
	lo, hi, ok := listRange(int64(len(list)), start, stop)
	if !ok {
		return []string{}, nil
	}
	return append([]string{}, list[lo:hi]...), nil
}

// LTrim implements Store
func (m *Memory) LTrim(ctx context.Context, key string, start, stop int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if t := m.typeOf(key); t != TypeList {
		if t == TypeNone {
			return nil
		}
		return ErrWrongType
	}
	list := m.lists[key]
	lo, hi, ok := listRange(int64(len(list)), start, stop)
	if !ok {
		delete(m.lists, key)
		return nil
	}
	m.lists[key] = append([]string{}, list[lo:hi]...)
	return nil
}

// Keys implements Store
func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	now := m.now()
	var keys []string
	for k, s := range m.strings {
		if strings.HasPrefix(k, prefix) && !s.expired(now) {
			keys = append(keys, k)
		}
	}
	for k := range m.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range m.lists {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Type implements Store
func (m *Memory) Type(ctx context.Context, key string) (Type, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.typeOf(key), nil
}

// Ping implements Store
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

// Close implements Store
func (m *Memory) Close() error {
	return nil
}
