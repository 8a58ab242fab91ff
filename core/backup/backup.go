// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package backup exports and imports the content of a key-value store

A snapshot holds every key below a prefix with its type and value. Strings, hashes and
lists are supported, which are all types the site writes. Time-to-live of string keys
is not part of a snapshot, restored strings never expire.
*/
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/core/logger"
)

// Entry is one key of a snapshot. Depending on Type, exactly one of Value, Hash and List is set.
type Entry struct {
	Key   string            `json:"key"`
	Type  kv.Type           `json:"type"`
	Value string            `json:"value,omitempty"`
	Hash  map[string]string `json:"hash,omitempty"`
	List  []string          `json:"list,omitempty"`
}

// Snapshot is the content of a store below Prefix at CreatedAt
type Snapshot struct {
	CreatedAt time.Time `json:"created_at"`
	Prefix    string    `json:"prefix"`
	Entries   []Entry   `json:"entries"`
}

// Name returns a file name for the snapshot, like homebase-20210601T120000Z.json
func (s *Snapshot) Name() string {
	prefix := strings.TrimSuffix(s.Prefix, ":")
	if prefix == "" {
		prefix = "all"
	}
	return prefix + "-" + s.CreatedAt.UTC().Format("20060102T150405Z") + ".json"
}

// Take reads all keys starting with prefix from store. Keys which vanish while the snapshot is
// taken are skipped.
func Take(ctx context.Context, store kv.Store, prefix string) (*Snapshot, error) {
	rlog := logger.FromContext(ctx)
	keys, err := store.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	snapshot := &Snapshot{
		CreatedAt: time.Now().UTC(),
		Prefix:    prefix,
		Entries:   []Entry{},
	}
	for _, key := range keys {
		typ, err := store.Type(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("type of %s: %w", key, err)
		}
		entry := Entry{Key: key, Type: typ}
		switch typ {
		case kv.TypeString:
			entry.Value, err = store.Get(ctx, key)
		case kv.TypeHash:
			entry.Hash, err = store.HGetAll(ctx, key)
		case kv.TypeList:
			entry.List, err = store.LRange(ctx, key, 0, -1)
		case kv.TypeNone:
			continue
		default:
			rlog.Warnf("snapshot skips key %s of unsupported type %s", key, typ)
			continue
		}
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		snapshot.Entries = append(snapshot.Entries, entry)
	}
	rlog.Infof("snapshot of %d keys with prefix '%s'", len(snapshot.Entries), prefix)
	return snapshot, nil
}

// Restore writes all entries of snapshot to store. Existing keys of the snapshot are replaced,
// other keys are not touched.
func Restore(ctx context.Context, store kv.Store, snapshot *Snapshot) error {
	for _, entry := range snapshot.Entries {
		if err := store.Delete(ctx, entry.Key); err != nil {
			return fmt.Errorf("delete %s: %w", entry.Key, err)
		}
		var err error
		switch entry.Type {
		case kv.TypeString:
			err = store.Set(ctx, entry.Key, entry.Value, 0)
		case kv.TypeHash:
			for field, value := range entry.Hash {
				if err = store.HSet(ctx, entry.Key, field, value); err != nil {
					break
				}
			}
		case kv.TypeList:
			if len(entry.List) > 0 {
				// LPush puts the last value at the head
				values := make([]string, len(entry.List))
				for i, value := range entry.List {
					values[len(values)-1-i] = value
				}
				err = store.LPush(ctx, entry.Key, values...)
			}
		default:
			err = fmt.Errorf("unsupported type '%s'", entry.Type)
		}
		if err != nil {
			return fmt.Errorf("restore %s: %w", entry.Key, err)
		}
	}
	logger.FromContext(ctx).Infof("restored %d keys", len(snapshot.Entries))
	return nil
}

// Write writes snapshot as JSON to w
func (s *Snapshot) Write(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(s)
}

// Read reads a snapshot written with Write
func Read(r io.Reader) (*Snapshot, error) {
	var snapshot Snapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	return &snapshot, nil
}
