// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package boltstate persists the engine's per-key state in a bbolt
// database, so residual work survives process restarts and may be resumed
// by a different process.
//
// Slot values are serialized with the coders stream format, which is
// stable across processes and architectures.
package boltstate

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"lostluck.dev/splitrun"
	"lostluck.dev/splitrun/coders"
)

var (
	bucketElement     = []byte("element")
	bucketRestriction = []byte("restriction")
	bucketHold        = []byte("watermark_hold")
)

// Store is a durable StateStore backed by a single bbolt database file.
//
// One bucket per slot; within a bucket, entries are keyed by the encoded
// (key, window) pair. bbolt serializes writers, which satisfies the
// engine's read-your-own-writes requirement without extra locking here.
type Store[K comparable, E, R any] struct {
	db *bolt.DB

	keyCoder  coders.Coder[K]
	elemCoder coders.Coder[E]
	restCoder coders.Coder[R]
}

// Open opens or creates the database at path and ensures the slot buckets
// exist. Close the store when done.
func Open[K comparable, E, R any](path string, keyCoder coders.Coder[K], elemCoder coders.Coder[E], restCoder coders.Coder[R]) (*Store[K, E, R], error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening state database %v", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketElement, bucketRestriction, bucketHold} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "creating bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("opened state database", "path", path)
	return &Store[K, E, R]{
		db:        db,
		keyCoder:  keyCoder,
		elemCoder: elemCoder,
		restCoder: restCoder,
	}, nil
}

// Close releases the underlying database.
func (s *Store[K, E, R]) Close() error {
	return s.db.Close()
}

// Cell returns a handle for key and w. The cell itself holds no cached
// data; every access goes through a database transaction.
func (s *Store[K, E, R]) Cell(_ context.Context, key K, w splitrun.Window) (splitrun.StateCell[E, R], error) {
	enc := coders.NewEncoder()
	s.keyCoder.Encode(enc, key)
	w.Encode(enc)
	return &cell[K, E, R]{store: s, id: enc.Data()}, nil
}

var _ splitrun.StateStore[string, []byte, []byte] = (*Store[string, []byte, []byte])(nil)

type cell[K comparable, E, R any] struct {
	store *Store[K, E, R]
	id    []byte
}

func (c *cell[K, E, R]) get(bucket []byte) ([]byte, bool, error) {
	var out []byte
	err := c.store.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(c.id)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil, err
}

func (c *cell[K, E, R]) put(bucket, value []byte) error {
	return c.store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(c.id, value)
	})
}

func (c *cell[K, E, R]) clear(bucket []byte) error {
	return c.store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(c.id)
	})
}

func (c *cell[K, E, R]) Element(context.Context) (E, bool, error) {
	var zero E
	raw, ok, err := c.get(bucketElement)
	if err != nil || !ok {
		return zero, false, errors.Wrap(err, "reading element slot")
	}
	v, err := c.store.elemCoder.Decode(coders.NewDecoder(raw))
	if err != nil {
		return zero, false, errors.Wrap(err, "decoding element slot")
	}
	return v, true, nil
}

func (c *cell[K, E, R]) SetElement(_ context.Context, e E) error {
	enc := coders.NewEncoder()
	c.store.elemCoder.Encode(enc, e)
	return errors.Wrap(c.put(bucketElement, enc.Data()), "writing element slot")
}

func (c *cell[K, E, R]) ClearElement(context.Context) error {
	return errors.Wrap(c.clear(bucketElement), "clearing element slot")
}

func (c *cell[K, E, R]) Restriction(context.Context) (R, bool, error) {
	var zero R
	raw, ok, err := c.get(bucketRestriction)
	if err != nil || !ok {
		return zero, false, errors.Wrap(err, "reading restriction slot")
	}
	v, err := c.store.restCoder.Decode(coders.NewDecoder(raw))
	if err != nil {
		return zero, false, errors.Wrap(err, "decoding restriction slot")
	}
	return v, true, nil
}

func (c *cell[K, E, R]) SetRestriction(_ context.Context, r R) error {
	enc := coders.NewEncoder()
	c.store.restCoder.Encode(enc, r)
	return errors.Wrap(c.put(bucketRestriction, enc.Data()), "writing restriction slot")
}

func (c *cell[K, E, R]) ClearRestriction(context.Context) error {
	return errors.Wrap(c.clear(bucketRestriction), "clearing restriction slot")
}

func (c *cell[K, E, R]) WatermarkHold(context.Context) (splitrun.Watermark, bool, error) {
	raw, ok, err := c.get(bucketHold)
	if err != nil || !ok {
		return 0, false, errors.Wrap(err, "reading hold slot")
	}
	v, err := coders.NewDecoder(raw).BigEndianInt64()
	if err != nil {
		return 0, false, errors.Wrap(err, "decoding hold slot")
	}
	return splitrun.Watermark(v), true, nil
}

func (c *cell[K, E, R]) SetWatermarkHold(_ context.Context, w splitrun.Watermark) error {
	enc := coders.NewEncoder()
	enc.BigEndianInt64(int64(w))
	return errors.Wrap(c.put(bucketHold, enc.Data()), "writing hold slot")
}
