// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/absmach/blobgate/pkg/errors"
	"github.com/boltdb/bolt"
)

var (
	dataBucket = []byte("blobs")
	metaBucket = []byte("properties")
)

var _ Store = (*Bolt)(nil)

// Bolt is an implementation of Store whose backend is a Bolt database.
type Bolt bolt.DB

type properties struct {
	ServiceID   string    `json:"service_id"`
	ContentType string    `json:"content_type"`
	Created     time.Time `json:"created"`
}

// NewBolt ensures the buckets exist in db.
func NewBolt(db *bolt.DB) (*Bolt, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{dataBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("could not ensure bucket %q exists: %w", name, err)
			}
		}
		return nil
	})
	return (*Bolt)(db), err
}

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open %q: %w", path, err)
	}
	s, err := NewBolt(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Bolt) Put(_ context.Context, b Blob) error {
	meta, err := json.Marshal(properties{
		ServiceID:   b.ServiceID,
		ContentType: b.ContentType,
		Created:     b.Created,
	})
	if err != nil {
		return err
	}
	return (*bolt.DB)(s).Update(func(tx *bolt.Tx) error {
		key := []byte(b.ID)
		if err := tx.Bucket(dataBucket).Put(key, b.Data); err != nil {
			return fmt.Errorf("could not put %.40q: %w", key, err)
		}
		if err := tx.Bucket(metaBucket).Put(key, meta); err != nil {
			return fmt.Errorf("could not put properties of %.40q: %w", key, err)
		}
		return nil
	})
}

func (s *Bolt) Get(_ context.Context, id string) (b Blob, err error) {
	err = (*bolt.DB)(s).View(func(tx *bolt.Tx) error {
		key := []byte(id)
		data := tx.Bucket(dataBucket).Get(key)
		if data == nil {
			return fmt.Errorf("%.40q: %w", key, errors.ErrNotFound)
		}
		var p properties
		if meta := tx.Bucket(metaBucket).Get(key); meta != nil {
			if err := json.Unmarshal(meta, &p); err != nil {
				return fmt.Errorf("corrupt properties of %.40q: %w", key, err)
			}
		}
		// Values are only valid for the life of the transaction.
		b = Blob{
			ID:          id,
			ServiceID:   p.ServiceID,
			ContentType: p.ContentType,
			Created:     p.Created,
			Data:        append([]byte(nil), data...),
		}
		return nil
	})
	return b, err
}

func (s *Bolt) Delete(_ context.Context, id string) error {
	return (*bolt.DB)(s).Update(func(tx *bolt.Tx) error {
		key := []byte(id)
		data := tx.Bucket(dataBucket)
		if data.Get(key) == nil {
			return fmt.Errorf("%.40q: %w", key, errors.ErrNotFound)
		}
		if err := data.Delete(key); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Delete(key)
	})
}

func (s *Bolt) Ping(context.Context) error {
	return (*bolt.DB)(s).View(func(tx *bolt.Tx) error {
		if tx.Bucket(dataBucket) == nil {
			return fmt.Errorf("bucket %q missing", dataBucket)
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Bolt) Close() error {
	return (*bolt.DB)(s).Close()
}
