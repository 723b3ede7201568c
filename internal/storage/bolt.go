package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/rules"
	"github.com/boltdb/bolt"
)

var (
	rulesBucket       = []byte("rules")
	correctionsBucket = []byte("corrections")
	metaBucket        = []byte("meta")
	schemaKey         = []byte("schema_version")
)

// boltSchemaVersion tracks the bucket layout. Records are JSON, so field
// additions need no migration.
const boltSchemaVersion = 1

// BoltStorage persists rules and corrections as JSON values in a bolt file.
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage opens or creates a bolt database at path.
func NewBoltStorage(path string) (*BoltStorage, error) {
	if err := validateString(path, "path"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

// Close closes the database.
func (b *BoltStorage) Close() error {
	return b.db.Close()
}

// Migrate creates the buckets and records the layout version.
func (b *BoltStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{rulesBucket, correctionsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket(metaBucket)
		if raw := meta.Get(schemaKey); raw != nil {
			version, err := strconv.Atoi(string(raw))
			if err != nil {
				return fmt.Errorf("corrupt schema version %q: %w", raw, err)
			}
			if version > boltSchemaVersion {
				return fmt.Errorf("%w: database at %d, binary supports %d", ErrUnsupportedSchema, version, boltSchemaVersion)
			}
		}
		return meta.Put(schemaKey, []byte(strconv.Itoa(boltSchemaVersion)))
	})
}

// LoadRules returns every stored rule ordered by sequence.
func (b *BoltStorage) LoadRules(ctx context.Context) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	var out []model.Rule
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rulesBucket)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r model.Rule
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to decode rule %s: %w", k, err)
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// LoadCorrections returns every stored correction.
func (b *BoltStorage) LoadCorrections(ctx context.Context) ([]model.Correction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	var out []model.Correction
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(correctionsBucket)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var corr model.Correction
			if err := json.Unmarshal(v, &corr); err != nil {
				return fmt.Errorf("failed to decode correction %s: %w", k, err)
			}
			out = append(out, corr)
		}
		return nil
	})
	return out, err
}

// Save writes a batch in one bolt transaction.
func (b *BoltStorage) Save(ctx context.Context, batch rules.Batch) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	for _, r := range batch.Rules {
		if err := validateRule(r); err != nil {
			return err
		}
	}
	for _, c := range batch.Corrections {
		if err := validateCorrection(c); err != nil {
			return err
		}
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		rb, err := tx.CreateBucketIfNotExists(rulesBucket)
		if err != nil {
			return err
		}
		cb, err := tx.CreateBucketIfNotExists(correctionsBucket)
		if err != nil {
			return err
		}
		for _, r := range batch.Rules {
			val, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to encode rule %s: %w", r.ID, err)
			}
			if err := rb.Put([]byte(r.ID), val); err != nil {
				return fmt.Errorf("failed to save rule %s: %w", r.ID, err)
			}
		}
		for _, c := range batch.Corrections {
			val, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("failed to encode correction %s: %w", c.ID, err)
			}
			if err := cb.Put([]byte(c.ID), val); err != nil {
				return fmt.Errorf("failed to save correction %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// DeleteRule removes a rule.
func (b *BoltStorage) DeleteRule(ctx context.Context, id string) error {
	return b.delete(ctx, rulesBucket, id)
}

// DeleteCorrection removes a correction.
func (b *BoltStorage) DeleteCorrection(ctx context.Context, id string) error {
	return b.delete(ctx, correctionsBucket, id)
}

func (b *BoltStorage) delete(ctx context.Context, bucket []byte, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucket)
		if bkt == nil {
			return nil
		}
		return bkt.Delete([]byte(id))
	})
}
