package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var promptsBucket = []byte("prompts")

// BoltPromptCache stores enhanced image prompts in a BoltDB file, keyed by the raw request, so
// repeated image requests skip the enhancement call. Conversations themselves are never stored.
type BoltPromptCache struct {
	db  *bolt.DB
	ttl time.Duration

	now func() time.Time
}

type cachedPrompt struct {
	Raw       string    `json:"raw"`
	Enhanced  string    `json:"enhanced"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewBoltPromptCache opens or creates the cache file at path. Entries older than ttl are treated as
// missing; a zero ttl keeps entries forever. The database file is created with 0600 permissions if it
// doesn't exist.
func NewBoltPromptCache(path string, ttl time.Duration) (BoltPromptCache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltPromptCache{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(promptsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltPromptCache{}, fmt.Errorf("failed to create prompts bucket: %w", err)
	}

	return BoltPromptCache{db: db, ttl: ttl, now: time.Now}, nil
}

func promptKey(raw string) []byte {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return []byte(hex.EncodeToString(sum[:]))
}

// Prompt returns the enhanced prompt stored for raw, and whether a fresh one was found.
func (b BoltPromptCache) Prompt(_ context.Context, raw string) (string, bool, error) {
	var entry cachedPrompt
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(promptsBucket)
		if bucket == nil {
			return nil
		}

		v := bucket.Get(promptKey(raw))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("failed to unmarshal prompt: %w", err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return "", false, err
	}

	if b.ttl > 0 && b.now().Sub(entry.CreatedAt) > b.ttl {
		return "", false, nil
	}
	return entry.Enhanced, true, nil
}

// PutPrompt stores the enhanced prompt for raw, replacing any previous entry.
func (b BoltPromptCache) PutPrompt(_ context.Context, raw, enhanced string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(promptsBucket)
		if bucket == nil {
			return nil
		}

		v, err := json.Marshal(cachedPrompt{
			Raw:       raw,
			Enhanced:  enhanced,
			CreatedAt: b.now(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal prompt: %w", err)
		}

		return bucket.Put(promptKey(raw), v)
	})
}

// Close closes the underlying database file.
func (b BoltPromptCache) Close() error {
	return b.db.Close()
}
