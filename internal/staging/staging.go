// Package staging buffers an inbound message while the user's project switch
// completes downstream.
package staging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/corpai/tggateway/internal/cache"
	"github.com/corpai/tggateway/internal/forwarder"
)

const defaultTTL = 10 * time.Minute

// Message is the content held until the downstream session is ready.
type Message struct {
	Text        string                 `json:"text"`
	Participant string                 `json:"participant"`
	Attachments []forwarder.Attachment `json:"attachments,omitempty"`
	Type        string                 `json:"type"`
}

// Cache stores staged messages keyed by (bot, contact, message id).
type Cache struct {
	store cache.Store
	ttl   time.Duration
}

func New(store cache.Store, ttl time.Duration) *Cache {
	if store == nil {
		store = cache.NewMemoryStore()
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{store: store, ttl: ttl}
}

func key(botID, contactID int64, messageID string) string {
	return cache.Key("staged", botID, contactID, messageID)
}

// Stage stores msg, replacing any entry under the same key.
func (c *Cache) Stage(ctx context.Context, botID, contactID int64, messageID string, msg Message) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return fmt.Errorf("message id is required")
	}
	return cache.SetJSON(ctx, c.store, key(botID, contactID, messageID), msg, c.ttl)
}

// TakeAndClear returns the staged message and deletes it in one step, so a
// repeated callback never replays the same message twice.
func (c *Cache) TakeAndClear(ctx context.Context, botID, contactID int64, messageID string) (Message, bool, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return Message{}, false, nil
	}
	var msg Message
	ok, err := cache.GetDelJSON(ctx, c.store, key(botID, contactID, messageID), &msg)
	if err != nil {
		return Message{}, false, err
	}
	return msg, ok, nil
}

