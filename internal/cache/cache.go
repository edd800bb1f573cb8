// Package cache provides the slot-availability read cache. It is a read
// optimization only: claim decisions are always made from the lock-protected
// database row, never from cached data.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/tutorhall/backend/internal/models"
)

// SlotCache caches availability listings with a short TTL. Implementations
// must treat every error as a miss; a stale read is tolerable, a failed read
// must never fail the request.
type SlotCache interface {
	GetSlots(ctx context.Context, key string) ([]*models.TimeSlot, bool)
	SetSlots(ctx context.Context, key string, slots []*models.TimeSlot, ttl time.Duration)
	Invalidate(ctx context.Context, keys ...string)
	// InvalidatePrefix drops every key under the prefix; used to clear all
	// cached ranges for a tutor on claim/release.
	InvalidatePrefix(ctx context.Context, prefix string)
}

// Cache keys. Availability is keyed by the tutor plus every filter field, so
// differently filtered listings never share an entry; claim/release
// invalidate the slot, the acting user, and the tutor.
func AvailabilityKey(tutorID *uuid.UUID, from, to time.Time, durationMinutes int, subjects []string) string {
	toPart := "open"
	if !to.IsZero() {
		toPart = to.UTC().Format(time.RFC3339)
	}
	key := AvailabilityPrefix(tutorID) + from.UTC().Format(time.RFC3339) +
		":" + toPart + ":" + strconv.Itoa(durationMinutes)
	if len(subjects) > 0 {
		key += ":" + strings.Join(subjects, ",")
	}
	return key
}

// AvailabilityPrefix is the key prefix shared by all cached ranges for a
// tutor (or for untargeted listings when tutorID is nil).
func AvailabilityPrefix(tutorID *uuid.UUID) string {
	tutor := "any"
	if tutorID != nil {
		tutor = tutorID.String()
	}
	return "timeslot:available:" + tutor + ":"
}

func SlotKey(slotID uuid.UUID) string   { return "timeslot:slot:" + slotID.String() }
func TutorKey(tutorID uuid.UUID) string { return "timeslot:tutor:" + tutorID.String() }
func UserKey(userID uuid.UUID) string   { return "timeslot:user:" + userID.String() }

// RedisSlotCache stores JSON-encoded slot lists in Redis.
type RedisSlotCache struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisSlotCache(client *redis.Client, logger *slog.Logger) *RedisSlotCache {
	return &RedisSlotCache{client: client, logger: logger}
}

var _ SlotCache = (*RedisSlotCache)(nil)

func (c *RedisSlotCache) GetSlots(ctx context.Context, key string) ([]*models.TimeSlot, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("slot cache get failed", "key", key, "error", err)
		return nil, false
	}
	var slots []*models.TimeSlot
	if err := json.Unmarshal(raw, &slots); err != nil {
		c.logger.Warn("slot cache decode failed", "key", key, "error", err)
		return nil, false
	}
	return slots, true
}

func (c *RedisSlotCache) SetSlots(ctx context.Context, key string, slots []*models.TimeSlot, ttl time.Duration) {
	raw, err := json.Marshal(slots)
	if err != nil {
		c.logger.Warn("slot cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("slot cache set failed", "key", key, "error", err)
	}
}

func (c *RedisSlotCache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("slot cache invalidate failed", "keys", keys, "error", err)
	}
}

func (c *RedisSlotCache) InvalidatePrefix(ctx context.Context, prefix string) {
	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("slot cache scan failed", "prefix", prefix, "error", err)
		return
	}
	c.Invalidate(ctx, keys...)
}
