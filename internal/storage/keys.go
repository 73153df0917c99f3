package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/jittakal/actionstore/internal/id"
	"github.com/jittakal/actionstore/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.KeyBuilder = (*PartitionKeyBuilder)(nil)

// DefaultKeyPrefix is used when no prefix is configured.
const DefaultKeyPrefix = "user-actions"

// PartitionKeyBuilder implements Hive-style hourly partitioning for batch keys.
type PartitionKeyBuilder struct {
	prefix string
}

// NewPartitionKeyBuilder creates a key builder. Leading and trailing slashes
// are trimmed from prefix.
func NewPartitionKeyBuilder(prefix string) *PartitionKeyBuilder {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &PartitionKeyBuilder{prefix: prefix}
}

// Key returns the storage key for a batch.
// Format: prefix/year=YYYY/month=MM/day=DD/hour=HH/batch-<epoch_ms>-<count>-<id8>
// All components are computed in UTC.
func (b *PartitionKeyBuilder) Key(t time.Time, count int, batchID string) string {
	t = t.UTC()
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/hour=%02d/batch-%d-%d-%s",
		b.prefix,
		t.Year(),
		int(t.Month()),
		t.Day(),
		t.Hour(),
		t.UnixMilli(),
		count,
		id.Prefix(batchID),
	)
}

// Prefix returns the configured key prefix.
func (b *PartitionKeyBuilder) Prefix() string {
	return b.prefix
}
