package storage

import (
	"strings"
	"testing"
	"time"
)

func TestPartitionKeyBuilder_Key(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 9, 1, 500_000_000, time.UTC)

	tests := []struct {
		name    string
		prefix  string
		t       time.Time
		count   int
		batchID string
		want    string
	}{
		{
			name:    "standard key",
			prefix:  "user-actions",
			t:       ts,
			count:   42,
			batchID: "9f1c2d3e-aaaa-4bbb-8ccc-dddddddddddd",
			want:    "user-actions/year=2024/month=03/day=05/hour=07/batch-1709622541500-42-9f1c2d3e",
		},
		{
			name:    "prefix slashes trimmed",
			prefix:  "/raw/actions/",
			t:       ts,
			count:   1,
			batchID: "abcdef01-2345-4678-9abc-def012345678",
			want:    "raw/actions/year=2024/month=03/day=05/hour=07/batch-1709622541500-1-abcdef01",
		},
		{
			name:    "empty prefix falls back to default",
			prefix:  "",
			t:       ts,
			count:   3,
			batchID: "ab-cd-ef-01-23",
			want:    "user-actions/year=2024/month=03/day=05/hour=07/batch-1709622541500-3-abcdef01",
		},
		{
			name:    "non-UTC time is normalized",
			prefix:  "p",
			t:       ts.In(time.FixedZone("UTC+9", 9*3600)),
			count:   2,
			batchID: "11111111-2222-4333-8444-555555555555",
			want:    "p/year=2024/month=03/day=05/hour=07/batch-1709622541500-2-11111111",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewPartitionKeyBuilder(tt.prefix).Key(tt.t, tt.count, tt.batchID)
			if got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPartitionKeyBuilder_SameInputsDifferOnlyInSuffix(t *testing.T) {
	b := NewPartitionKeyBuilder("user-actions")
	ts := time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)

	k1 := b.Key(ts, 10, "aaaaaaaa-0000-4000-8000-000000000000")
	k2 := b.Key(ts, 10, "bbbbbbbb-0000-4000-8000-000000000000")

	cut := strings.LastIndex(k1, "-")
	if k1[:cut] != k2[:cut] {
		t.Errorf("keys differ before id suffix: %q vs %q", k1, k2)
	}
	if k1 == k2 {
		t.Error("keys with different batch ids must differ")
	}
}
