package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DataType classifies cached payloads and selects their TTL.
type DataType string

const (
	Quote        DataType = "quote"
	Candles      DataType = "candles"
	News         DataType = "news"
	Fundamentals DataType = "fundamentals"
	Company      DataType = "company"
	Search       DataType = "search"
	Social       DataType = "social"
)

// AllTypes lists every known data type.
var AllTypes = []DataType{Quote, Candles, News, Fundamentals, Company, Search, Social}

var (
	ErrUnknownDataType = errors.New("cache: unknown data type")
	ErrInvalidConfig   = errors.New("cache: invalid configuration")
)

// Valid reports whether t is one of AllTypes.
func (t DataType) Valid() bool {
	for _, k := range AllTypes {
		if k == t {
			return true
		}
	}
	return false
}

// ParseDataType converts a case-insensitive name into a DataType.
func ParseDataType(s string) (DataType, error) {
	t := DataType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownDataType, s)
	}
	return t, nil
}

// DefaultTTLs returns the default expiry table.
func DefaultTTLs() map[DataType]time.Duration {
	return map[DataType]time.Duration{
		Quote:        60 * time.Second,
		Candles:      5 * time.Minute,
		News:         15 * time.Minute,
		Fundamentals: 24 * time.Hour,
		Company:      7 * 24 * time.Hour,
		Search:       30 * time.Minute,
		Social:       15 * time.Minute,
	}
}

// DefaultDurableTypes are mirrored to the durable store unless configured otherwise.
func DefaultDurableTypes() []DataType {
	return []DataType{Fundamentals, Company}
}

// Entry is one cached payload with its bookkeeping.
type Entry struct {
	Key            string          `json:"key"`
	Data           json.RawMessage `json:"data"`
	DataType       DataType        `json:"data_type"`
	StoredAt       time.Time       `json:"stored_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	HitCount       int64           `json:"hit_count"`
}

// DurableStore persists durable entries across restarts. Implementations
// replace the full durable set on Save, keyed by Entry.Key.
type DurableStore interface {
	Save(ctx context.Context, entries []Entry) error
	Load(ctx context.Context) ([]Entry, error)
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Count       int              `json:"count"`
	ByType      map[DataType]int `json:"by_type"`
	Hits        uint64           `json:"hits"`
	Misses      uint64           `json:"misses"`
	HitRate     float64          `json:"hit_rate"`
	Evictions   uint64           `json:"evictions"`
	Expirations uint64           `json:"expirations"`
	OldestAge   time.Duration    `json:"oldest_age"`
	NewestAge   time.Duration    `json:"newest_age"`
}
