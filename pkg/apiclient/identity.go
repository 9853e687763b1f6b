package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// championIDFields lists id-bearing fields in priority order.
var championIDFields = []string{
	"champion_id", "championId", "championID",
	"id",
	"user_id", "userId",
	"member_id", "memberId",
}

// identitySubObjects lists nested identity objects in a whoami payload, checked before top-level fields.
var identitySubObjects = []string{"champion", "user"}

// backfillField is written into the identity cache after a server lookup.
const backfillField = "champion_id"

const whoAmILookupKey = "whoami"

// Sender issues backend requests. *Client implements it.
type Sender interface {
	Send(ctx context.Context, request Request) (*Response, error)
}

// IdentityCache persists the loosely-typed client-side identity record.
// Load returns a nil record when nothing is cached.
type IdentityCache interface {
	Load(ctx context.Context) (map[string]any, error)
	Store(ctx context.Context, record map[string]any) error
}

// MemoryIdentityCache keeps the identity record in process memory.
type MemoryIdentityCache struct {
	mutex  sync.RWMutex
	record map[string]any
}

// NewMemoryIdentityCache constructs a cache seeded with record, which may be nil.
func NewMemoryIdentityCache(record map[string]any) *MemoryIdentityCache {
	return &MemoryIdentityCache{record: cloneRecord(record)}
}

// Load returns a copy of the cached record.
func (cache *MemoryIdentityCache) Load(ctx context.Context) (map[string]any, error) {
	cache.mutex.RLock()
	defer cache.mutex.RUnlock()
	return cloneRecord(cache.record), nil
}

// Store replaces the cached record.
func (cache *MemoryIdentityCache) Store(ctx context.Context, record map[string]any) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.record = cloneRecord(record)
	return nil
}

func cloneRecord(record map[string]any) map[string]any {
	if record == nil {
		return nil
	}
	clone := make(map[string]any, len(record))
	for field, value := range record {
		clone[field] = value
	}
	return clone
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Sender Sender
	// Cache defaults to an empty MemoryIdentityCache.
	Cache      IdentityCache
	WhoAmIPath string
	Logger     *zap.Logger
	Metrics    MetricsRecorder
}

// Resolver derives the canonical numeric champion id for the current session.
type Resolver struct {
	sender     Sender
	cache      IdentityCache
	whoAmIPath string
	logger     *zap.Logger
	metrics    MetricsRecorder
	lookups    singleflight.Group

	mutex    sync.Mutex
	memoized int64
	hasMemo  bool
}

// NewResolver constructs a Resolver after validating the supplied configuration.
func NewResolver(configuration ResolverConfig) (*Resolver, error) {
	if configuration.Sender == nil {
		return nil, fmt.Errorf("apiclient.resolver.new: %w", ErrMissingSender)
	}
	cache := configuration.Cache
	if cache == nil {
		cache = NewMemoryIdentityCache(nil)
	}
	whoAmIPath := configuration.WhoAmIPath
	if strings.TrimSpace(whoAmIPath) == "" {
		whoAmIPath = DefaultWhoAmIPath
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics MetricsRecorder = nopMetrics{}
	if configuration.Metrics != nil {
		metrics = configuration.Metrics
	}
	return &Resolver{
		sender:     configuration.Sender,
		cache:      cache,
		whoAmIPath: whoAmIPath,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Resolve returns the champion id. The first source yielding a number wins:
// the candidate itself, the memoized id, the local identity cache, then the
// whoami endpoint, whose result is backfilled into the cache.
func (resolver *Resolver) Resolve(ctx context.Context, candidate any) (int64, error) {
	if championID, ok := ParseChampionID(candidate); ok {
		return championID, nil
	}
	if championID, ok := resolver.memo(); ok {
		return championID, nil
	}

	record, loadErr := resolver.cache.Load(ctx)
	if loadErr != nil {
		resolver.logger.Warn("identity cache unreadable",
			zap.String("code", "apiclient.identity.cache_load_failed"),
			zap.Error(loadErr))
	}
	if championID, ok := championIDFromRecord(record); ok {
		resolver.remember(championID)
		return championID, nil
	}

	// The shared lookup outlives any one caller; each caller waits on its own ctx.
	lookupContext := context.WithoutCancel(ctx)
	flight := resolver.lookups.DoChan(whoAmILookupKey, func() (any, error) {
		return resolver.lookup(lookupContext)
	})
	select {
	case result := <-flight:
		if result.Err != nil {
			return 0, result.Err
		}
		championID := result.Val.(int64)
		resolver.remember(championID)
		return championID, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("apiclient.identity.lookup: %w: %w", ErrUnresolvedIdentity, ctx.Err())
	}
}

// Forget drops the memoized id. Register it as a sign-out hook.
func (resolver *Resolver) Forget() {
	resolver.mutex.Lock()
	defer resolver.mutex.Unlock()
	resolver.memoized = 0
	resolver.hasMemo = false
}

func (resolver *Resolver) memo() (int64, bool) {
	resolver.mutex.Lock()
	defer resolver.mutex.Unlock()
	return resolver.memoized, resolver.hasMemo
}

func (resolver *Resolver) remember(championID int64) {
	resolver.mutex.Lock()
	defer resolver.mutex.Unlock()
	resolver.memoized = championID
	resolver.hasMemo = true
}

func (resolver *Resolver) lookup(ctx context.Context) (int64, error) {
	resolver.metrics.Increment(MetricIdentityLookup)
	response, sendErr := resolver.sender.Send(ctx, Request{Method: http.MethodGet, Path: resolver.whoAmIPath})
	if sendErr != nil {
		return 0, fmt.Errorf("apiclient.identity.lookup: %w: %w", ErrUnresolvedIdentity, sendErr)
	}
	championID, ok := championIDFromPayload(response.Body)
	if !ok {
		return 0, fmt.Errorf("apiclient.identity.lookup: %w", ErrUnresolvedIdentity)
	}
	resolver.backfill(ctx, championID)
	return championID, nil
}

// backfill writes the id into the cache when the cached record has no
// champion_id; other fields are left untouched.
func (resolver *Resolver) backfill(ctx context.Context, championID int64) {
	record, loadErr := resolver.cache.Load(ctx)
	if loadErr != nil {
		record = nil
	}
	if _, present := record[backfillField]; present {
		return
	}
	updated := cloneRecord(record)
	if updated == nil {
		updated = make(map[string]any, 1)
	}
	updated[backfillField] = championID
	if storeErr := resolver.cache.Store(ctx, updated); storeErr != nil {
		resolver.logger.Warn("identity cache backfill failed",
			zap.String("code", "apiclient.identity.backfill_failed"),
			zap.Int64("champion_id", championID),
			zap.Error(storeErr))
	}
}

func championIDFromRecord(record map[string]any) (int64, bool) {
	for _, field := range championIDFields {
		value, present := record[field]
		if !present {
			continue
		}
		if championID, ok := ParseChampionID(value); ok {
			return championID, true
		}
	}
	return 0, false
}

func championIDFromPayload(body []byte) (int64, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return 0, false
	}
	payload := gjson.ParseBytes(body)
	for _, subObject := range identitySubObjects {
		nested := payload.Get(subObject)
		if !nested.IsObject() {
			continue
		}
		if championID, ok := championIDFromResult(nested); ok {
			return championID, true
		}
	}
	return championIDFromResult(payload)
}

func championIDFromResult(object gjson.Result) (int64, bool) {
	for _, field := range championIDFields {
		fieldValue := object.Get(field)
		if !fieldValue.Exists() {
			continue
		}
		var value any = fieldValue.Value()
		if fieldValue.Type == gjson.Number {
			value = json.Number(fieldValue.Raw)
		}
		if championID, ok := ParseChampionID(value); ok {
			return championID, true
		}
	}
	return 0, false
}

// ParseChampionID reports whether value denotes a finite integral number and
// returns it. Strings are trimmed; booleans, empty strings and fractions are rejected.
func ParseChampionID(value any) (int64, bool) {
	switch typed := value.(type) {
	case int:
		return int64(typed), true
	case int8:
		return int64(typed), true
	case int16:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case uint8:
		return int64(typed), true
	case uint16:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case uint:
		return unsignedChampionID(uint64(typed))
	case uint64:
		return unsignedChampionID(typed)
	case float32:
		return integralFloat(float64(typed))
	case float64:
		return integralFloat(typed)
	case json.Number:
		return parseNumericString(string(typed))
	case string:
		return parseNumericString(typed)
	default:
		return 0, false
	}
}

func unsignedChampionID(value uint64) (int64, bool) {
	if value > math.MaxInt64 {
		return 0, false
	}
	return int64(value), true
}

func parseNumericString(raw string) (int64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	if parsed, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return parsed, true
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return integralFloat(parsed)
}

func integralFloat(value float64) (int64, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value != math.Trunc(value) {
		return 0, false
	}
	if value < math.MinInt64 || value >= math.MaxInt64 {
		return 0, false
	}
	return int64(value), true
}
