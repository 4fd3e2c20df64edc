package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CachedQueryService wraps QueryService with a Redis read-through cache
// for the hot read paths. Cache keys embed the projection watermark, so a
// new applied event naturally misses and stale entries age out by TTL —
// no explicit invalidation needed.
type CachedQueryService struct {
	*QueryService
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedQueryService(qs *QueryService, rdb *redis.Client, ttl time.Duration) *CachedQueryService {
	return &CachedQueryService{
		QueryService: qs,
		rdb:          rdb,
		ttl:          ttl,
	}
}

func hedgerPositionsKey(hedger uuid.UUID, activeOnly bool, watermark int64) string {
	return fmt.Sprintf("hedge:q:positions:%s:%t:%d", hedger, activeOnly, watermark)
}

func yieldStateKey(watermark int64) string {
	return fmt.Sprintf("hedge:q:yield:%d", watermark)
}

func hedgerSummaryKey(hedger uuid.UUID, watermark int64) string {
	return fmt.Sprintf("hedge:q:summary:%s:%d", hedger, watermark)
}

// GetHedgerPositions reads through the cache. A Redis failure degrades to
// the primary, never to an error.
func (s *CachedQueryService) GetHedgerPositions(ctx context.Context, hedger uuid.UUID, activeOnly bool) ([]PositionResponse, error) {
	wm, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	key := hedgerPositionsKey(hedger, activeOnly, wm)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var positions []PositionResponse
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.QueryService.GetHedgerPositions(ctx, hedger, activeOnly)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, key, positions)
	return positions, nil
}

// GetHedgerSummary reads through the cache.
func (s *CachedQueryService) GetHedgerSummary(ctx context.Context, hedger uuid.UUID) (*HedgerSummary, error) {
	wm, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	key := hedgerSummaryKey(hedger, wm)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var summary HedgerSummary
		if json.Unmarshal(data, &summary) == nil {
			return &summary, nil
		}
	}

	summary, err := s.QueryService.GetHedgerSummary(ctx, hedger)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, key, summary)
	return summary, nil
}

// GetYieldState reads through the cache.
func (s *CachedQueryService) GetYieldState(ctx context.Context) (*YieldStateResponse, error) {
	wm, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	key := yieldStateKey(wm)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var ys YieldStateResponse
		if json.Unmarshal(data, &ys) == nil {
			return &ys, nil
		}
	}

	ys, err := s.QueryService.GetYieldState(ctx)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, key, ys)
	return ys, nil
}

func (s *CachedQueryService) cache(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	// Best-effort: a failed SET just means the next read misses
	s.rdb.Set(ctx, key, data, s.ttl)
}
