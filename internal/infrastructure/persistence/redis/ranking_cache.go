package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maratonahub/cp-tracker/internal/domain/ranking"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING CACHE ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrRankingNotCached is returned when no build is cached for a key.
	ErrRankingNotCached = errors.New("ranking_cache: ranking not cached")

	// ErrStudentNotRanked is returned when a student is absent from the
	// cached ranking.
	ErrStudentNotRanked = errors.New("ranking_cache: student not ranked")

	// ErrStudentIDEmpty is returned when an empty student id is provided.
	ErrStudentIDEmpty = errors.New("ranking_cache: student id cannot be empty")

	// ErrInvalidPageParams is returned when invalid pagination parameters are provided.
	ErrInvalidPageParams = errors.New("ranking_cache: invalid page parameters")
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING CACHE
// ══════════════════════════════════════════════════════════════════════════════

// RankingCache keeps the most recent build of each ranking variant hot
// in Redis Sorted Sets.
//
// Architecture:
//   - Sorted Set "ranking:order:{key}" stores studentID -> points
//   - Hash "ranking:row:{key}" stores studentID -> ranking.Row JSON
//   - String "ranking:meta:{key}" stores build metadata
//
// Positions come from the sorted set, full rows from the hash, so rank
// lookups are O(log N) and page reads O(log N + M).
type RankingCache struct {
	cache *Cache
	ttl   time.Duration
}

// Key patterns for the ranking cache.
const (
	keyRankingOrder = PrefixRanking + "order:"
	keyRankingRow   = PrefixRanking + "row:"
	keyRankingMeta  = PrefixRanking + "meta:"
)

// RankingMeta describes one cached build.
type RankingMeta struct {
	BuiltAt   time.Time `json:"built_at"`
	TotalRows int       `json:"total_rows"`
	Key       string    `json:"key"`
}

// RankingPage is one page of a cached ranking.
type RankingPage struct {
	Rows       []ranking.Row `json:"rows"`
	TotalCount int64         `json:"total_count"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
	HasNext    bool          `json:"has_next"`
	HasPrev    bool          `json:"has_prev"`
}

// NewRankingCache creates a new RankingCache. A zero TTL uses
// TTLRankingCache.
func NewRankingCache(cache *Cache, ttl time.Duration) *RankingCache {
	if ttl <= 0 {
		ttl = TTLRankingCache
	}
	return &RankingCache{cache: cache, ttl: ttl}
}

// keyID flattens a ranking key into its Redis key segment.
func keyID(key ranking.Key) string {
	return fmt.Sprintf("%s:%s:%s:%s", key.Mode, key.Category, key.Window, key.Scope)
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Rebuild replaces the cached build for a key with freshly finalized
// rows. Rows must already carry ranks; the sorted-set score mirrors rank
// order so ties stay resolved exactly as the build resolved them.
func (r *RankingCache) Rebuild(ctx context.Context, key ranking.Key, rows []ranking.Row) error {
	id := keyID(key)
	orderKey := keyRankingOrder + id
	rowKey := keyRankingRow + id
	metaKey := keyRankingMeta + id

	pipe := r.cache.Client().TxPipeline()
	pipe.Del(ctx, orderKey, rowKey)

	if len(rows) > 0 {
		zMembers := make([]redis.Z, 0, len(rows))
		hashData := make(map[string]interface{}, len(rows))

		for _, row := range rows {
			if row.StudentID == "" {
				continue
			}

			// Negated rank, not points: ZRevRange then yields exactly
			// the build's order including tie-breaks.
			zMembers = append(zMembers, redis.Z{
				Score:  float64(-row.Rank),
				Member: row.StudentID,
			})

			data, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
			}
			hashData[row.StudentID] = data
		}

		if len(zMembers) > 0 {
			pipe.ZAdd(ctx, orderKey, zMembers...)
		}
		if len(hashData) > 0 {
			pipe.HSet(ctx, rowKey, hashData)
		}
	}

	meta := RankingMeta{
		BuiltAt:   time.Now().UTC(),
		TotalRows: len(rows),
		Key:       id,
	}
	metaData, _ := json.Marshal(meta)
	pipe.Set(ctx, metaKey, metaData, r.ttl)

	pipe.Expire(ctx, orderKey, r.ttl)
	pipe.Expire(ctx, rowKey, r.ttl)

	_, err := pipe.Exec(ctx)
	return err
}

// Invalidate drops the cached build for a key.
func (r *RankingCache) Invalidate(ctx context.Context, key ranking.Key) error {
	id := keyID(key)
	return r.cache.Delete(ctx, keyRankingOrder+id, keyRankingRow+id, keyRankingMeta+id)
}

// InvalidateAll drops every cached ranking build.
func (r *RankingCache) InvalidateAll(ctx context.Context) error {
	return r.cache.DeleteByPattern(ctx, PrefixRanking+"*")
}

// ══════════════════════════════════════════════════════════════════════════════
// READ OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Meta returns metadata for the cached build of a key.
func (r *RankingCache) Meta(ctx context.Context, key ranking.Key) (*RankingMeta, error) {
	var meta RankingMeta
	err := r.cache.Get(ctx, keyRankingMeta+keyID(key), &meta)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, ErrRankingNotCached
		}
		return nil, err
	}
	return &meta, nil
}

// Top returns the first count rows of a cached ranking.
func (r *RankingCache) Top(ctx context.Context, key ranking.Key, count int) ([]ranking.Row, error) {
	if count <= 0 {
		return nil, ErrInvalidPageParams
	}
	return r.rangeRows(ctx, key, 0, int64(count-1))
}

// All returns every row of a cached ranking in rank order.
func (r *RankingCache) All(ctx context.Context, key ranking.Key) ([]ranking.Row, error) {
	return r.rangeRows(ctx, key, 0, -1)
}

// Page returns one page of a cached ranking. Page numbers start at 1.
func (r *RankingCache) Page(ctx context.Context, key ranking.Key, page, pageSize int) (*RankingPage, error) {
	if page < 1 || pageSize < 1 {
		return nil, ErrInvalidPageParams
	}

	id := keyID(key)
	totalCount, err := r.cache.Client().ZCard(ctx, keyRankingOrder+id).Result()
	if err != nil {
		return nil, err
	}
	if totalCount == 0 {
		return nil, ErrRankingNotCached
	}

	totalPages := int((totalCount + int64(pageSize) - 1) / int64(pageSize))

	start := int64((page - 1) * pageSize)
	rows, err := r.rangeRows(ctx, key, start, start+int64(pageSize)-1)
	if err != nil {
		return nil, err
	}

	return &RankingPage{
		Rows:       rows,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}, nil
}

// Rank returns a student's cached row.
func (r *RankingCache) Rank(ctx context.Context, key ranking.Key, studentID string) (*ranking.Row, error) {
	if studentID == "" {
		return nil, ErrStudentIDEmpty
	}

	data, err := r.cache.Client().HGet(ctx, keyRankingRow+keyID(key), studentID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStudentNotRanked
		}
		return nil, err
	}

	var row ranking.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return &row, nil
}

// Around returns the rows surrounding a student: radius rows above,
// the student, radius rows below.
func (r *RankingCache) Around(ctx context.Context, key ranking.Key, studentID string, radius int) ([]ranking.Row, error) {
	if studentID == "" {
		return nil, ErrStudentIDEmpty
	}
	if radius < 0 {
		return nil, ErrInvalidPageParams
	}

	id := keyID(key)
	pos, err := r.cache.Client().ZRevRank(ctx, keyRankingOrder+id, studentID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStudentNotRanked
		}
		return nil, err
	}

	start := pos - int64(radius)
	if start < 0 {
		start = 0
	}
	return r.rangeRows(ctx, key, start, pos+int64(radius))
}

func (r *RankingCache) rangeRows(ctx context.Context, key ranking.Key, start, end int64) ([]ranking.Row, error) {
	id := keyID(key)

	studentIDs, err := r.cache.Client().ZRevRange(ctx, keyRankingOrder+id, start, end).Result()
	if err != nil {
		return nil, err
	}
	if len(studentIDs) == 0 {
		return nil, ErrRankingNotCached
	}

	raw, err := r.cache.Client().HMGet(ctx, keyRankingRow+id, studentIDs...).Result()
	if err != nil {
		return nil, err
	}

	rows := make([]ranking.Row, 0, len(raw))
	for _, val := range raw {
		s, ok := val.(string)
		if !ok {
			continue
		}
		var row ranking.Row
		if err := json.Unmarshal([]byte(s), &row); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
