package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/doubledice/ddindexer/internal/claim"
	"github.com/doubledice/ddindexer/internal/domain"
)

const claimTTL = 24 * time.Hour

// ClaimCache stores prepared claims for terminal floors.
//
// Key schema:
//
//	claim:{virtualFloorId}:{userId} - JSON-serialized prepared claim
type ClaimCache struct {
	rdb *redis.Client
}

// NewClaimCache creates a ClaimCache backed by the given Client.
func NewClaimCache(c *Client) *ClaimCache {
	return &ClaimCache{rdb: c.Underlying()}
}

func claimKey(vfID, userID string) string {
	return fmt.Sprintf("claim:%s:%s", vfID, userID)
}

// cachedClaim is the stable wire form: decimals and big ints as strings.
type cachedClaim struct {
	Kind       int      `json:"kind"`
	TotalClaim string   `json:"totalClaim"`
	TokenIDs   []string `json:"tokenIds"`
}

// Set stores a prepared claim.
func (cc *ClaimCache) Set(ctx context.Context, vfID, userID string, c *claim.PreparedClaim) error {
	wire := cachedClaim{
		Kind:       int(c.Kind),
		TotalClaim: c.TotalClaim.String(),
	}
	for _, id := range c.TokenIDs {
		wire.TokenIDs = append(wire.TokenIDs, id.String())
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("redis: marshal claim %s/%s: %w", vfID, userID, err)
	}
	if err := cc.rdb.Set(ctx, claimKey(vfID, userID), data, claimTTL).Err(); err != nil {
		return fmt.Errorf("redis: set claim %s/%s: %w", vfID, userID, err)
	}
	return nil
}

// Get retrieves a prepared claim, or domain.ErrNotFound on a cache miss.
func (cc *ClaimCache) Get(ctx context.Context, vfID, userID string) (*claim.PreparedClaim, error) {
	data, err := cc.rdb.Get(ctx, claimKey(vfID, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get claim %s/%s: %w", vfID, userID, err)
	}

	var wire cachedClaim
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("redis: unmarshal claim %s/%s: %w", vfID, userID, err)
	}

	total, err := decimal.NewFromString(wire.TotalClaim)
	if err != nil {
		return nil, fmt.Errorf("redis: claim %s/%s: %w", vfID, userID, err)
	}
	out := &claim.PreparedClaim{
		Kind:       claim.Kind(wire.Kind),
		TotalClaim: total,
	}
	for _, s := range wire.TokenIDs {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("redis: claim %s/%s: invalid token id %q", vfID, userID, s)
		}
		out.TokenIDs = append(out.TokenIDs, n)
	}
	return out, nil
}

// Invalidate removes a cached claim.
func (cc *ClaimCache) Invalidate(ctx context.Context, vfID, userID string) error {
	if err := cc.rdb.Del(ctx, claimKey(vfID, userID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate claim %s/%s: %w", vfID, userID, err)
	}
	return nil
}
