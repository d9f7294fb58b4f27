package cache

import (
	"context"
	"fmt"
	"time"

	"bilimshare/internal/state"
)

const (
	LikesCountKeyPrefix = "likes:count:%s"
	ProfileKeyPrefix    = "profile:%s"
)

const (
	LikesCountTTL = 5 * time.Minute
	ProfileTTL    = 2 * time.Minute
)

func LikesCountKey(postID string) string {
	return fmt.Sprintf(LikesCountKeyPrefix, postID)
}

func ProfileKey(userID string) string {
	return fmt.Sprintf(ProfileKeyPrefix, userID)
}

// Invalidate deletes keys. It is a no-op without Redis.
func Invalidate(ctx context.Context, keys ...string) error {
	if client == nil || len(keys) == 0 {
		return nil
	}
	return client.Del(ctx, keys...).Err()
}

// Invalidator drops the cache entries derived from mutated entities.
type Invalidator struct{}

// NewInvalidator returns the cache invalidator registered with the state store.
func NewInvalidator() Invalidator {
	return Invalidator{}
}

// Invalidate maps entity keys to cache keys. Likes and posts drop the like
// counter of the post; users drop their profile.
func (Invalidator) Invalidate(ctx context.Context, entities []state.EntityKey) error {
	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		switch e.Kind {
		case state.KindLike, state.KindPost:
			keys = append(keys, LikesCountKey(e.ID))
		case state.KindUser:
			keys = append(keys, ProfileKey(e.ID))
		}
	}
	return Invalidate(ctx, keys...)
}
