package seen

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Cache remembers guids that are known to be stored, per medium.
type Cache interface {
	Seen(ctx context.Context, medium, guid string) (bool, error)
	Mark(ctx context.Context, medium, guid string, ttl time.Duration) error
	Close() error
}

// Lookup is the authoritative existence check behind the cache.
type Lookup interface {
	StoryExists(ctx context.Context, guid string) (bool, error)
}

// Checker answers existence checks from the cache first and falls back to the
// database, writing database hits back into the cache.
type Checker struct {
	cache  Cache
	next   Lookup
	medium string
	ttl    time.Duration
	logger zerolog.Logger
}

func NewChecker(cache Cache, next Lookup, medium string, ttl time.Duration, logger zerolog.Logger) *Checker {
	return &Checker{
		cache:  cache,
		next:   next,
		medium: medium,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *Checker) StoryExists(ctx context.Context, guid string) (bool, error) {
	if c.cache != nil {
		hit, err := c.cache.Seen(ctx, c.medium, guid)
		if err != nil {
			c.logger.Warn().Err(err).Str("guid", guid).Msg("seen cache lookup failed")
		} else if hit {
			return true, nil
		}
	}

	if c.next == nil {
		return false, nil
	}
	exists, err := c.next.StoryExists(ctx, guid)
	if err != nil {
		return false, err
	}
	if exists && c.cache != nil {
		if err := c.cache.Mark(ctx, c.medium, guid, c.ttl); err != nil {
			c.logger.Warn().Err(err).Str("guid", guid).Msg("seen cache write-back failed")
		}
	}
	return exists, nil
}

// MarkSeen records guid after it was admitted or matched as a duplicate.
func (c *Checker) MarkSeen(ctx context.Context, guid string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Mark(ctx, c.medium, guid, c.ttl)
}

func (c *Checker) Close() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Close()
}
