package services

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/aezcrib/backend/internal/apperrors"
	"github.com/go-redis/redis/v8"
)

const sessionKeyPrefix = "session:"

// IdentityService resolves bearer credentials against the session store.
// Sessions are written by the account collaborator with a TTL; this service
// only ever reads them.
type IdentityService struct {
	redis *redis.Client
}

func NewIdentityService(redisClient *redis.Client) *IdentityService {
	return &IdentityService{redis: redisClient}
}

// Resolve maps a credential to an account id by exact lookup. Expired
// sessions disappear with their TTL, so a missing key is simply
// unauthenticated. Lookup misses must never fall back to guessing an
// account from other active sessions.
func (s *IdentityService) Resolve(ctx context.Context, credential string) (int64, error) {
	if credential == "" {
		return 0, apperrors.ErrUnauthenticated
	}

	val, err := s.redis.Get(ctx, sessionKeyPrefix+credential).Result()
	if err == redis.Nil {
		return 0, apperrors.ErrUnauthenticated
	}
	if err != nil {
		return 0, fmt.Errorf("session lookup failed: %w", err)
	}

	accountID, err := strconv.ParseInt(val, 10, 64)
	if err != nil || accountID <= 0 {
		log.Printf("[AUTH] Malformed session payload for credential %s...", truncateCredential(credential))
		return 0, apperrors.ErrUnauthenticated
	}

	return accountID, nil
}

func truncateCredential(credential string) string {
	if len(credential) > 8 {
		return credential[:8]
	}
	return credential
}
