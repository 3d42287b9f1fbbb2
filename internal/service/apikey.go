package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/policy"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const apiKeyCacheTTL = 5 * time.Minute

type APIKeyService struct {
	repository *repository.APIKeyRepository
	cache      storage.Store
}

// cache may be nil, in which case every validation hits the database
func NewAPIKeyService(repo *repository.APIKeyRepository, cache storage.Store) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		cache:      cache,
	}
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func cacheKey(keyHash string) string {
	return "apikey:cache:" + keyHash
}

// Create returns the plain key; only its hash is stored
func (s *APIKeyService) Create(ctx context.Context, name, createdBy, tier string) (string, *models.APIKey, error) {
	plan, ok := policy.ParsePlan(tier)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownPlan, tier)
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	key := "gw_" + base64.RawURLEncoding.EncodeToString(keyBytes)

	apiKey := models.APIKey{
		KeyHash:   hashKey(key),
		Name:      name,
		CreatedBy: createdBy,
		Tier:      strings.ToLower(plan.String()),
		IsActive:  true,
	}

	if err := s.repository.Create(ctx, &apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return key, &apiKey, nil
}

// Validate returns nil, nil for an unknown or inactive key
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	keyHash := hashKey(key)

	if s.cache != nil {
		cached, found, err := s.cache.Get(ctx, cacheKey(keyHash))
		if err == nil && found {
			var apiKey models.APIKey
			if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
				return &apiKey, nil
			}
		}
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, nil
	}

	if s.cache != nil {
		if raw, err := json.Marshal(apiKey); err == nil {
			if err := s.cache.Set(ctx, cacheKey(keyHash), string(raw), apiKeyCacheTTL); err != nil {
				log.WithError(err).Debug("api key cache write failed")
			}
		}
	}

	return apiKey, nil
}

// Identity maps a validated key to the rate limit identity it acts as
func (s *APIKeyService) Identity(apiKey *models.APIKey) *policy.Identity {
	return &policy.Identity{
		UserID: "apikey:" + apiKey.ID.String(),
		Plan:   apiKey.Tier,
	}
}

func (s *APIKeyService) Get(ctx context.Context, id string) (*models.APIKey, error) {
	return s.repository.FindByID(ctx, id)
}

func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	return s.repository.List(ctx)
}

func (s *APIKeyService) CountByTier(ctx context.Context) (map[string]int64, error) {
	return s.repository.CountByTier(ctx)
}

func (s *APIKeyService) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	if tier, ok := updates["tier"].(string); ok {
		plan, valid := policy.ParsePlan(tier)
		if !valid {
			return fmt.Errorf("%w: %q", ErrUnknownPlan, tier)
		}
		updates["tier"] = strings.ToLower(plan.String())
	}

	_, hasTier := updates["tier"]
	_, hasActive := updates["is_active"]
	if hasTier || hasActive {
		s.invalidateCache(ctx, id)
	}

	return s.repository.Update(ctx, id, updates)
}

func (s *APIKeyService) Delete(ctx context.Context, id string) error {
	s.invalidateCache(ctx, id)
	return s.repository.Delete(ctx, id)
}

func (s *APIKeyService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	if err := s.repository.UpdateLastUsed(ctx, id); err != nil {
		log.WithError(err).WithField("api_key_id", id).Debug("failed to update api key last use")
	}
}

func (s *APIKeyService) invalidateCache(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}

	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil || apiKey == nil {
		return
	}

	if err := s.cache.Delete(ctx, cacheKey(apiKey.KeyHash)); err != nil {
		log.WithError(err).WithField("api_key_id", id).Warn("failed to invalidate api key cache")
	}
}
