package limits

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu      sync.RWMutex
	rates   map[string]*RateLimitConfig // keyed by endpoint|env
	budgets map[string]*BudgetConfig    // keyed by identity|env
}

// NewMemoryStore creates a new in-memory config store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rates:   make(map[string]*RateLimitConfig),
		budgets: make(map[string]*BudgetConfig),
	}
}

func rateKey(endpoint string, env Environment) string {
	return endpoint + "|" + string(env)
}

func budgetKey(identity string, env Environment) string {
	return identity + "|" + string(env)
}

func (s *MemoryStore) GetRateLimit(_ context.Context, endpoint string, env Environment) (*RateLimitConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.rates[rateKey(endpoint, env)]
	if !ok {
		return nil, ErrConfigMissing
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) PutRateLimit(_ context.Context, cfg *RateLimitConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *cfg
	s.rates[rateKey(cfg.Endpoint, cfg.Environment)] = &cp
	return nil
}

func (s *MemoryStore) ListRateLimits(_ context.Context, env Environment) ([]*RateLimitConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*RateLimitConfig
	for _, cfg := range s.rates {
		if cfg.Environment == env {
			cp := *cfg
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetBudget(_ context.Context, identity string, env Environment) (*BudgetConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.budgets[budgetKey(identity, env)]
	if !ok {
		return nil, ErrConfigMissing
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) PutBudget(_ context.Context, cfg *BudgetConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *cfg
	s.budgets[budgetKey(cfg.Identity, cfg.Environment)] = &cp
	return nil
}
