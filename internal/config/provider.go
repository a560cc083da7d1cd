package config

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avelai/feedback-pipeline/internal/repository"
)

const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 2000 * time.Millisecond
	DefaultSettingsTTL = 60 * time.Second
)

// Settings are the store-backed pipeline flags shared by all workers.
// They gate enablement and retry tuning only, never data integrity, so
// reads stale by up to one TTL window are acceptable.
type Settings struct {
	PipelineEnabled bool
	StageEnabled    map[string]bool
	MaxRetries      int
	BackoffBase     time.Duration
}

// StageEnabledFor returns the flag for one stage, defaulting to enabled
// when the stage has no explicit row.
func (s Settings) StageEnabledFor(stage string) bool {
	if !s.PipelineEnabled {
		return false
	}
	enabled, ok := s.StageEnabled[stage]
	if !ok {
		return true
	}
	return enabled
}

func DefaultSettings() Settings {
	return Settings{
		PipelineEnabled: true,
		StageEnabled:    map[string]bool{},
		MaxRetries:      DefaultMaxRetries,
		BackoffBase:     DefaultBackoffBase,
	}
}

// Provider caches pipeline settings read from the configuration table.
// Get refreshes on TTL expiry; Invalidate forces the next Get to refetch.
// Fetch failures fall back to the last-known-good value, then to defaults.
type Provider struct {
	repo   repository.SettingsRepository
	ttl    time.Duration
	logger *log.Logger
	now    func() time.Time

	mu        sync.Mutex
	cached    Settings
	hasCache  bool
	fetchedAt time.Time
}

func NewProvider(repo repository.SettingsRepository, ttl time.Duration, logger *log.Logger) *Provider {
	if ttl <= 0 {
		ttl = DefaultSettingsTTL
	}
	return &Provider{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *Provider) Get(ctx context.Context) Settings {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hasCache && p.now().Sub(p.fetchedAt) < p.ttl {
		return p.cached
	}

	values, err := p.repo.LoadSettings(ctx)
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("settings fetch failed, using %s: %v", p.fallbackLabel(), err)
		}
		if p.hasCache {
			return p.cached
		}
		return DefaultSettings()
	}

	p.cached = parseSettings(values)
	p.hasCache = true
	p.fetchedAt = p.now()
	return p.cached
}

func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchedAt = time.Time{}
}

func (p *Provider) fallbackLabel() string {
	if p.hasCache {
		return "last-known-good cache"
	}
	return "defaults"
}

func parseSettings(values map[string]string) Settings {
	settings := DefaultSettings()

	for key, value := range values {
		switch {
		case key == "pipeline_enabled":
			settings.PipelineEnabled = parseBool(value, true)
		case key == "max_retries":
			if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
				settings.MaxRetries = parsed
			}
		case key == "backoff_base_ms":
			if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
				settings.BackoffBase = time.Duration(parsed) * time.Millisecond
			}
		case strings.HasPrefix(key, "stage_") && strings.HasSuffix(key, "_enabled"):
			stage := strings.TrimSuffix(strings.TrimPrefix(key, "stage_"), "_enabled")
			if stage != "" {
				settings.StageEnabled[stage] = parseBool(value, true)
			}
		}
	}
	return settings
}

func parseBool(value string, fallback bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}
