package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mentora-ai/mentora/internal/provider"
	"github.com/mentora-ai/mentora/internal/vault"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
// Provider API keys pass through the vault and are stored encrypted.
type SQLiteStore struct {
	db    *sql.DB
	vault *vault.Vault
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string, v *vault.Vault) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db, vault: v}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS providers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			priority INTEGER NOT NULL DEFAULT 100,
			models TEXT NOT NULL DEFAULT '[]',
			api_key TEXT NOT NULL DEFAULT '',
			base_url TEXT NOT NULL DEFAULT '',
			max_requests_per_minute INTEGER NOT NULL DEFAULT 0,
			max_cost_per_day REAL NOT NULL DEFAULT 0,
			health_check_interval_ms INTEGER NOT NULL DEFAULT 0,
			timeout_ms INTEGER NOT NULL DEFAULT 0,
			total_requests INTEGER NOT NULL DEFAULT 0,
			total_cost_usd REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			concept_id TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL DEFAULT '',
			provider_id TEXT NOT NULL,
			provider_name TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			error_category TEXT NOT NULL DEFAULT '',
			error_msg TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 1,
			fallbacks_used TEXT NOT NULL DEFAULT '[]',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_provider ON request_logs(provider_id)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Providers

const providerColumns = `id, name, type, enabled, priority, models, api_key, base_url,
	max_requests_per_minute, max_cost_per_day, health_check_interval_ms, timeout_ms`

func (s *SQLiteStore) ListProviders(ctx context.Context) ([]provider.Config, error) {
	return s.queryProviders(ctx,
		`SELECT `+providerColumns+` FROM providers ORDER BY priority ASC, name ASC`)
}

func (s *SQLiteStore) ListEnabledProviders(ctx context.Context) ([]provider.Config, error) {
	return s.queryProviders(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE enabled = 1 ORDER BY priority ASC, name ASC`)
}

func (s *SQLiteStore) queryProviders(ctx context.Context, query string) ([]provider.Config, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var configs []provider.Config
	for rows.Next() {
		cfg, err := s.scanProvider(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func (s *SQLiteStore) GetProvider(ctx context.Context, id string) (*provider.Config, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id = ?`, id)
	cfg, err := s.scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanProvider(row rowScanner) (*provider.Config, error) {
	var cfg provider.Config
	var modelsJSON, encKey string
	if err := row.Scan(&cfg.ID, &cfg.Name, &cfg.Type, &cfg.Enabled, &cfg.Priority,
		&modelsJSON, &encKey, &cfg.Credentials.BaseURL,
		&cfg.MaxRequestsPerMinute, &cfg.MaxCostPerDay,
		&cfg.HealthCheckIntervalMs, &cfg.TimeoutMs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(modelsJSON), &cfg.Models); err != nil {
		return nil, fmt.Errorf("unmarshal models for provider %s: %w", cfg.ID, err)
	}
	apiKey, err := s.vault.DecryptString(encKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key for provider %s: %w", cfg.ID, err)
	}
	cfg.Credentials.APIKey = apiKey
	return &cfg, nil
}

func (s *SQLiteStore) UpsertProvider(ctx context.Context, cfg provider.Config) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	modelsJSON, err := json.Marshal(cfg.Models)
	if err != nil {
		return fmt.Errorf("marshal models: %w", err)
	}
	encKey, err := s.vault.EncryptString(cfg.Credentials.APIKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO providers (`+providerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name,
		   type=excluded.type,
		   enabled=excluded.enabled,
		   priority=excluded.priority,
		   models=excluded.models,
		   api_key=excluded.api_key,
		   base_url=excluded.base_url,
		   max_requests_per_minute=excluded.max_requests_per_minute,
		   max_cost_per_day=excluded.max_cost_per_day,
		   health_check_interval_ms=excluded.health_check_interval_ms,
		   timeout_ms=excluded.timeout_ms`,
		cfg.ID, cfg.Name, string(cfg.Type), cfg.Enabled, cfg.Priority,
		string(modelsJSON), encKey, cfg.Credentials.BaseURL,
		cfg.MaxRequestsPerMinute, cfg.MaxCostPerDay,
		cfg.HealthCheckIntervalMs, cfg.TimeoutMs)
	return err
}

func (s *SQLiteStore) UpdateProvider(ctx context.Context, id string, patch ProviderPatch) (*provider.Config, error) {
	cfg, err := s.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("provider not found: %s", id)
	}
	if patch.Name != nil {
		cfg.Name = *patch.Name
	}
	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.Priority != nil {
		cfg.Priority = *patch.Priority
	}
	if patch.Models != nil {
		cfg.Models = *patch.Models
	}
	if patch.APIKey != nil {
		cfg.Credentials.APIKey = *patch.APIKey
	}
	if patch.BaseURL != nil {
		cfg.Credentials.BaseURL = *patch.BaseURL
	}
	if patch.MaxRequestsPerMinute != nil {
		cfg.MaxRequestsPerMinute = *patch.MaxRequestsPerMinute
	}
	if patch.MaxCostPerDay != nil {
		cfg.MaxCostPerDay = *patch.MaxCostPerDay
	}
	if patch.HealthCheckIntervalMs != nil {
		cfg.HealthCheckIntervalMs = *patch.HealthCheckIntervalMs
	}
	if patch.TimeoutMs != nil {
		cfg.TimeoutMs = *patch.TimeoutMs
	}
	if err := s.UpsertProvider(ctx, *cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *SQLiteStore) ToggleProvider(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE providers SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("provider not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteProvider(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) UpdateProviderMetrics(ctx context.Context, id string, requestDelta int, costDelta float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET total_requests = total_requests + ?, total_cost_usd = total_cost_usd + ?
		 WHERE id = ?`, requestDelta, costDelta, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("provider not found: %s", id)
	}
	return nil
}

// Request logs

func (s *SQLiteStore) LogRequest(ctx context.Context, entry RequestEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	fallbacksJSON, err := json.Marshal(entry.FallbacksUsed)
	if err != nil {
		return "", fmt.Errorf("marshal fallbacks: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO request_logs (id, timestamp, user_id, concept_id, conversation_id,
		 provider_id, provider_name, model, prompt_tokens, completion_tokens, total_tokens,
		 cost_usd, latency_ms, success, error_category, error_msg, attempts, fallbacks_used, request_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.UTC().Format(time.RFC3339), entry.UserID, entry.ConceptID,
		entry.ConversationID, entry.ProviderID, entry.ProviderName, entry.Model,
		entry.PromptTokens, entry.CompletionTokens, entry.TotalTokens,
		entry.CostUSD, entry.LatencyMs, boolToInt(entry.Success),
		entry.ErrorCategory, entry.ErrorMsg, entry.Attempts, string(fallbacksJSON), entry.RequestID)
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (s *SQLiteStore) ListRequestLogs(ctx context.Context, limit, offset int) ([]RequestEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, user_id, concept_id, conversation_id,
		 provider_id, provider_name, model, prompt_tokens, completion_tokens, total_tokens,
		 cost_usd, latency_ms, success, error_category, error_msg, attempts, fallbacks_used, request_id
		 FROM request_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []RequestEntry
	for rows.Next() {
		var e RequestEntry
		var ts, fallbacksJSON string
		var successInt int
		if err := rows.Scan(&e.ID, &ts, &e.UserID, &e.ConceptID, &e.ConversationID,
			&e.ProviderID, &e.ProviderName, &e.Model,
			&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens,
			&e.CostUSD, &e.LatencyMs, &successInt,
			&e.ErrorCategory, &e.ErrorMsg, &e.Attempts, &fallbacksJSON, &e.RequestID); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		e.Success = successInt != 0
		if err := json.Unmarshal([]byte(fallbacksJSON), &e.FallbacksUsed); err != nil {
			return nil, fmt.Errorf("unmarshal fallbacks for log %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) DailySpend(ctx context.Context, providerID string, day time.Time) (float64, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	var spend sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(cost_usd) FROM request_logs
		 WHERE provider_id = ? AND success = 1 AND timestamp >= ? AND timestamp < ?`,
		providerID, dayStart.Format(time.RFC3339), dayEnd.Format(time.RFC3339)).Scan(&spend)
	if err != nil {
		return 0, err
	}
	return spend.Float64, nil
}

// Gateway API keys

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key APIKeyRecord) error {
	var lastUsed *string
	if key.LastUsedAt != nil {
		t := key.LastUsedAt.UTC().Format(time.RFC3339)
		lastUsed = &t
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, name, created_at, last_used_at, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.Name,
		key.CreatedAt.UTC().Format(time.RFC3339), lastUsed, boolToInt(key.Enabled))
	return err
}

func (s *SQLiteStore) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKeyRecord, error) {
	return s.queryAPIKeys(ctx,
		`SELECT id, key_hash, key_prefix, name, created_at, last_used_at, enabled
		 FROM api_keys WHERE key_prefix = ? AND enabled = 1`, prefix)
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	return s.queryAPIKeys(ctx,
		`SELECT id, key_hash, key_prefix, name, created_at, last_used_at, enabled
		 FROM api_keys ORDER BY created_at DESC`)
}

func (s *SQLiteStore) queryAPIKeys(ctx context.Context, query string, args ...any) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []APIKeyRecord
	for rows.Next() {
		var k APIKeyRecord
		var createdAt string
		var lastUsed sql.NullString
		var enabledInt int
		if err := rows.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Name,
			&createdAt, &lastUsed, &enabledInt); err != nil {
			return nil, err
		}
		k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if lastUsed.Valid {
			t, _ := time.Parse(time.RFC3339, lastUsed.String)
			k.LastUsedAt = &t
		}
		k.Enabled = enabledInt != 0
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) UpdateAPIKey(ctx context.Context, key APIKeyRecord) error {
	var lastUsed *string
	if key.LastUsedAt != nil {
		t := key.LastUsedAt.UTC().Format(time.RFC3339)
		lastUsed = &t
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET key_hash=?, key_prefix=?, name=?, last_used_at=?, enabled=? WHERE id=?`,
		key.KeyHash, key.KeyPrefix, key.Name, lastUsed, boolToInt(key.Enabled), key.ID)
	return err
}

func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
