package services

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/ruteri/portfolio-oracle/protocol"
)

// SubmissionRecord is one entry of the persisted submission log. The log
// supplements the ledger's latest-snapshot-only portfolio state with an
// audit trail of who submitted into which round.
type SubmissionRecord struct {
	Round       protocol.RoundID
	Provider    protocol.Address
	SubmittedAt time.Time
}

// ResultStore persists published round results and the submission log.
type ResultStore interface {
	SaveResult(result *protocol.RoundResult) error
	LoadResults() ([]*protocol.RoundResult, error)
	SaveSubmission(record *SubmissionRecord) error
	Close() error
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// PostgresStore implements ResultStore with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS round_results (
		round BIGINT PRIMARY KEY,
		request_id BIGINT NOT NULL,
		total_value_sum TEXT NOT NULL,
		risk_preference_sum TEXT NOT NULL,
		rebalance_amount_1 TEXT NOT NULL,
		rebalance_amount_2 TEXT NOT NULL,
		published_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS submission_log (
		id BIGSERIAL PRIMARY KEY,
		round BIGINT NOT NULL,
		provider VARCHAR(128) NOT NULL,
		submitted_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submission_log_round ON submission_log(round);
	CREATE INDEX IF NOT EXISTS idx_submission_log_provider ON submission_log(provider);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveResult persists a published round result. Results are published
// exactly once per round; the upsert makes redelivery after a crash
// harmless.
func (s *PostgresStore) SaveResult(result *protocol.RoundResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO round_results
		(round, request_id, total_value_sum, risk_preference_sum, rebalance_amount_1, rebalance_amount_2, published_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (round) DO UPDATE SET
		request_id = EXCLUDED.request_id,
		total_value_sum = EXCLUDED.total_value_sum,
		risk_preference_sum = EXCLUDED.risk_preference_sum,
		rebalance_amount_1 = EXCLUDED.rebalance_amount_1,
		rebalance_amount_2 = EXCLUDED.rebalance_amount_2,
		published_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		int64(result.Round),
		int64(result.RequestID),
		result.TotalValueSum.String(),
		result.RiskPreferenceSum.String(),
		result.RebalanceAmount1.String(),
		result.RebalanceAmount2.String(),
	)
	return err
}

// LoadResults retrieves all persisted round results ordered by round.
func (s *PostgresStore) LoadResults() ([]*protocol.RoundResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT round, request_id, total_value_sum, risk_preference_sum, rebalance_amount_1, rebalance_amount_2
		FROM round_results ORDER BY round
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*protocol.RoundResult
	for rows.Next() {
		var (
			round, requestID                       int64
			valueSum, riskSum, rebal1raw, rebal2raw string
		)
		if err := rows.Scan(&round, &requestID, &valueSum, &riskSum, &rebal1raw, &rebal2raw); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		result := &protocol.RoundResult{
			Round:     protocol.RoundID(round),
			RequestID: protocol.RequestID(requestID),
		}
		var ok bool
		if result.TotalValueSum, ok = new(big.Int).SetString(valueSum, 10); !ok {
			return nil, fmt.Errorf("invalid value sum for round %d", round)
		}
		if result.RiskPreferenceSum, ok = new(big.Int).SetString(riskSum, 10); !ok {
			return nil, fmt.Errorf("invalid risk sum for round %d", round)
		}
		if result.RebalanceAmount1, ok = new(big.Int).SetString(rebal1raw, 10); !ok {
			return nil, fmt.Errorf("invalid rebalance amount 1 for round %d", round)
		}
		if result.RebalanceAmount2, ok = new(big.Int).SetString(rebal2raw, 10); !ok {
			return nil, fmt.Errorf("invalid rebalance amount 2 for round %d", round)
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

// SaveSubmission appends one entry to the submission log.
func (s *PostgresStore) SaveSubmission(record *SubmissionRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submission_log (round, provider, submitted_at) VALUES ($1, $2, $3)`,
		int64(record.Round), string(record.Provider), record.SubmittedAt)
	return err
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InMemoryStore implements ResultStore for testing without a database.
type InMemoryStore struct {
	mu          sync.Mutex
	results     map[protocol.RoundID]*protocol.RoundResult
	submissions []*SubmissionRecord
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		results: make(map[protocol.RoundID]*protocol.RoundResult),
	}
}

// SaveResult stores a round result in memory.
func (s *InMemoryStore) SaveResult(result *protocol.RoundResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *result
	s.results[result.Round] = &copied
	return nil
}

// LoadResults returns all stored results ordered by round.
func (s *InMemoryStore) LoadResults() ([]*protocol.RoundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*protocol.RoundResult, 0, len(s.results))
	for _, result := range s.results {
		copied := *result
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Round < results[j].Round })
	return results, nil
}

// SaveSubmission appends a submission record in memory.
func (s *InMemoryStore) SaveSubmission(record *SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.submissions = append(s.submissions, &copied)
	return nil
}

// Submissions returns the recorded submission log.
func (s *InMemoryStore) Submissions() []*SubmissionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SubmissionRecord, len(s.submissions))
	copy(out, s.submissions)
	return out
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
