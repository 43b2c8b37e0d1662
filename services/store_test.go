package services

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ruteri/portfolio-oracle/protocol"
)

func TestInMemoryStoreResults(t *testing.T) {
	store := NewInMemoryStore()
	defer store.Close()

	results, err := store.LoadResults()
	require.NoError(t, err)
	require.Empty(t, results)

	for _, round := range []protocol.RoundID{3, 1, 2} {
		require.NoError(t, store.SaveResult(&protocol.RoundResult{
			RequestID:         protocol.RequestID(round),
			Round:             round,
			TotalValueSum:     big.NewInt(int64(round) * 100),
			RiskPreferenceSum: big.NewInt(1),
			RebalanceAmount1:  big.NewInt(10),
			RebalanceAmount2:  big.NewInt(-10),
		}))
	}

	results, err = store.LoadResults()
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, result := range results {
		require.Equal(t, protocol.RoundID(i+1), result.Round)
	}

	// Redelivery of a round's result overwrites, matching the postgres
	// upsert behavior.
	require.NoError(t, store.SaveResult(&protocol.RoundResult{
		Round:             2,
		RequestID:         9,
		TotalValueSum:     big.NewInt(250),
		RiskPreferenceSum: big.NewInt(1),
		RebalanceAmount1:  big.NewInt(0),
		RebalanceAmount2:  big.NewInt(0),
	}))
	results, err = store.LoadResults()
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Zero(t, results[1].TotalValueSum.Cmp(big.NewInt(250)))
}

func TestInMemoryStoreSubmissionLog(t *testing.T) {
	store := NewInMemoryStore()
	defer store.Close()

	record := &SubmissionRecord{Round: 1, Provider: "alice", SubmittedAt: time.Now()}
	require.NoError(t, store.SaveSubmission(record))
	require.NoError(t, store.SaveSubmission(&SubmissionRecord{Round: 1, Provider: "bob", SubmittedAt: time.Now()}))

	records := store.Submissions()
	require.Len(t, records, 2)
	require.Equal(t, protocol.Address("alice"), records[0].Provider)
	require.Equal(t, protocol.Address("bob"), records[1].Provider)

	// The log holds copies; mutating the caller's record changes nothing.
	record.Provider = "mallory"
	require.Equal(t, protocol.Address("alice"), store.Submissions()[0].Provider)
}

func TestPostgresConnectionString(t *testing.T) {
	cfg := &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "portfolio",
		Password: "secret",
		Database: "portfolio",
	}
	require.Equal(t,
		"host=localhost port=5432 user=portfolio password=secret dbname=portfolio sslmode=disable",
		cfg.ConnectionString())

	cfg.SSLMode = "require"
	require.Contains(t, cfg.ConnectionString(), "sslmode=require")
}
