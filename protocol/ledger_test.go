package protocol

import (
	"context"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/ruteri/portfolio-oracle/crypto"
)

// stubOracle is a self-consistent in-test oracle: it records requested
// handles, decrypts them with the shared engine key on demand and signs
// responses with its own identity key.
type stubOracle struct {
	engine  *crypto.MaskedEngine
	key     crypto.PrivateKey
	nextID  RequestID
	pending map[RequestID][]crypto.Ciphertext
}

func newStubOracle(t *testing.T, engine *crypto.MaskedEngine) *stubOracle {
	t.Helper()
	_, key, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return &stubOracle{
		engine:  engine,
		key:     key,
		pending: make(map[RequestID][]crypto.Ciphertext),
	}
}

func (o *stubOracle) RequestDecryption(_ context.Context, handles []crypto.Ciphertext) (RequestID, error) {
	o.nextID++
	o.pending[o.nextID] = append([]crypto.Ciphertext(nil), handles...)
	return o.nextID, nil
}

func (o *stubOracle) VerifyProof(requestID RequestID, cleartexts [][]byte, proof []byte) bool {
	pub, _ := o.key.PublicKey()
	return crypto.NewSignature(proof).Verify(pub, o.digest(requestID, cleartexts))
}

// respond produces the cleartexts and proof for a pending request, as the
// real oracle service would deliver them to the callback endpoint.
func (o *stubOracle) respond(t *testing.T, requestID RequestID) ([][]byte, []byte) {
	t.Helper()
	handles, ok := o.pending[requestID]
	require.True(t, ok, "unknown request id %d", requestID)

	cleartexts := make([][]byte, len(handles))
	for i, ct := range handles {
		v, err := o.engine.Decrypt(ct)
		require.NoError(t, err)
		cleartexts[i] = crypto.EncodeCleartext(v)
	}

	sig, err := crypto.Sign(o.key, o.digest(requestID, cleartexts))
	require.NoError(t, err)
	return cleartexts, sig.Bytes()
}

func (o *stubOracle) digest(requestID RequestID, cleartexts [][]byte) []byte {
	h := sha3.New256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(requestID))
	h.Write(buf[:])
	for _, word := range cleartexts {
		binary.BigEndian.PutUint32(buf[:4], uint32(len(word)))
		h.Write(buf[:4])
		h.Write(word)
	}
	return h.Sum(nil)
}

const testOwner = Address("owner")

func newTestLedger(t *testing.T, cooldown time.Duration) (*Ledger, *stubOracle, *crypto.MaskedEngine) {
	t.Helper()
	engine, err := crypto.NewMaskedEngine([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	oracle := newStubOracle(t, engine)
	ledger, err := NewLedger(&Config{
		Owner:      testOwner,
		Cooldown:   cooldown,
		InstanceID: []byte("test-instance"),
	}, engine, oracle)
	require.NoError(t, err)
	return ledger, oracle, engine
}

func encryptUpdate(t *testing.T, engine *crypto.MaskedEngine, value, risk, target1, target2, current1, current2 int64) *PortfolioUpdate {
	t.Helper()
	enc := func(v int64) crypto.Ciphertext {
		ct, err := engine.Encrypt(big.NewInt(v))
		require.NoError(t, err)
		return ct
	}
	return &PortfolioUpdate{
		TotalValue:         enc(value),
		RiskPreference:     enc(risk),
		TargetAllocation1:  enc(target1),
		TargetAllocation2:  enc(target2),
		CurrentAllocation1: enc(current1),
		CurrentAllocation2: enc(current2),
	}
}

func TestNewLedgerDefaults(t *testing.T) {
	ledger, _, _ := newTestLedger(t, 0)

	require.Equal(t, testOwner, ledger.Owner())
	require.True(t, ledger.IsProvider(testOwner))
	require.False(t, ledger.IsPaused())
	require.Equal(t, RoundID(1), ledger.CurrentRound())
	require.False(t, ledger.RoundClosed(1))
	require.False(t, ledger.HasAggregates(1))
}

func TestNewLedgerValidation(t *testing.T) {
	engine, err := crypto.NewMaskedEngine([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	oracle := newStubOracle(t, engine)

	_, err = NewLedger(nil, engine, oracle)
	require.Error(t, err)
	_, err = NewLedger(&Config{}, engine, oracle)
	require.Error(t, err)
	_, err = NewLedger(&Config{Owner: testOwner}, nil, oracle)
	require.Error(t, err)
	_, err = NewLedger(&Config{Owner: testOwner}, engine, nil)
	require.Error(t, err)
}

func TestAccessControl(t *testing.T) {
	ledger, _, _ := newTestLedger(t, 0)
	stranger := Address("stranger")

	require.ErrorIs(t, ledger.SetOwner(stranger, stranger), ErrNotOwner)
	require.ErrorIs(t, ledger.AddProvider(stranger, stranger), ErrNotOwner)
	require.ErrorIs(t, ledger.RemoveProvider(stranger, testOwner), ErrNotOwner)
	require.ErrorIs(t, ledger.SetPaused(stranger, true), ErrNotOwner)
	require.ErrorIs(t, ledger.SetCooldown(stranger, time.Minute), ErrNotOwner)
	_, err := ledger.OpenNewRound(stranger)
	require.ErrorIs(t, err, ErrNotOwner)
	require.ErrorIs(t, ledger.CloseCurrentRound(stranger), ErrNotOwner)

	require.NoError(t, ledger.AddProvider(testOwner, stranger))
	require.True(t, ledger.IsProvider(stranger))
	require.NoError(t, ledger.RemoveProvider(testOwner, stranger))
	require.False(t, ledger.IsProvider(stranger))

	require.NoError(t, ledger.SetCooldown(testOwner, time.Hour))
	require.Equal(t, time.Hour, ledger.Cooldown())
}

func TestOwnershipTransfer(t *testing.T) {
	ledger, _, _ := newTestLedger(t, 0)
	successor := Address("successor")

	require.NoError(t, ledger.SetOwner(testOwner, successor))
	require.Equal(t, successor, ledger.Owner())

	// The new owner is seeded as a provider; the old owner keeps the
	// provider role but loses administration.
	require.True(t, ledger.IsProvider(successor))
	require.True(t, ledger.IsProvider(testOwner))
	require.ErrorIs(t, ledger.SetPaused(testOwner, true), ErrNotOwner)
	require.NoError(t, ledger.SetPaused(successor, true))
}

func TestPauseBlocksMutations(t *testing.T) {
	ledger, _, engine := newTestLedger(t, 0)
	require.NoError(t, ledger.SetPaused(testOwner, true))
	require.True(t, ledger.IsPaused())

	update := encryptUpdate(t, engine, 1, 1, 1, 1, 1, 1)
	require.ErrorIs(t, ledger.Submit(testOwner, update), ErrPaused)

	_, err := ledger.OpenNewRound(testOwner)
	require.ErrorIs(t, err, ErrPaused)
	require.ErrorIs(t, ledger.CloseCurrentRound(testOwner), ErrPaused)

	_, err = ledger.RequestDecryption(context.Background(), testOwner, 1)
	require.ErrorIs(t, err, ErrPaused)

	// Admin calls still work while paused, including unpausing.
	require.NoError(t, ledger.SetCooldown(testOwner, time.Minute))
	require.NoError(t, ledger.SetPaused(testOwner, false))
	require.NoError(t, ledger.Submit(testOwner, update))
}

func TestRoundLifecycle(t *testing.T) {
	ledger, _, engine := newTestLedger(t, 0)

	round, err := ledger.OpenNewRound(testOwner)
	require.NoError(t, err)
	require.Equal(t, RoundID(2), round)
	require.Equal(t, RoundID(2), ledger.CurrentRound())

	require.NoError(t, ledger.CloseCurrentRound(testOwner))
	require.True(t, ledger.RoundClosed(2))
	require.ErrorIs(t, ledger.CloseCurrentRound(testOwner), ErrAlreadyClosedOrInvalid)

	// A closed current round accepts no submissions.
	update := encryptUpdate(t, engine, 1, 1, 1, 1, 1, 1)
	require.ErrorIs(t, ledger.Submit(testOwner, update), ErrRoundClosedOrInvalid)

	// Opening the next round restores submissions; ids keep increasing.
	round, err = ledger.OpenNewRound(testOwner)
	require.NoError(t, err)
	require.Equal(t, RoundID(3), round)
	require.NoError(t, ledger.Submit(testOwner, update))
}

func TestSubmissionAuthorization(t *testing.T) {
	ledger, _, engine := newTestLedger(t, 0)
	provider := Address("provider")
	update := encryptUpdate(t, engine, 1, 1, 1, 1, 1, 1)

	require.ErrorIs(t, ledger.Submit(provider, update), ErrNotProvider)

	require.NoError(t, ledger.AddProvider(testOwner, provider))
	require.NoError(t, ledger.Submit(provider, update))

	// Revocation stops future submissions but the aggregated contribution
	// stays in the round.
	require.NoError(t, ledger.RemoveProvider(testOwner, provider))
	require.ErrorIs(t, ledger.Submit(provider, update), ErrNotProvider)
	require.True(t, ledger.HasAggregates(1))
}

func TestSubmissionRejectsUninitializedCiphertext(t *testing.T) {
	ledger, _, engine := newTestLedger(t, 0)

	update := encryptUpdate(t, engine, 1, 1, 1, 1, 1, 1)
	update.RiskPreference = crypto.Ciphertext{}
	require.Error(t, ledger.Submit(testOwner, update))
	require.False(t, ledger.HasAggregates(1))
}

func TestSubmissionOverwritesSnapshot(t *testing.T) {
	ledger, _, engine := newTestLedger(t, 0)

	_, ok := ledger.Portfolio(testOwner)
	require.False(t, ok)

	first := encryptUpdate(t, engine, 10, 1, 5, 5, 5, 5)
	require.NoError(t, ledger.Submit(testOwner, first))

	second := encryptUpdate(t, engine, 20, 2, 6, 4, 5, 5)
	require.NoError(t, ledger.Submit(testOwner, second))

	state, ok := ledger.Portfolio(testOwner)
	require.True(t, ok)
	got, err := engine.Decrypt(state.TotalValue)
	require.NoError(t, err)
	require.Zero(t, got.Cmp(big.NewInt(20)))
}

func TestSubmissionCooldown(t *testing.T) {
	ledger, _, engine := newTestLedger(t, time.Minute)

	clock := time.Unix(1700000000, 0)
	ledger.now = func() time.Time { return clock }

	update := encryptUpdate(t, engine, 1, 1, 1, 1, 1, 1)
	require.NoError(t, ledger.Submit(testOwner, update))
	require.ErrorIs(t, ledger.Submit(testOwner, update), ErrCooldownActive)

	clock = clock.Add(59 * time.Second)
	require.ErrorIs(t, ledger.Submit(testOwner, update), ErrCooldownActive)

	clock = clock.Add(time.Second)
	require.NoError(t, ledger.Submit(testOwner, update))

	// Cooldowns are per address; a second provider is not throttled by the
	// first one's submission.
	provider := Address("provider")
	require.NoError(t, ledger.AddProvider(testOwner, provider))
	require.NoError(t, ledger.Submit(provider, update))
}

func TestEventFeed(t *testing.T) {
	ledger, _, engine := newTestLedger(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := ledger.Subscribe(ctx)

	provider := Address("provider")
	require.NoError(t, ledger.AddProvider(testOwner, provider))
	require.NoError(t, ledger.Submit(provider, encryptUpdate(t, engine, 1, 1, 1, 1, 1, 1)))
	require.NoError(t, ledger.CloseCurrentRound(testOwner))
	require.NoError(t, ledger.SetPaused(testOwner, true))

	require.Equal(t, ProviderAdded{Provider: provider}, <-events)
	require.Equal(t, SubmissionAccepted{Round: 1, Provider: provider}, <-events)
	require.Equal(t, RoundClosed{Round: 1}, <-events)
	require.Equal(t, PauseChanged{Old: false, New: true}, <-events)
}
