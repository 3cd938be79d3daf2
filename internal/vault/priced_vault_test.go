package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/kipubank/vault-service/internal/domain"
	"github.com/kipubank/vault-service/internal/store"
)

const (
	testOwner = "owner-account"
	testUser  = "user-1"
	usd       = uint64(1_000_000) // one accounting unit in 6-decimal smallest units
	oneEth    = uint64(1_000_000_000_000_000_000)
)

type pricedFeedStub struct {
	rounds map[string]domain.FeedRound
	err    error
	calls  int
}

func (s *pricedFeedStub) LatestRound(ctx context.Context, feedID string) (domain.FeedRound, error) {
	s.calls++
	if s.err != nil {
		return domain.FeedRound{}, s.err
	}
	round, ok := s.rounds[feedID]
	if !ok {
		return domain.FeedRound{}, errors.New("unknown feed")
	}
	return round, nil
}

type custodyCall struct {
	kind    string
	asset   string
	account string
	amount  uint64
}

type pricedCustodyStub struct {
	pullErr    error
	releaseErr error
	calls      []custodyCall
}

func (s *pricedCustodyStub) Pull(ctx context.Context, asset, from string, amount uint64) error {
	s.calls = append(s.calls, custodyCall{kind: "pull", asset: asset, account: from, amount: amount})
	return s.pullErr
}

func (s *pricedCustodyStub) Release(ctx context.Context, asset, to string, amount uint64) error {
	s.calls = append(s.calls, custodyCall{kind: "release", asset: asset, account: to, amount: amount})
	return s.releaseErr
}

func (s *pricedCustodyStub) Approve(ctx context.Context, asset, spender string, amount uint64) error {
	s.calls = append(s.calls, custodyCall{kind: "approve", asset: asset, account: spender, amount: amount})
	return nil
}

func freshRound(price int64) domain.FeedRound {
	return domain.FeedRound{RoundID: 100, AnsweredInRound: 100, Price: price, Decimals: 8, UpdatedAt: 1_700_000_000}
}

func newPricedFixture(t *testing.T, capacity uint64) (*PricedVault, *store.MemoryRepository, *pricedFeedStub, *pricedCustodyStub) {
	t.Helper()
	repo := store.NewMemoryRepository()
	feed := &pricedFeedStub{rounds: map[string]domain.FeedRound{
		"eth-usd": freshRound(2_000_00000000),
	}}
	custody := &pricedCustodyStub{}
	v, err := NewPricedVault(Config{
		Name:               "priced",
		Owner:              testOwner,
		Capacity:           capacity,
		WithdrawCeiling:    50_000 * usd,
		AccountingAsset:    "USDC",
		AccountingDecimals: 6,
		NativeAsset:        "ETH",
		NativeDecimals:     18,
		NativeFeedID:       "eth-usd",
	}, repo, feed, custody, nil)
	if err != nil {
		t.Fatalf("NewPricedVault returned error: %v", err)
	}
	return v, repo, feed, custody
}

func assertConservation(t *testing.T, repo *store.MemoryRepository, accounts []string, assets []string) {
	t.Helper()
	total, err := repo.TotalDeposited(context.Background())
	if err != nil {
		t.Fatalf("TotalDeposited returned error: %v", err)
	}
	var sum uint64
	for _, account := range accounts {
		for _, asset := range assets {
			bal, err := repo.Balance(context.Background(), account, asset)
			if err != nil {
				t.Fatalf("Balance returned error: %v", err)
			}
			sum += bal.Accounted
		}
	}
	if total != sum {
		t.Fatalf("aggregate %d does not equal sum of accounted balances %d", total, sum)
	}
}

func TestPricedDepositAccountingCurrency(t *testing.T) {
	v, repo, feed, custody := newPricedFixture(t, 100_000*usd)

	op, err := v.Deposit(context.Background(), testUser, "USDC", 500*usd)
	if err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	if op.Value != 500*usd {
		t.Fatalf("expected accounting deposit valued 1:1, got %d", op.Value)
	}
	if feed.calls != 0 {
		t.Fatalf("accounting-currency deposit must not consult the feed, got %d calls", feed.calls)
	}

	bal, _ := repo.Balance(context.Background(), testUser, "USDC")
	if bal.Native != 500*usd || bal.Accounted != 500*usd {
		t.Fatalf("unexpected balance %+v", bal)
	}
	counters, _ := repo.Counters(context.Background(), testUser)
	if counters.Deposits != 1 || counters.Withdrawals != 0 {
		t.Fatalf("unexpected counters %+v", counters)
	}
	if len(custody.calls) != 1 || custody.calls[0].kind != "pull" {
		t.Fatalf("expected a single custody pull, got %+v", custody.calls)
	}
	assertConservation(t, repo, []string{testUser}, []string{"USDC"})
}

func TestPricedDepositNativeValuedThroughFeed(t *testing.T) {
	v, repo, _, _ := newPricedFixture(t, 100_000*usd)

	// 1.5 ETH at 2000 USD.
	op, err := v.DepositNative(context.Background(), testUser, oneEth+oneEth/2)
	if err != nil {
		t.Fatalf("DepositNative returned error: %v", err)
	}
	if want := 3_000 * usd; op.Value != want {
		t.Fatalf("deposit valued %d, want %d", op.Value, want)
	}

	bal, _ := repo.Balance(context.Background(), testUser, "ETH")
	if bal.Native != oneEth+oneEth/2 {
		t.Fatalf("native balance must stay in asset units, got %d", bal.Native)
	}
	if bal.Accounted != 3_000*usd {
		t.Fatalf("accounted balance %d, want %d", bal.Accounted, 3_000*usd)
	}
	assertConservation(t, repo, []string{testUser}, []string{"ETH"})
}

func TestPricedDepositRoutesNativeAsset(t *testing.T) {
	v, repo, _, _ := newPricedFixture(t, 100_000*usd)

	if _, err := v.Deposit(context.Background(), testUser, "ETH", oneEth); err != nil {
		t.Fatalf("Deposit of native asset returned error: %v", err)
	}
	bal, _ := repo.Balance(context.Background(), testUser, "ETH")
	if bal.Native != oneEth {
		t.Fatalf("expected native deposit routed through feed, balance %+v", bal)
	}
}

func TestPricedCapacityEnforcedOnValuation(t *testing.T) {
	v, _, _, custody := newPricedFixture(t, 50_000*usd)

	// 15 ETH = 30k USD fits under the 50k cap.
	if _, err := v.DepositNative(context.Background(), testUser, 15*oneEth); err != nil {
		t.Fatalf("first deposit returned error: %v", err)
	}
	pullsBefore := len(custody.calls)

	// 12.5 ETH = 25k USD exceeds the remaining 20k.
	_, err := v.DepositNative(context.Background(), "user-2", 12*oneEth+oneEth/2)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if len(custody.calls) != pullsBefore {
		t.Fatalf("capacity rejection must not move funds, custody calls %+v", custody.calls)
	}

	// 10 ETH = 20k USD lands exactly on the cap.
	if _, err := v.DepositNative(context.Background(), "user-2", 10*oneEth); err != nil {
		t.Fatalf("boundary deposit returned error: %v", err)
	}
}

func TestPricedDepositRejectsStaleRound(t *testing.T) {
	v, _, feed, custody := newPricedFixture(t, 100_000*usd)

	stale := freshRound(2_000_00000000)
	stale.UpdatedAt = 0
	feed.rounds["eth-usd"] = stale

	_, err := v.DepositNative(context.Background(), testUser, oneEth)
	if !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
	if len(custody.calls) != 0 {
		t.Fatalf("stale round must abort before any funds move, custody calls %+v", custody.calls)
	}
}

func TestPricedDepositRejectsLaggingAnswer(t *testing.T) {
	v, _, feed, _ := newPricedFixture(t, 100_000*usd)

	lagging := freshRound(2_000_00000000)
	lagging.AnsweredInRound = lagging.RoundID - 1
	feed.rounds["eth-usd"] = lagging

	if _, err := v.DepositNative(context.Background(), testUser, oneEth); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}

func TestPricedRegisteredAssetDeposit(t *testing.T) {
	v, repo, feed, _ := newPricedFixture(t, 100_000*usd)
	feed.rounds["wbtc-usd"] = freshRound(40_000_00000000)

	err := v.RegisterAsset(context.Background(), testOwner, domain.RegisterAssetRequest{
		Asset: "WBTC", Decimals: 8, FeedID: "wbtc-usd",
	})
	if err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}

	// 0.5 WBTC = 20k USD.
	op, err := v.Deposit(context.Background(), testUser, "WBTC", 50_000_000)
	if err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	if want := 20_000 * usd; op.Value != want {
		t.Fatalf("deposit valued %d, want %d", op.Value, want)
	}
	assertConservation(t, repo, []string{testUser}, []string{"WBTC"})
}

func TestPricedDepositUnsupportedAsset(t *testing.T) {
	v, _, _, custody := newPricedFixture(t, 100_000*usd)

	if _, err := v.Deposit(context.Background(), testUser, "DOGE", 1_000); !errors.Is(err, ErrAssetUnsupported) {
		t.Fatalf("expected ErrAssetUnsupported, got %v", err)
	}
	if len(custody.calls) != 0 {
		t.Fatalf("unsupported deposit must not move funds, custody calls %+v", custody.calls)
	}
}

func TestPricedRegisterAssetAuthorization(t *testing.T) {
	v, _, _, _ := newPricedFixture(t, 100_000*usd)

	err := v.RegisterAsset(context.Background(), testUser, domain.RegisterAssetRequest{Asset: "WBTC", Decimals: 8, FeedID: "wbtc-usd"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	err = v.RegisterAsset(context.Background(), testOwner, domain.RegisterAssetRequest{Asset: "USDC", Decimals: 6, FeedID: "usdc-usd"})
	if !errors.Is(err, ErrAssetProtected) {
		t.Fatalf("expected ErrAssetProtected for accounting asset, got %v", err)
	}
}

func TestPricedDeregisterAsset(t *testing.T) {
	v, _, feed, _ := newPricedFixture(t, 100_000*usd)
	feed.rounds["wbtc-usd"] = freshRound(40_000_00000000)

	if err := v.RegisterAsset(context.Background(), testOwner, domain.RegisterAssetRequest{Asset: "WBTC", Decimals: 8, FeedID: "wbtc-usd"}); err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}
	if err := v.DeregisterAsset(context.Background(), testOwner, "WBTC"); err != nil {
		t.Fatalf("DeregisterAsset returned error: %v", err)
	}
	if _, err := v.Deposit(context.Background(), testUser, "WBTC", 1_000); !errors.Is(err, ErrAssetUnsupported) {
		t.Fatalf("expected delisted asset to be rejected, got %v", err)
	}

	if err := v.DeregisterAsset(context.Background(), testOwner, "USDC"); !errors.Is(err, ErrAssetProtected) {
		t.Fatalf("expected ErrAssetProtected, got %v", err)
	}
	if err := v.DeregisterAsset(context.Background(), testOwner, "DOGE"); !errors.Is(err, ErrAssetUnsupported) {
		t.Fatalf("expected ErrAssetUnsupported for unknown asset, got %v", err)
	}
}

func TestPricedPauseGatesDepositsOnly(t *testing.T) {
	v, _, _, _ := newPricedFixture(t, 100_000*usd)

	if _, err := v.Deposit(context.Background(), testUser, "USDC", 100*usd); err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}

	if err := v.SetPaused(context.Background(), testUser, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := v.SetPaused(context.Background(), testOwner, true); err != nil {
		t.Fatalf("SetPaused returned error: %v", err)
	}

	if _, err := v.Deposit(context.Background(), testUser, "USDC", 100*usd); !errors.Is(err, ErrDepositsPaused) {
		t.Fatalf("expected ErrDepositsPaused, got %v", err)
	}
	if _, err := v.Withdraw(context.Background(), testUser, "USDC", 50*usd); err != nil {
		t.Fatalf("withdrawals must not be gated by pause, got %v", err)
	}

	if err := v.SetPaused(context.Background(), testOwner, false); err != nil {
		t.Fatalf("SetPaused returned error: %v", err)
	}
	if _, err := v.Deposit(context.Background(), testUser, "USDC", 100*usd); err != nil {
		t.Fatalf("Deposit after unpause returned error: %v", err)
	}
}

func TestPricedWithdrawCeiling(t *testing.T) {
	v, _, _, _ := newPricedFixture(t, 200_000*usd)

	if _, err := v.Deposit(context.Background(), testUser, "USDC", 60_000*usd); err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	if _, err := v.Withdraw(context.Background(), testUser, "USDC", 50_000*usd+1); !errors.Is(err, ErrWithdrawLimit) {
		t.Fatalf("expected ErrWithdrawLimit, got %v", err)
	}
	if _, err := v.Withdraw(context.Background(), testUser, "USDC", 50_000*usd); err != nil {
		t.Fatalf("ceiling-boundary withdrawal returned error: %v", err)
	}
}

func TestPricedWithdrawCeilingComparesValuation(t *testing.T) {
	v, _, feed, _ := newPricedFixture(t, 100_000*usd)
	feed.rounds["wbtc-usd"] = freshRound(40_000_00000000)

	if err := v.RegisterAsset(context.Background(), testOwner, domain.RegisterAssetRequest{
		Asset: "WBTC", Decimals: 8, FeedID: "wbtc-usd",
	}); err != nil {
		t.Fatalf("RegisterAsset returned error: %v", err)
	}

	// A whole-unit native withdrawal passes the ceiling on its valuation,
	// not on its 18-decimal raw amount.
	if _, err := v.DepositNative(context.Background(), testUser, 2*oneEth); err != nil {
		t.Fatalf("DepositNative returned error: %v", err)
	}
	if _, err := v.Withdraw(context.Background(), testUser, "ETH", oneEth); err != nil {
		t.Fatalf("whole-unit withdrawal under the ceiling returned error: %v", err)
	}

	// 2 WBTC = 80k USD on the books; 1.5 WBTC retires 60k, over the 50k limit.
	if _, err := v.Deposit(context.Background(), testUser, "WBTC", 200_000_000); err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	if _, err := v.Withdraw(context.Background(), testUser, "WBTC", 150_000_000); !errors.Is(err, ErrWithdrawLimit) {
		t.Fatalf("expected ErrWithdrawLimit, got %v", err)
	}
	// 1 WBTC retires 40k and clears.
	if _, err := v.Withdraw(context.Background(), testUser, "WBTC", 100_000_000); err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}
}

func TestPricedWithdrawInsufficientFunds(t *testing.T) {
	v, _, _, _ := newPricedFixture(t, 100_000*usd)

	if _, err := v.Withdraw(context.Background(), testUser, "USDC", 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestPricedWithdrawZeroAmount(t *testing.T) {
	v, _, _, _ := newPricedFixture(t, 100_000*usd)

	if _, err := v.Withdraw(context.Background(), testUser, "USDC", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := v.Deposit(context.Background(), testUser, "USDC", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestPricedPartialWithdrawRetiresProRataValue(t *testing.T) {
	v, repo, _, _ := newPricedFixture(t, 100_000*usd)

	if _, err := v.DepositNative(context.Background(), testUser, 2*oneEth); err != nil {
		t.Fatalf("DepositNative returned error: %v", err)
	}

	op, err := v.Withdraw(context.Background(), testUser, "ETH", oneEth)
	if err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}
	if want := 2_000 * usd; op.Value != want {
		t.Fatalf("withdrawal retired %d, want %d", op.Value, want)
	}
	assertConservation(t, repo, []string{testUser}, []string{"ETH"})
}

func TestPricedFullWithdrawLeavesNoValuationDust(t *testing.T) {
	v, repo, _, _ := newPricedFixture(t, 100_000*usd)

	// 3 wei-scale units cannot divide evenly in three withdrawals.
	if _, err := v.DepositNative(context.Background(), testUser, 3*oneEth); err != nil {
		t.Fatalf("DepositNative returned error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := v.Withdraw(context.Background(), testUser, "ETH", oneEth); err != nil {
			t.Fatalf("Withdraw returned error: %v", err)
		}
	}
	if _, err := v.Withdraw(context.Background(), testUser, "ETH", oneEth); err != nil {
		t.Fatalf("final Withdraw returned error: %v", err)
	}

	bal, _ := repo.Balance(context.Background(), testUser, "ETH")
	if bal.Native != 0 || bal.Accounted != 0 {
		t.Fatalf("full exit must clear both balance components, got %+v", bal)
	}
	total, _ := repo.TotalDeposited(context.Background())
	if total != 0 {
		t.Fatalf("full exit must clear the aggregate, got %d", total)
	}
}

func TestPricedWithdrawReleaseFailureRestoresBalance(t *testing.T) {
	v, repo, _, custody := newPricedFixture(t, 100_000*usd)

	if _, err := v.Deposit(context.Background(), testUser, "USDC", 1_000*usd); err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}

	custody.releaseErr = errors.New("rail down")
	if _, err := v.Withdraw(context.Background(), testUser, "USDC", 400*usd); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	bal, _ := repo.Balance(context.Background(), testUser, "USDC")
	if bal.Native != 1_000*usd {
		t.Fatalf("failed release must restore the balance, got %d", bal.Native)
	}
	// The failed attempt still journals both legs.
	ops, _ := repo.ListOperations(context.Background(), testUser, 10)
	if len(ops) != 3 {
		t.Fatalf("expected deposit, withdrawal and reversal in the journal, got %d entries", len(ops))
	}
	if ops[0].Kind != domain.OperationWithdrawalReversal {
		t.Fatalf("newest journal entry should be the reversal, got %s", ops[0].Kind)
	}
	assertConservation(t, repo, []string{testUser}, []string{"USDC"})
}

func TestPricedCountersAreMonotonic(t *testing.T) {
	v, repo, _, custody := newPricedFixture(t, 100_000*usd)

	if _, err := v.Deposit(context.Background(), testUser, "USDC", 100*usd); err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	if _, err := v.Withdraw(context.Background(), testUser, "USDC", 40*usd); err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}

	// A reverted withdrawal keeps its counter increment.
	custody.releaseErr = errors.New("rail down")
	if _, err := v.Withdraw(context.Background(), testUser, "USDC", 10*usd); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	counters, _ := repo.Counters(context.Background(), testUser)
	if counters.Deposits != 1 || counters.Withdrawals != 2 {
		t.Fatalf("unexpected counters %+v", counters)
	}
}

func TestPricedDepositNativeWithoutFeedConfigured(t *testing.T) {
	repo := store.NewMemoryRepository()
	v, err := NewPricedVault(Config{
		Name:               "priced",
		Owner:              testOwner,
		Capacity:           100_000 * usd,
		WithdrawCeiling:    50_000 * usd,
		AccountingAsset:    "USDC",
		AccountingDecimals: 6,
	}, repo, &pricedFeedStub{}, &pricedCustodyStub{}, nil)
	if err != nil {
		t.Fatalf("NewPricedVault returned error: %v", err)
	}

	if _, err := v.DepositNative(context.Background(), testUser, 100); !errors.Is(err, ErrAssetUnsupported) {
		t.Fatalf("expected ErrAssetUnsupported, got %v", err)
	}
}
