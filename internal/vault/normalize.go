/**
 * @description
 * Fixed-point arithmetic helpers shared by both vaults. All monetary math is
 * integer-only; divisions truncate. Intermediate products run through
 * math/big so an 18-decimal amount multiplied by a feed price cannot
 * silently wrap before the final range check.
 */

package vault

import (
	"fmt"
	"math"
	"math/big"

	"github.com/kipubank/vault-service/internal/domain"
)

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// normalizeAmount rescales amount from `from` decimal places to `to` decimal
// places. Scaling up multiplies by a power of ten and is lossless; scaling
// down divides and truncates. The result must fit in uint64.
func normalizeAmount(amount uint64, from, to uint8) (uint64, error) {
	if from == to {
		return amount, nil
	}
	v := new(big.Int).SetUint64(amount)
	if from < to {
		v.Mul(v, pow10(to-from))
	} else {
		v.Quo(v, pow10(from-to))
	}
	if v.Cmp(maxUint64) > 0 {
		return 0, fmt.Errorf("%w: normalized amount out of range", ErrConversionFailed)
	}
	return v.Uint64(), nil
}

// validateRound enforces the freshness invariants on a price feed round: the
// feed must have answered at least once, the answer must belong to the round
// it was requested in, and the price must be positive.
func validateRound(round domain.FeedRound) error {
	if round.UpdatedAt == 0 {
		return fmt.Errorf("%w: round never updated", ErrStalePrice)
	}
	if round.AnsweredInRound < round.RoundID {
		return fmt.Errorf("%w: answered in round %d before round %d", ErrStalePrice, round.AnsweredInRound, round.RoundID)
	}
	if round.Price <= 0 {
		return fmt.Errorf("%w: non-positive price %d", ErrStalePrice, round.Price)
	}
	return nil
}

// valuation converts an asset amount into accounting-currency units using a
// validated feed round: normalize the amount from the asset's precision to
// the accounting precision, multiply by the price, divide by 10^feedDecimals.
// Both divisions truncate.
func valuation(amount uint64, assetDecimals uint8, round domain.FeedRound, accountingDecimals uint8) (uint64, error) {
	if err := validateRound(round); err != nil {
		return 0, err
	}
	normalized, err := normalizeAmount(amount, assetDecimals, accountingDecimals)
	if err != nil {
		return 0, err
	}
	v := new(big.Int).SetUint64(normalized)
	v.Mul(v, big.NewInt(round.Price))
	v.Quo(v, pow10(round.Decimals))
	if v.Cmp(maxUint64) > 0 {
		return 0, fmt.Errorf("%w: valuation out of range", ErrConversionFailed)
	}
	return v.Uint64(), nil
}

// proRataValue computes the accounting-unit share of a partial withdrawal:
// accounted * amount / native, truncating. Withdrawing the entire native
// balance releases the entire accounted value so no valuation dust is left
// behind on the bank aggregate.
func proRataValue(bal domain.Balance, amount uint64) uint64 {
	if amount >= bal.Native {
		return bal.Accounted
	}
	v := new(big.Int).SetUint64(bal.Accounted)
	v.Mul(v, new(big.Int).SetUint64(amount))
	v.Quo(v, new(big.Int).SetUint64(bal.Native))
	return v.Uint64()
}
