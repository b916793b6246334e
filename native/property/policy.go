package property

import "math/big"

// refundableAt returns the amount still owed back to the guest when
// cancelling at the given instant: the refund of the first milestone, in
// ascending expiry order, whose expiry lies strictly in the future. Once
// every milestone has passed nothing is refundable.
func refundableAt(policies []CancellationPolicy, now int64) *big.Int {
	for _, policy := range policies {
		if policy.ExpiryTime > now {
			if policy.RefundAmount == nil {
				return big.NewInt(0)
			}
			return new(big.Int).Set(policy.RefundAmount)
		}
	}
	return big.NewInt(0)
}

// releasableAt returns the portion of the remaining balance whose
// milestones have fully elapsed and may be paid out. A milestone counts
// as elapsed once now >= expiryTime + payoutDelay, inclusive. The
// releasable amount is the complement of what cancellation would still
// refund; after the last milestone the entire balance drains.
func releasableAt(policies []CancellationPolicy, balance *big.Int, now, payoutDelay int64) *big.Int {
	if balance == nil || balance.Sign() <= 0 {
		return big.NewInt(0)
	}
	stillRefundable := big.NewInt(0)
	for _, policy := range policies {
		if policy.ExpiryTime+payoutDelay > now {
			if policy.RefundAmount != nil {
				stillRefundable = policy.RefundAmount
			}
			break
		}
	}
	releasable := new(big.Int).Sub(balance, stillRefundable)
	if releasable.Sign() <= 0 {
		return big.NewInt(0)
	}
	return releasable
}

// splitFee divides an amount into a treasury fee (truncating basis-point
// division) and the host remainder. The host share is a subtraction, so
// truncation loss lands on the host, never on the fee or a refund.
func splitFee(amount *big.Int, feeBps uint32) (fee, host *big.Int) {
	fee = new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(feeBps)))
	fee.Div(fee, big.NewInt(10_000))
	host = new(big.Int).Sub(amount, fee)
	return fee, host
}
