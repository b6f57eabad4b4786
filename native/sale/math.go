package sale

import "math/big"

// rewardAmount converts a payment amount to a reward amount at the fixed
// rate: payment * rateScale / price, floored. Integer arithmetic throughout;
// the rounding dust stays with the issuer, so a buyer never receives more
// reward asset than the exact division yields.
func rewardAmount(payment, rateScale, price *big.Int) *big.Int {
	if payment == nil || rateScale == nil || price == nil || price.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(payment, rateScale)
	return out.Quo(out, price)
}
