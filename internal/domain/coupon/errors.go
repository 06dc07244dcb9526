package coupon

import "errors"

var (
	ErrInvalidCoupon      = errors.New("invalid coupon")
	ErrCouponInactive     = errors.New("coupon is not active")
	ErrCouponExpired      = errors.New("coupon expired")
	ErrCouponLimitReached = errors.New("coupon redemption limit reached")
	ErrAlreadyRedeemed    = errors.New("coupon already redeemed")
)
