package voucher

import "strconv"

// FormatVoucher is the only token format currently produced by Decode.
const FormatVoucher = "voucher"

// Token is a validated voucher redemption token.
type Token struct {
	VoucherID string
	BuyerID   int64
	Format    string
}

// String renders the token in its plain-text wire form.
func (t Token) String() string {
	return "voucher:" + t.VoucherID + ":buyer:" + strconv.FormatInt(t.BuyerID, 10)
}
