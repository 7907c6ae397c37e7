// Package redemption posts voucher redemptions to the remote webhook.
//
// Each call is issued at most once; there is no retry. The remote service is
// the authority on voucher uniqueness, and every failure comes back as a
// scanerr.KindNetwork error carrying the message to show the operator.
package redemption
