package judge

import "time"

// Judge is a wallet authorized to vote on disputes. The set is maintained by
// an external vetting process; this package only records membership.
type Judge struct {
	WalletID string
	AddedAt  time.Time
}
