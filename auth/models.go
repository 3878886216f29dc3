package auth

import "time"

// Account ties a login to a wallet. The wallet id doubles as the account's
// identity everywhere else in the system.
type Account struct {
	WalletID     string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// RegisterRequest contains sign-up data supplied by callers.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
