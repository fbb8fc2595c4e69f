package domain

// WalletRole selects one of the platform's two logical wallets on a chain.
type WalletRole string

const (
	// WalletMain funds and receives every crypto leg.
	WalletMain WalletRole = "main"
	// WalletFees accumulates collected fees until swept to main.
	WalletFees WalletRole = "fees"
)

// PlatformWallet is a platform-controlled address on one chain. CanSign is
// false for watch-only configurations where no key is available locally.
type PlatformWallet struct {
	Chain   string     `json:"chain"`
	Role    WalletRole `json:"role"`
	Address string     `json:"address"`
	CanSign bool       `json:"can_sign"`
}
