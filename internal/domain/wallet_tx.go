package domain

import "time"

// TokenTransfer is a single token leg of a wallet transaction.
type TokenTransfer struct {
	Mint     string
	Amount   uint64 // raw amount
	Decimals int    // -1 when unknown
	Inflow   bool   // true when the tracked wallet receives
}

// WalletTx is a transaction observed on the wallet feed, reduced to the
// legs needed for USD attribution.
type WalletTx struct {
	Signature string
	Wallet    string
	// Lamports is the absolute native transfer amount touching the wallet.
	Lamports  uint64
	Transfers []TokenTransfer
	// ViaDEX marks transactions whose account keys touch the DEX program
	// or one of its pools.
	ViaDEX    bool
	Timestamp time.Time
}

// IsSwapShaped reports whether both an inflow and an outflow token leg are
// present. Only then is the summed USD halved during attribution; one-sided
// transfers are attributed in full.
func (t *WalletTx) IsSwapShaped() bool {
	var in, out bool
	for _, tr := range t.Transfers {
		if tr.Inflow {
			in = true
		} else {
			out = true
		}
	}
	return in && out
}
