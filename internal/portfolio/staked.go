package portfolio

import (
	"context"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/rpc"
)

// StakeVault describes one stake vault: depositors send the underlying
// token and receive receipt tokens representing their share.
type StakeVault struct {
	// Name labels the vault in snapshots.
	Name string
	// ReceiptMint is the share token minted to stakers.
	ReceiptMint string
	// UnderlyingMint is the staked token.
	UnderlyingMint string
	// VaultAccount is the token account holding the vault's underlying
	// balance.
	VaultAccount string
}

// stakedPositions resolves the wallet's stake-vault positions. Results
// are cached for 10 minutes per wallet.
func (e *Engine) stakedPositions(ctx context.Context, wallet string, data *walletData) []domain.StakedPosition {
	if len(e.vaults) == 0 {
		return nil
	}
	if cached, ok := e.staked.Get(wallet); ok {
		return cached
	}

	receiptHoldings := make(map[string]float64)
	for _, acc := range data.balances.accounts {
		if acc.UIAmount > 0 {
			receiptHoldings[acc.Mint] = acc.UIAmount
		}
	}

	var positions []domain.StakedPosition
	for _, vault := range e.vaults {
		receipts, ok := receiptHoldings[vault.ReceiptMint]
		if !ok {
			continue
		}
		pos, ok := e.vaultPosition(ctx, wallet, vault, receipts, data)
		if ok {
			positions = append(positions, pos)
		}
	}
	e.staked.Set(wallet, positions)
	return positions
}

// vaultPosition computes the wallet's share of one vault: amount is
// share_of_receipt_supply x vault underlying balance.
func (e *Engine) vaultPosition(ctx context.Context, wallet string, vault StakeVault, receipts float64, data *walletData) (domain.StakedPosition, bool) {
	supply, _, err := e.chain.GetTokenSupply(ctx, vault.ReceiptMint)
	if err != nil || supply <= 0 {
		return domain.StakedPosition{}, false
	}
	vaultBalance, _, err := e.chain.GetTokenAccountBalance(ctx, vault.VaultAccount)
	if err != nil || vaultBalance <= 0 {
		return domain.StakedPosition{}, false
	}

	amount := receipts / supply * vaultBalance
	pos := domain.StakedPosition{
		Vault:  vault.Name,
		Mint:   vault.UnderlyingMint,
		Symbol: e.prices.Symbol(vault.UnderlyingMint),
		Amount: amount,
	}
	price, priced := e.prices.Price(ctx, vault.UnderlyingMint)
	if priced {
		pos.ValueUSD = amount * price
	}

	pos.OriginalStakeUSD = e.originalStakeUSD(ctx, wallet, vault, data, pos.ValueUSD)
	return pos, true
}

// originalStakeUSD scans recent history for the deposit shape: an outflow
// of the underlying paired with an inflow of the receipt token in one
// transaction. When no such pair is found, the current value stands in.
// Cached per wallet+vault for the staked window.
func (e *Engine) originalStakeUSD(ctx context.Context, wallet string, vault StakeVault, data *walletData, fallback float64) float64 {
	key := wallet + ":" + vault.ReceiptMint
	if cached, ok := e.originalStake.Get(key); ok {
		return cached
	}

	var original float64
	for _, tx := range data.history {
		var outUnderlying uint64
		var outDecimals int
		var gotReceipt bool
		for _, leg := range rpc.WalletTxFrom(tx, wallet).Transfers {
			if leg.Mint == vault.UnderlyingMint && !leg.Inflow {
				outUnderlying = leg.Amount
				outDecimals = leg.Decimals
			}
			if leg.Mint == vault.ReceiptMint && leg.Inflow {
				gotReceipt = true
			}
		}
		if gotReceipt && outUnderlying > 0 {
			if price, ok := e.prices.Price(ctx, vault.UnderlyingMint); ok {
				original += uiAmount(outUnderlying, e.decimalsFor(vault.UnderlyingMint, outDecimals)) * price
			}
		}
	}

	if original == 0 {
		original = fallback
	}
	e.originalStake.Set(key, original)
	return original
}
