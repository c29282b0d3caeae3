package rpc

import (
	"time"

	"dlmm-tracker/internal/domain"
)

// TokenProgramID is the SPL token program.
const TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

// Transaction is a confirmed transaction reduced to what the tracker reads.
type Transaction struct {
	Signature   string
	Slot        int64
	BlockTime   time.Time
	Failed      bool
	Logs        []string
	AccountKeys []string

	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TokenBalance is one entry of pre/postTokenBalances.
type TokenBalance struct {
	AccountIndex int         `json:"accountIndex"`
	Mint         string      `json:"mint"`
	Owner        string      `json:"owner"`
	UITokenAmt   tokenAmount `json:"uiTokenAmount"`
}

// SignatureInfo is one row of getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime time.Time
	Failed    bool
}

// TokenAccount is one parsed token account of an owner.
type TokenAccount struct {
	Address  string
	Mint     string
	Amount   uint64
	UIAmount float64
	Decimals int
}

// WalletTxFrom reduces a confirmed transaction to the token legs touching
// wallet. Each mint whose owner balance changed becomes one transfer;
// lamport movement is taken from the wallet's native balance delta.
func WalletTxFrom(tx *Transaction, wallet string) *domain.WalletTx {
	if tx == nil {
		return nil
	}

	out := &domain.WalletTx{
		Signature: tx.Signature,
		Wallet:    wallet,
		Timestamp: tx.BlockTime,
	}

	type balance struct {
		amount   uint64
		decimals int
	}
	pre := make(map[string]balance)
	for _, b := range tx.PreTokenBalances {
		if b.Owner != wallet {
			continue
		}
		amt, _ := parseUintString(b.UITokenAmt.Amount)
		pre[b.Mint] = balance{amount: amt, decimals: b.UITokenAmt.Decimals}
	}

	seen := make(map[string]bool)
	for _, b := range tx.PostTokenBalances {
		if b.Owner != wallet {
			continue
		}
		seen[b.Mint] = true
		post, _ := parseUintString(b.UITokenAmt.Amount)
		prev := pre[b.Mint]
		switch {
		case post > prev.amount:
			out.Transfers = append(out.Transfers, domain.TokenTransfer{
				Mint:     b.Mint,
				Amount:   post - prev.amount,
				Decimals: b.UITokenAmt.Decimals,
				Inflow:   true,
			})
		case post < prev.amount:
			out.Transfers = append(out.Transfers, domain.TokenTransfer{
				Mint:     b.Mint,
				Amount:   prev.amount - post,
				Decimals: b.UITokenAmt.Decimals,
				Inflow:   false,
			})
		}
	}
	// Accounts emptied and closed only appear on the pre side.
	for mint, prev := range pre {
		if seen[mint] || prev.amount == 0 {
			continue
		}
		out.Transfers = append(out.Transfers, domain.TokenTransfer{
			Mint:     mint,
			Amount:   prev.amount,
			Decimals: prev.decimals,
			Inflow:   false,
		})
	}

	// Native delta for the wallet's own account key.
	for i, key := range tx.AccountKeys {
		if key != wallet {
			continue
		}
		if i < len(tx.PreBalances) && i < len(tx.PostBalances) {
			preBal, postBal := tx.PreBalances[i], tx.PostBalances[i]
			if postBal > preBal {
				out.Lamports = postBal - preBal
			} else {
				out.Lamports = preBal - postBal
			}
		}
		break
	}

	return out
}
