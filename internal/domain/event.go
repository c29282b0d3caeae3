package domain

import "time"

// EventType tags the semantic class of an on-chain event.
type EventType string

const (
	EventSwap            EventType = "swap"
	EventLpAdd           EventType = "lp_add"
	EventLpRemove        EventType = "lp_remove"
	EventPoolInit        EventType = "pool_init"
	EventFeesDistributed EventType = "fees_distributed"
	EventClaimRewards    EventType = "claim_rewards"
	EventLockLiquidity   EventType = "lock_liquidity"
	EventUnlockLiquidity EventType = "unlock_liquidity"
	EventSyncStake       EventType = "sync_stake"
	EventClosePool       EventType = "close_pool"
	EventProtocolFees    EventType = "protocol_fees"
	EventAdmin           EventType = "admin"
	EventSetup           EventType = "setup"
	EventWalletTx        EventType = "wallet_tx"
	EventUnknown         EventType = "unknown"
)

// Direction is the trade side of a swap.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionNone Direction = ""
)

// Confidence grades how the decoder arrived at a classification.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Amounts carries the raw legs of a swap where known.
// Raw integer amounts; decimals of -1 mean unknown.
type Amounts struct {
	In          uint64
	Out         uint64
	MintIn      string
	MintOut     string
	DecimalsIn  int
	DecimalsOut int
}

// Event is a classified on-chain event flowing through the pipeline.
// Type discriminates which fields are meaningful; this is the tagged
// variant of the data model, dispatched on by the fan-out predicates.
type Event struct {
	Type       EventType
	Direction  Direction
	Confidence Confidence

	PoolID    string
	Wallet    string
	Signature string
	USD       float64

	// Name carries the specific admin/setup instruction name.
	Name string

	Amounts Amounts

	// WalletTx is set only for Type == EventWalletTx.
	WalletTx *WalletTx

	Timestamp time.Time
}
