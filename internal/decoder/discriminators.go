package decoder

import (
	"crypto/sha256"

	"dlmm-tracker/internal/domain"
)

// Discriminators are the 8-byte prefixes the program derives from
// namespaced names: sha256("global:<name>") for instructions and
// sha256("event:<Name>") for events emitted as program-data logs.

// DiscriminatorLen is the prefix length used for classification.
const DiscriminatorLen = 8

// Discriminator computes the 8-byte prefix for a namespaced name.
func Discriminator(namespace, name string) [DiscriminatorLen]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d [DiscriminatorLen]byte
	copy(d[:], sum[:DiscriminatorLen])
	return d
}

// mapping is the classification an instruction or event name resolves to.
type mapping struct {
	Type      domain.EventType
	Direction domain.Direction
	Name      string
}

// instructionNames maps known instruction names to their semantic class.
var instructionNames = map[string]mapping{
	"swap":                   {Type: domain.EventSwap},
	"add_liquidity2":         {Type: domain.EventLpAdd},
	"add_liquidity_batch":    {Type: domain.EventLpAdd},
	"initialize_position":    {Type: domain.EventLpAdd},
	"withdraw":               {Type: domain.EventLpRemove},
	"close_position":         {Type: domain.EventLpRemove},
	"lock_liquidity":         {Type: domain.EventLockLiquidity},
	"unlock_liquidity":       {Type: domain.EventUnlockLiquidity},
	"initialize_pool":        {Type: domain.EventPoolInit},
	"close_pool":             {Type: domain.EventClosePool},
	"claim_protocol_fees":    {Type: domain.EventProtocolFees},
	"transfer_protocol_fees": {Type: domain.EventProtocolFees},
	"claim_holder_rewards":   {Type: domain.EventClaimRewards},
	"claim_nft_rewards":      {Type: domain.EventClaimRewards},
	"sync_holder_stake":      {Type: domain.EventSyncStake},

	// Admin family.
	"update_admin":       {Type: domain.EventAdmin},
	"update_authorities": {Type: domain.EventAdmin},
	"update_fee_config":  {Type: domain.EventAdmin},
	"set_pause":          {Type: domain.EventAdmin},
	"set_pause_bits":     {Type: domain.EventAdmin},
	"unpause_override":   {Type: domain.EventAdmin},

	// Setup family.
	"create_bin_array":                {Type: domain.EventSetup},
	"initialize_oracle":               {Type: domain.EventSetup},
	"initialize_position_bin":         {Type: domain.EventSetup},
	"initialize_farming_global_state": {Type: domain.EventSetup},
	"initialize_staking_global_state": {Type: domain.EventSetup},
	"initialize_user_farming_state":   {Type: domain.EventSetup},
	"initialize_user_staking_state":   {Type: domain.EventSetup},
	"view_farming_position":           {Type: domain.EventSetup},
}

// eventNames maps known program-data event names to their semantic class.
var eventNames = map[string]mapping{
	"SwapExecuted":            {Type: domain.EventSwap},
	"LiquidityDeposited":      {Type: domain.EventLpAdd},
	"LiquidityWithdrawnUser":  {Type: domain.EventLpRemove},
	"LiquidityWithdrawnAdmin": {Type: domain.EventLpRemove},
	"PoolInitialized":         {Type: domain.EventPoolInit},
	"FeesDistributed":         {Type: domain.EventFeesDistributed},
	"LiquidityLocked":         {Type: domain.EventLockLiquidity},
	"ClaimHolderRewardsEvent": {Type: domain.EventClaimRewards},
	"SyncHolderStakeEvent":    {Type: domain.EventSyncStake},
	"AdminUpdated":            {Type: domain.EventAdmin},
	"AuthoritiesUpdated":      {Type: domain.EventAdmin},
	"FeeConfigUpdated":        {Type: domain.EventAdmin},
	"PauseUpdated":            {Type: domain.EventAdmin},
	"BinArrayCreated":         {Type: domain.EventSetup},
	"LiquidityBinCreated":     {Type: domain.EventSetup},
	"PairRegistered":          {Type: domain.EventSetup},
}

var (
	instructionTable = buildTable("global", instructionNames)
	eventTable       = buildTable("event", eventNames)
)

func buildTable(namespace string, names map[string]mapping) map[[DiscriminatorLen]byte]mapping {
	table := make(map[[DiscriminatorLen]byte]mapping, len(names))
	for name, m := range names {
		m.Name = name
		table[Discriminator(namespace, name)] = m
	}
	return table
}

// LookupInstruction classifies the 8-byte prefix of instruction data.
func LookupInstruction(data []byte) (mapping, bool) {
	if len(data) < DiscriminatorLen {
		return mapping{}, false
	}
	var d [DiscriminatorLen]byte
	copy(d[:], data[:DiscriminatorLen])
	m, ok := instructionTable[d]
	return m, ok
}

// LookupEvent classifies the 8-byte prefix of a decoded program-data log.
func LookupEvent(data []byte) (mapping, bool) {
	if len(data) < DiscriminatorLen {
		return mapping{}, false
	}
	var d [DiscriminatorLen]byte
	copy(d[:], data[:DiscriminatorLen])
	m, ok := eventTable[d]
	return m, ok
}
