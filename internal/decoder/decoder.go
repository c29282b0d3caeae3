// Package decoder classifies raw DEX and wallet feed payloads into
// semantic events using an ordered cascade: explicit labels, instruction
// discriminators, event-log discriminators, structural heuristics, and
// finally a bare trade-side tag.
package decoder

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"dlmm-tracker/internal/domain"
)

// programDataMarker prefixes event payload lines in transaction logs.
const programDataMarker = "Program data: "

// Decoder turns messages into tagged semantic events.
type Decoder struct {
	primaryMint string
	lookupPool  func(id string) *domain.Pool
}

// New creates a decoder. lookupPool may be nil; direction inference then
// falls back to the primary-token rules only.
func New(primaryMint string, lookupPool func(id string) *domain.Pool) *Decoder {
	return &Decoder{primaryMint: primaryMint, lookupPool: lookupPool}
}

// Decode classifies a message. The result is never nil; unclassifiable
// input yields an Unknown event, which matches no subscriber predicate.
func (d *Decoder) Decode(msg Message) *domain.Event {
	ev := &domain.Event{
		Type:      domain.EventUnknown,
		Timestamp: extractTimestamp(msg),
	}
	d.extractCommon(msg, ev)

	// 1. Explicit label fields.
	if label := msg.Str("type", "event_name", "action", "instruction_name", "name"); label != "" {
		if m, ok := labelTable[normalizeLabel(label)]; ok {
			d.apply(ev, msg, m, domain.ConfidenceHigh)
			return ev
		}
	}

	// 2. Instruction discriminator.
	if data := decodeBlob(msg.Str("instruction_data", "data_base64", "ix_data")); data != nil {
		if m, ok := LookupInstruction(data); ok {
			d.apply(ev, msg, m, domain.ConfidenceHigh)
			return ev
		}
	}

	// 3. Event discriminator from program-data log lines.
	for _, line := range msg.Logs() {
		idx := strings.Index(line, programDataMarker)
		if idx < 0 {
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[idx+len(programDataMarker):]))
		if err != nil {
			continue
		}
		if m, ok := LookupEvent(payload); ok {
			d.apply(ev, msg, m, domain.ConfidenceHigh)
			return ev
		}
	}

	// 4. Structural heuristics.
	if msg.Has("shares_minted") {
		d.apply(ev, msg, mapping{Type: domain.EventLpAdd}, domain.ConfidenceMedium)
		return ev
	}
	if msg.Has("shares_burned") {
		d.apply(ev, msg, mapping{Type: domain.EventLpRemove}, domain.ConfidenceMedium)
		return ev
	}
	if ev.Amounts.In > 0 && ev.Amounts.Out > 0 &&
		ev.Amounts.MintIn != "" && ev.Amounts.MintOut != "" &&
		ev.Amounts.MintIn != ev.Amounts.MintOut {
		d.apply(ev, msg, mapping{Type: domain.EventSwap}, domain.ConfidenceMedium)
		return ev
	}
	if msg.Has("base_amount", "amount_base") && msg.Has("quote_amount", "amount_quote") {
		t := domain.EventLpAdd
		if msg.Truthy("is_withdraw", "withdraw", "remove") {
			t = domain.EventLpRemove
		}
		d.apply(ev, msg, mapping{Type: t}, domain.ConfidenceMedium)
		return ev
	}

	// 5. Bare trade-side tag.
	if side := extractSide(msg); side != domain.DirectionNone {
		d.apply(ev, msg, mapping{Type: domain.EventSwap, Direction: side}, domain.ConfidenceLow)
		return ev
	}

	return ev
}

// apply finalizes the classification on ev.
func (d *Decoder) apply(ev *domain.Event, msg Message, m mapping, conf domain.Confidence) {
	ev.Type = m.Type
	ev.Confidence = conf
	ev.Name = m.Name
	if ev.Type == domain.EventSwap {
		ev.Direction = m.Direction
		if ev.Direction == domain.DirectionNone {
			ev.Direction = d.swapDirection(msg, ev)
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
}

// swapDirection resolves a swap's side. An explicit side field wins;
// otherwise mints are compared against the pool's base/quote and the
// primary token, in that precedence.
func (d *Decoder) swapDirection(msg Message, ev *domain.Event) domain.Direction {
	if side := extractSide(msg); side != domain.DirectionNone {
		return side
	}

	in, out := ev.Amounts.MintIn, ev.Amounts.MintOut
	if in == "" && out == "" {
		return domain.DirectionNone
	}

	if d.lookupPool != nil && ev.PoolID != "" {
		if pool := d.lookupPool(ev.PoolID); pool != nil {
			if in == pool.Quote && out == pool.Base {
				return domain.DirectionBuy
			}
			if in == pool.Base && out == pool.Quote {
				return domain.DirectionSell
			}
		}
	}
	if d.primaryMint != "" {
		if out == d.primaryMint {
			return domain.DirectionBuy
		}
		if in == d.primaryMint {
			return domain.DirectionSell
		}
	}
	return domain.DirectionNone
}

// extractCommon pulls identifiers and amounts shared by every variant.
func (d *Decoder) extractCommon(msg Message, ev *domain.Event) {
	ev.Signature = ExtractSignature(msg)
	ev.PoolID = msg.Str("pool", "pool_id", "pool_address", "pair", "pair_id", "pair_address")
	ev.Wallet = msg.Str("wallet", "owner", "user", "trader", "wallet_address", "maker")

	ev.Amounts.In, _ = msg.Uint("amount_in", "in_amount", "input_amount")
	ev.Amounts.Out, _ = msg.Uint("amount_out", "out_amount", "output_amount")
	ev.Amounts.MintIn = msg.Str("mint_in", "input_mint", "token_in", "in_mint")
	ev.Amounts.MintOut = msg.Str("mint_out", "output_mint", "token_out", "out_mint")

	ev.Amounts.DecimalsIn = -1
	ev.Amounts.DecimalsOut = -1
	if dec, ok := msg.Int("decimals_in", "in_decimals", "input_decimals"); ok {
		ev.Amounts.DecimalsIn = dec
	}
	if dec, ok := msg.Int("decimals_out", "out_decimals", "output_decimals"); ok {
		ev.Amounts.DecimalsOut = dec
	}
}

// ExtractSignature returns the dedup key of a message, if any.
func ExtractSignature(msg Message) string {
	return msg.Str("signature", "sig", "tx_signature", "txid", "tx_hash", "transaction_signature")
}

// IsHeartbeat reports whether the frame is a keepalive to drop.
func IsHeartbeat(msg Message) bool {
	switch strings.ToLower(msg.Str("type", "method", "event")) {
	case "ping", "pong", "heartbeat":
		return true
	}
	return false
}

func extractSide(msg Message) domain.Direction {
	switch strings.ToLower(msg.Str("side", "trade_type", "tradetype")) {
	case "buy":
		return domain.DirectionBuy
	case "sell":
		return domain.DirectionSell
	}
	return domain.DirectionNone
}

func extractTimestamp(msg Message) time.Time {
	f, ok := msg.Float("timestamp", "block_time", "time")
	if !ok || f <= 0 {
		return time.Time{}
	}
	// Values past ~2001-09 in ms are treated as milliseconds.
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	return time.Unix(int64(f), 0).UTC()
}

// decodeBlob decodes base64, falling back to hex.
func decodeBlob(s string) []byte {
	if s == "" {
		return nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(s, "0x")); err == nil {
		return b
	}
	return nil
}

// labelTable resolves explicit label fields. Matching is exact on the
// normalized label, never substring: "lock_liquidity" must not match
// inside "unlock_liquidity".
var labelTable = buildLabelTable()

func buildLabelTable() map[string]mapping {
	table := make(map[string]mapping)
	for name, m := range instructionNames {
		m.Name = name
		table[name] = m
	}
	for name, m := range eventNames {
		m.Name = name
		table[camelToSnake(name)] = m
	}
	// Additional labels seen on structured feed messages.
	table["buy"] = mapping{Type: domain.EventSwap, Direction: domain.DirectionBuy}
	table["sell"] = mapping{Type: domain.EventSwap, Direction: domain.DirectionSell}
	table["trade"] = mapping{Type: domain.EventSwap}
	table["add_liquidity"] = mapping{Type: domain.EventLpAdd}
	table["deposit"] = mapping{Type: domain.EventLpAdd}
	table["remove_liquidity"] = mapping{Type: domain.EventLpRemove}
	table["pool_created"] = mapping{Type: domain.EventPoolInit}
	table["claim_rewards"] = mapping{Type: domain.EventClaimRewards}
	return table
}

func normalizeLabel(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
