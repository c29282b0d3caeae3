package decoder

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"dlmm-tracker/internal/domain"
)

const (
	primaryMint = "PRimARYminTxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
	quoteMint   = "So11111111111111111111111111111111111111112"
)

func testDecoder() *Decoder {
	pools := map[string]*domain.Pool{
		"POOL1": {ID: "POOL1", Base: primaryMint, Quote: quoteMint, IsPrimary: true},
	}
	return New(primaryMint, func(id string) *domain.Pool { return pools[id] })
}

func mustParse(t *testing.T, raw string) Message {
	t.Helper()
	msg, err := ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return msg
}

func TestSwapDiscriminatorVector(t *testing.T) {
	want := [8]byte{248, 198, 158, 145, 225, 117, 135, 200}
	if got := Discriminator("global", "swap"); got != want {
		t.Fatalf("swap discriminator = %v, want %v", got, want)
	}
}

func TestDiscriminatorRoundTrip(t *testing.T) {
	for name, m := range instructionNames {
		d := Discriminator("global", name)
		got, ok := LookupInstruction(d[:])
		if !ok {
			t.Errorf("instruction %q not resolved from its own discriminator", name)
			continue
		}
		if got.Type != m.Type {
			t.Errorf("instruction %q: type %q, want %q", name, got.Type, m.Type)
		}
	}
	for name, m := range eventNames {
		d := Discriminator("event", name)
		got, ok := LookupEvent(d[:])
		if !ok {
			t.Errorf("event %q not resolved from its own discriminator", name)
			continue
		}
		if got.Type != m.Type {
			t.Errorf("event %q: type %q, want %q", name, got.Type, m.Type)
		}
	}
}

func TestLookupInstruction_ShortData(t *testing.T) {
	if _, ok := LookupInstruction([]byte{1, 2, 3}); ok {
		t.Fatal("short data must not classify")
	}
}

func TestDecode_ExplicitLabel(t *testing.T) {
	tests := []struct {
		label    string
		wantType domain.EventType
		wantDir  domain.Direction
	}{
		{"swap", domain.EventSwap, domain.DirectionNone},
		{"buy", domain.EventSwap, domain.DirectionBuy},
		{"sell", domain.EventSwap, domain.DirectionSell},
		{"add_liquidity2", domain.EventLpAdd, domain.DirectionNone},
		{"remove-liquidity", domain.EventLpRemove, domain.DirectionNone},
		{"Pool_Created", domain.EventPoolInit, domain.DirectionNone},
		{"liquidity_deposited", domain.EventLpAdd, domain.DirectionNone},
		{"close_pool", domain.EventClosePool, domain.DirectionNone},
	}
	d := testDecoder()
	for _, tc := range tests {
		ev := d.Decode(Message{"type": tc.label, "signature": "sig1"})
		if ev.Type != tc.wantType {
			t.Errorf("label %q: type %q, want %q", tc.label, ev.Type, tc.wantType)
		}
		if ev.Confidence != domain.ConfidenceHigh {
			t.Errorf("label %q: confidence %q, want high", tc.label, ev.Confidence)
		}
		if tc.wantDir != domain.DirectionNone && ev.Direction != tc.wantDir {
			t.Errorf("label %q: direction %q, want %q", tc.label, ev.Direction, tc.wantDir)
		}
	}
}

/// Exact matching is load bearing here: a substring match would resolve
// "unlock_liquidity" to the lock class.
func TestDecode_LockVsUnlock(t *testing.T) {
	d := testDecoder()
	if ev := d.Decode(Message{"type": "lock_liquidity"}); ev.Type != domain.EventLockLiquidity {
		t.Errorf("lock_liquidity classified as %q", ev.Type)
	}
	if ev := d.Decode(Message{"type": "unlock_liquidity"}); ev.Type != domain.EventUnlockLiquidity {
		t.Errorf("unlock_liquidity classified as %q", ev.Type)
	}
}

func TestDecode_UnknownLabelFallsThrough(t *testing.T) {
	d := testDecoder()
	ev := d.Decode(Message{"type": "somethingElse", "side": "buy"})
	if ev.Type != domain.EventSwap || ev.Confidence != domain.ConfidenceLow {
		t.Fatalf("got type=%q confidence=%q, want low-confidence swap", ev.Type, ev.Confidence)
	}
}

func TestDecode_InstructionData(t *testing.T) {
	d := testDecoder()
	disc := Discriminator("global", "initialize_pool")
	msg := Message{
		"instruction_data": base64.StdEncoding.EncodeToString(append(disc[:], 0xAA, 0xBB)),
	}
	ev := d.Decode(msg)
	if ev.Type != domain.EventPoolInit || ev.Confidence != domain.ConfidenceHigh {
		t.Fatalf("got %q/%q, want pool_init/high", ev.Type, ev.Confidence)
	}
}

func TestDecode_ProgramDataLog(t *testing.T) {
	d := testDecoder()
	disc := Discriminator("event", "LiquidityDeposited")
	payload := base64.StdEncoding.EncodeToString(append(disc[:], 1, 2, 3))
	raw, _ := json.Marshal(map[string]any{
		"signature": "sig2",
		"logs": []string{
			"Program Dxyz invoke [1]",
			"Program log: Instruction: AddLiquidity2",
			"Program data: " + payload,
			"Program Dxyz success",
		},
	})
	ev := d.Decode(mustParse(t, string(raw)))
	if ev.Type != domain.EventLpAdd {
		t.Fatalf("got type %q, want lp_add", ev.Type)
	}
	if ev.Confidence != domain.ConfidenceHigh {
		t.Fatalf("got confidence %q, want high", ev.Confidence)
	}
	if ev.Signature != "sig2" {
		t.Fatalf("got signature %q", ev.Signature)
	}
}

func TestDecode_Heuristics(t *testing.T) {
	d := testDecoder()

	if ev := d.Decode(Message{"shares_minted": float64(100)}); ev.Type != domain.EventLpAdd || ev.Confidence != domain.ConfidenceMedium {
		t.Errorf("shares_minted: %q/%q", ev.Type, ev.Confidence)
	}
	if ev := d.Decode(Message{"sharesBurned": float64(50)}); ev.Type != domain.EventLpRemove {
		t.Errorf("sharesBurned: %q", ev.Type)
	}

	ev := d.Decode(Message{
		"amount_in":  float64(1000),
		"amount_out": float64(2000),
		"mint_in":    quoteMint,
		"mint_out":   primaryMint,
	})
	if ev.Type != domain.EventSwap || ev.Confidence != domain.ConfidenceMedium {
		t.Errorf("two-leg swap: %q/%q", ev.Type, ev.Confidence)
	}
	if ev.Direction != domain.DirectionBuy {
		t.Errorf("two-leg swap direction: %q, want buy", ev.Direction)
	}

	if ev := d.Decode(Message{"base_amount": float64(5), "quote_amount": float64(7)}); ev.Type != domain.EventLpAdd {
		t.Errorf("base+quote without withdraw marker: %q, want lp_add", ev.Type)
	}
	if ev := d.Decode(Message{"base_amount": float64(5), "quote_amount": float64(7), "is_withdraw": true}); ev.Type != domain.EventLpRemove {
		t.Errorf("base+quote with withdraw marker: %q, want lp_remove", ev.Type)
	}
}

func TestDecode_SwapDirection(t *testing.T) {
	d := testDecoder()

	// Explicit side always wins over mint inference.
	ev := d.Decode(Message{
		"type":     "swap",
		"side":     "sell",
		"mint_in":  quoteMint,
		"mint_out": primaryMint,
	})
	if ev.Direction != domain.DirectionSell {
		t.Errorf("explicit side: %q, want sell", ev.Direction)
	}

	// Pool base/quote comparison.
	ev = d.Decode(Message{
		"type":     "swap",
		"pool":     "POOL1",
		"mint_in":  primaryMint,
		"mint_out": quoteMint,
	})
	if ev.Direction != domain.DirectionSell {
		t.Errorf("base in, quote out: %q, want sell", ev.Direction)
	}

	// No pool: primary-mint fallback.
	ev = d.Decode(Message{
		"type":     "swap",
		"mint_in":  "OTHERMINT",
		"mint_out": primaryMint,
	})
	if ev.Direction != domain.DirectionBuy {
		t.Errorf("primary out: %q, want buy", ev.Direction)
	}

	// Nothing to infer from.
	ev = d.Decode(Message{"type": "swap"})
	if ev.Direction != domain.DirectionNone {
		t.Errorf("no mints: %q, want none", ev.Direction)
	}
}

func TestDecode_NestedContainer(t *testing.T) {
	d := testDecoder()
	raw := `{"type":"trade","data":{"txSignature":"abc","side":"buy","poolAddress":"POOL1"}}`
	ev := d.Decode(mustParse(t, raw))
	if ev.Type != domain.EventSwap || ev.Direction != domain.DirectionBuy {
		t.Fatalf("got %q/%q", ev.Type, ev.Direction)
	}
	if ev.Signature != "abc" {
		t.Errorf("signature %q, want abc", ev.Signature)
	}
	if ev.PoolID != "POOL1" {
		t.Errorf("pool %q, want POOL1", ev.PoolID)
	}
}

func TestDecode_Unclassifiable(t *testing.T) {
	d := testDecoder()
	ev := d.Decode(Message{"foo": "bar"})
	if ev.Type != domain.EventUnknown {
		t.Fatalf("got %q, want unknown", ev.Type)
	}
}

func TestIsHeartbeat(t *testing.T) {
	for _, raw := range []string{`{"type":"ping"}`, `{"method":"pong"}`, `{"event":"heartbeat"}`} {
		if !IsHeartbeat(mustParse(t, raw)) {
			t.Errorf("%s: expected heartbeat", raw)
		}
	}
	if IsHeartbeat(Message{"type": "swap"}) {
		t.Error("swap flagged as heartbeat")
	}
}

func TestExtractTimestamp(t *testing.T) {
	sec := d0().Decode(Message{"timestamp": float64(1700000000)})
	if sec.Timestamp.Unix() != 1700000000 {
		t.Errorf("seconds: got %v", sec.Timestamp)
	}
	ms := d0().Decode(Message{"timestamp": float64(1700000000123)})
	if ms.Timestamp.UnixMilli() != 1700000000123 {
		t.Errorf("millis: got %v", ms.Timestamp)
	}
}

func d0() *Decoder { return New("", nil) }
