// Package ingest is the spine of the tracker: raw feed frames come in,
// classified, deduplicated, USD-valued events go out to the fan-out.
package ingest

import (
	"context"
	"log"

	"dlmm-tracker/internal/decoder"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/observability"
	"dlmm-tracker/internal/rpc"
	"dlmm-tracker/internal/seen"
	"dlmm-tracker/internal/valuation"
)

// Dispatcher receives finished events; the fan-out engine implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *domain.Event) int
}

// TxFetcher resolves a signature to a confirmed transaction for wallet
// enrichment.
type TxFetcher interface {
	GetTransaction(ctx context.Context, signature string) (*rpc.Transaction, error)
}

// DEXCheck reports whether an account list touches the DEX program; the
// pool registry implements it.
type DEXCheck interface {
	IsDEXTransaction(accounts []string) bool
}

// Pipeline wires decode, dedup, valuation, and dispatch.
type Pipeline struct {
	decoder    *decoder.Decoder
	seen       *seen.Tracker
	valuer     *valuation.Valuer
	dispatcher Dispatcher
	chain      TxFetcher
	dex        DEXCheck
	logger     *log.Logger
}

// Options configures a Pipeline.
type Options struct {
	Decoder    *decoder.Decoder
	Seen       *seen.Tracker
	Valuer     *valuation.Valuer
	Dispatcher Dispatcher
	Chain      TxFetcher
	// DEX tags wallet transactions that touch the DEX. Optional.
	DEX    DEXCheck
	Logger *log.Logger
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		decoder:    opts.Decoder,
		seen:       opts.Seen,
		valuer:     opts.Valuer,
		dispatcher: opts.Dispatcher,
		chain:      opts.Chain,
		dex:        opts.DEX,
		logger:     logger,
	}
}

// HandleDEX processes one DEX feed frame. The dedup write happens before
// decode and valuation so a concurrent duplicate cannot fan out twice.
func (p *Pipeline) HandleDEX(ctx context.Context, msg decoder.Message) {
	if decoder.IsHeartbeat(msg) {
		return
	}
	if sig := decoder.ExtractSignature(msg); sig != "" {
		if !p.seen.FirstSeen(ctx, sig, domain.AlertSourceDEX) {
			observability.RecordDuplicate(string(domain.AlertSourceDEX))
			return
		}
	}

	ev := p.decoder.Decode(msg)
	if ev.Type == domain.EventUnknown {
		observability.RecordEventDropped("unclassified")
		return
	}
	observability.RecordEventDecoded(string(ev.Type), string(ev.Confidence))

	switch ev.Type {
	case domain.EventSwap:
		ev.USD = p.valuer.TradeUSD(ctx, msg, ev)
	case domain.EventLpAdd, domain.EventLpRemove:
		ev.USD = p.valuer.LpUSD(ctx, msg, ev)
	}

	p.dispatcher.Dispatch(ctx, ev)
}

// HandleWallet processes one wallet feed notification. The signature is
// deduplicated against the wallet set, independently of the DEX set, so
// the same transaction may alert once per class.
func (p *Pipeline) HandleWallet(ctx context.Context, wallet, signature string) {
	if signature == "" || wallet == "" {
		return
	}
	if !p.seen.FirstSeen(ctx, signature, domain.AlertSourceWallet) {
		observability.RecordDuplicate(string(domain.AlertSourceWallet))
		return
	}

	tx, err := p.chain.GetTransaction(ctx, signature)
	if err != nil {
		p.logger.Printf("[ingest] wallet tx %s: %v", signature, err)
		observability.RecordEventDropped("fetch_error")
		return
	}
	if tx == nil || tx.Failed {
		observability.RecordEventDropped("failed_tx")
		return
	}

	wtx := rpc.WalletTxFrom(tx, wallet)
	if p.dex != nil {
		wtx.ViaDEX = p.dex.IsDEXTransaction(tx.AccountKeys)
	}
	ev := &domain.Event{
		Type:       domain.EventWalletTx,
		Confidence: domain.ConfidenceHigh,
		Wallet:     wallet,
		Signature:  signature,
		USD:        p.valuer.WalletTxUSD(ctx, wtx),
		WalletTx:   wtx,
		Timestamp:  tx.BlockTime,
	}
	observability.RecordEventDecoded(string(ev.Type), string(ev.Confidence))
	p.dispatcher.Dispatch(ctx, ev)
}
