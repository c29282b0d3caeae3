// Package notify defines the downstream boundary of the tracker: a sink
// the fan-out hands rendered alerts to. The chat front-end implements it.
package notify

import (
	"context"
	"time"
)

// Status is the sink's verdict for one delivery attempt.
type Status int

const (
	// SentOk means the message was accepted.
	SentOk Status = iota
	// RateLimited means the platform throttled the send; RetryAfter
	// carries the advertised wait.
	RateLimited
	// BlockedUser means the recipient blocked the bot or deleted the
	// chat. The subscriber is disabled and marked blocked.
	BlockedUser
	// TransientError means a retryable failure the fan-out does not
	// retry within the same event; the next alert will try again.
	TransientError
)

// ActionHint is a semantic button the front-end may realize.
type ActionHint string

const (
	HintViewTx         ActionHint = "view-tx"
	HintAddToWatchlist ActionHint = "add-to-watchlist"
	HintSnoozeHour     ActionHint = "snooze-1h"
)

// Message is one pre-rendered alert.
type Message struct {
	Text  string
	Hints []ActionHint
}

// SendResult is a delivery verdict with an optional retry delay.
type SendResult struct {
	Status     Status
	RetryAfter time.Duration
}

// Sink delivers alerts to subscribers.
type Sink interface {
	Send(ctx context.Context, chatID int64, msg Message) SendResult
}

// Func adapts a function to a Sink.
type Func func(ctx context.Context, chatID int64, msg Message) SendResult

// Send implements Sink.
func (f Func) Send(ctx context.Context, chatID int64, msg Message) SendResult {
	return f(ctx, chatID, msg)
}
