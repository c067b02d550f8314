package telegram

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/casewatch/internal/logger"
	"github.com/rewired-gh/casewatch/internal/models"
)

type notifier interface {
	SendDigest(ctx context.Context, sum models.SweepSummary, movers []models.Event) error
	SendError(ctx context.Context, sum models.SweepSummary) error
	SendRecovery(ctx context.Context, failedSweeps int) error
}

// Notifier turns the live event stream into one message per sweep.
type Notifier struct {
	client       notifier
	threshold    decimal.Decimal
	movers       []models.Event
	failedSweeps int
}

// NewNotifier reports items whose absolute percent change is at least threshold.
func NewNotifier(client *Client, threshold float64) *Notifier {
	return newNotifier(client, threshold)
}

func newNotifier(client notifier, threshold float64) *Notifier {
	return &Notifier{client: client, threshold: decimal.NewFromFloat(threshold)}
}

// Run consumes events until ctx is cancelled or the channel closes.
func (n *Notifier) Run(ctx context.Context, events <-chan models.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.handle(ctx, ev)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, ev models.Event) {
	switch ev.Type {
	case models.EventItemUpdated:
		if ev.PercentChange != nil && ev.PercentChange.Abs().GreaterThanOrEqual(n.threshold) {
			n.movers = append(n.movers, ev)
		}
	case models.EventSweepComplete:
		n.sweepComplete(ctx, ev)
	}
}

func (n *Notifier) sweepComplete(ctx context.Context, ev models.Event) {
	sum := models.SweepSummary{CompletedAt: ev.Timestamp, Updated: ev.Updated, Skipped: ev.Skipped}
	movers := n.movers
	n.movers = nil

	if sum.Updated == 0 {
		n.failedSweeps++
		if n.failedSweeps == 1 {
			if err := n.client.SendError(ctx, sum); err != nil {
				logger.Error("Failed to send Telegram error notice: %v", err)
			}
		}
		return
	}

	if n.failedSweeps > 0 {
		if err := n.client.SendRecovery(ctx, n.failedSweeps); err != nil {
			logger.Error("Failed to send Telegram recovery notice: %v", err)
		}
		n.failedSweeps = 0
	}

	if len(movers) == 0 {
		return
	}
	sort.SliceStable(movers, func(i, j int) bool {
		return movers[i].PercentChange.Abs().GreaterThan(movers[j].PercentChange.Abs())
	})
	if err := n.client.SendDigest(ctx, sum, movers); err != nil {
		logger.Error("Failed to send Telegram digest: %v", err)
		return
	}
	logger.Info("Sent Telegram digest with %d movers", len(movers))
}
