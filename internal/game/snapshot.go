package game

import (
	"context"
	"fmt"
	"time"

	"finclash/internal/markethours"
	"finclash/internal/notification"
)

// snapshotDelay lets closing prints settle before the daily mark.
const snapshotDelay = 5 * time.Minute

// SnapshotValues records every account's current value into its history
// and returns how many were recorded.
func (g *Game) SnapshotValues(ctx context.Context) int {
	at := g.now()
	n := 0
	for _, a := range g.Accounts() {
		s, err := g.summarize(ctx, a.Portfolio)
		if err != nil {
			g.log.Warn("snapshot: skipping account", "account_id", a.ID, "err", err)
			continue
		}
		a.History.Record(at, s.TotalValue)
		n++
		g.checkDrawdown(ctx, a)
	}
	g.log.Info("value snapshot", "accounts", n)
	return n
}

func (g *Game) checkDrawdown(ctx context.Context, a *Account) {
	if g.notifier == nil || g.alertDrawdown <= 0 {
		return
	}
	dd := a.History.Drawdown()
	if dd < g.alertDrawdown {
		return
	}
	alert := notification.Alert{
		Level: notification.AlertWarning,
		Title: "Drawdown limit breached",
		Message: fmt.Sprintf("%s (%s) is %.1f%% below its peak of %s",
			a.Name, a.ID, dd*100, a.History.Peak().StringFixed(2)),
	}
	if err := g.notifier.Send(ctx, alert); err != nil {
		g.log.Warn("drawdown alert failed", "account_id", a.ID, "err", err)
	}
}

// RunSnapshots records values once per trading day shortly after the close.
// Blocks until ctx is cancelled.
func (g *Game) RunSnapshots(ctx context.Context) {
	for {
		next := markethours.NextClose(g.now()).Add(snapshotDelay)
		wait := next.Sub(g.now())
		g.log.Info("next value snapshot", "at", next.Format(time.RFC3339), "in", wait.Round(time.Second).String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			g.SnapshotValues(ctx)
		}
	}
}
