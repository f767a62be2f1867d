package classifier

import (
	"context"

	"community_exchange/internal/domain"
	"log/slog"
)

// LogNotifier — нотификатор по умолчанию: пишет hot-матч в лог.
// Подменяется реальной доставкой (push, email) на уровне композиции.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyHotMatch(_ context.Context, event domain.HotMatchEvent) {
	n.log.Info("hot match",
		slog.String("match_id", event.MatchID.String()),
		slog.String("tenant_id", event.TenantID.String()),
		slog.String("offer_id", event.OfferListingID.String()),
		slog.String("request_id", event.RequestListingID.String()),
		slog.Int("score", event.Score),
	)
}
