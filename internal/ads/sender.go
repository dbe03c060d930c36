package ads

import (
	"context"

	"adbot/internal/resilience"
	"adbot/internal/storage"
	"adbot/internal/transport"
	logx "adbot/pkg/logx"
)

// Limiter admits one outbound call.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// BreakerName is the circuit used for ad deliveries.
const BreakerName = "telegram.ads"

// Sender delivers a single ad through the resilience executor. Every
// attempt, retries included, takes its own limiter slot.
type Sender struct {
	client  transport.Client
	limiter Limiter
	exec    *resilience.Executor
	log     logx.Logger
}

func NewSender(client transport.Client, limiter Limiter, exec *resilience.Executor, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{client: client, limiter: limiter, exec: exec, log: log}
}

func (s *Sender) Send(ctx context.Context, chatID int64, ad storage.Advertisement) (transport.MessageRef, error) {
	to := transport.ChatTarget{ChatID: chatID}
	return resilience.DoValue(ctx, s.exec, BreakerName, func(ctx context.Context) (transport.MessageRef, error) {
		if err := s.limiter.Acquire(ctx); err != nil {
			return transport.MessageRef{}, resilience.Rejected(err)
		}
		if media, ok := s.media(ad); ok {
			return s.client.SendMedia(ctx, to, media, nil)
		}
		return s.client.SendText(ctx, to, ad.Text, nil)
	})
}

// media maps a stored ad to an attachment. Unknown kinds and missing refs
// fall back to a text send.
func (s *Sender) media(ad storage.Advertisement) (transport.Media, bool) {
	if ad.MediaRef == "" {
		return transport.Media{}, false
	}
	var kind transport.MediaKind
	switch ad.MediaKind {
	case storage.MediaPhoto:
		kind = transport.MediaPhoto
	case storage.MediaVideo:
		kind = transport.MediaVideo
	case storage.MediaDocument:
		kind = transport.MediaDocument
	case storage.MediaNone, "":
		return transport.Media{}, false
	default:
		s.log.Warn("unknown media kind, sending text", logx.Int64("ad_id", ad.ID), logx.String("kind", string(ad.MediaKind)))
		return transport.Media{}, false
	}
	return transport.Media{Kind: kind, Ref: ad.MediaRef, Caption: ad.Text}, true
}
