package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"adbot/internal/ads"
	"adbot/internal/ratelimit"
	"adbot/internal/storage"
	"adbot/internal/transport"
	"adbot/internal/validate"
	logx "adbot/pkg/logx"
)

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	if req.IsOwner {
		_ = b.reply(ctx, req.Chat, ownerHelpText)
	} else {
		_ = b.reply(ctx, req.Chat, groupHelpText)
	}
	return nil
}

func (b *Bot) cmdStats(ctx context.Context, req *Request) error {
	if !req.Private {
		return b.groupStats(ctx, req)
	}
	all, err := b.store.GetAllStatistics(ctx)
	if err != nil {
		return err
	}
	rows := make([]statRow, 0, len(all))
	for _, st := range all {
		row := statRow{Stats: st, Title: "Chat " + strconv.FormatInt(st.ChatID, 10)}
		g, err := b.store.GetGroup(ctx, st.ChatID)
		switch {
		case err == nil:
			row.Title, row.Active = groupTitle(g.Title), g.IsActive
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
		rows = append(rows, row)
	}
	_ = b.reply(ctx, req.Chat, formatAllStats(rows))
	return nil
}

func (b *Bot) groupStats(ctx context.Context, req *Request) error {
	st, err := b.store.GetStatistics(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	title := groupTitle(req.Msg.ChatTitle)
	if g, err := b.store.GetGroup(ctx, req.Chat.ChatID); err == nil {
		title = groupTitle(g.Title)
	}
	_ = b.reply(ctx, req.Chat, formatGroupStats(title, st))
	return nil
}

func (b *Bot) cmdGroups(ctx context.Context, req *Request) error {
	groups, err := b.store.GetAllGroupsIncludingInactive(ctx)
	if err != nil {
		return err
	}
	_ = b.reply(ctx, req.Chat, formatGroups(groups, b.now()))
	return nil
}

func (b *Bot) cmdAddAd(ctx context.Context, req *Request) error {
	text, err := validate.AdText(req.Rest)
	if err != nil {
		_ = b.reply(ctx, req.Chat, textAddAdUsage+"\n\n"+err.Error())
		return nil
	}
	ad, err := b.store.AddAdvertisement(ctx, text)
	if err != nil {
		return err
	}
	req.Logger.Info("ad added", logx.Int64("ad_id", ad.ID))
	_ = b.reply(ctx, req.Chat, formatAdAdded(ad))
	return nil
}

func (b *Bot) cmdListAds(ctx context.Context, req *Request) error {
	list, err := b.store.GetAllAdvertisements(ctx)
	if err != nil {
		return err
	}
	_ = b.reply(ctx, req.Chat, formatAds(list))
	return nil
}

// adArg parses the single ad id argument, replying with usage on failure.
func (b *Bot) adArg(ctx context.Context, req *Request, usage string) (storage.Advertisement, bool, error) {
	if len(req.Args) != 1 {
		_ = b.reply(ctx, req.Chat, usage)
		return storage.Advertisement{}, false, nil
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err == nil {
		_, err = validate.AdID(id)
	}
	if err != nil {
		_ = b.reply(ctx, req.Chat, usage)
		return storage.Advertisement{}, false, nil
	}
	ad, err := b.store.GetAdvertisement(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		_ = b.reply(ctx, req.Chat, "❌ Ad #"+strconv.FormatInt(id, 10)+" not found.")
		return storage.Advertisement{}, false, nil
	}
	if err != nil {
		return storage.Advertisement{}, false, err
	}
	return ad, true, nil
}

func (b *Bot) cmdDeleteAd(ctx context.Context, req *Request) error {
	ad, ok, err := b.adArg(ctx, req, "Usage: /deletead <id>\nExample: /deletead 1")
	if !ok {
		return err
	}
	if err := b.store.DeleteAdvertisement(ctx, ad.ID); err != nil {
		return err
	}
	req.Logger.Info("ad deleted", logx.Int64("ad_id", ad.ID))
	_ = b.reply(ctx, req.Chat, "✅ Ad deleted.\n\n📝 "+truncate(ad.Text, 200))
	return nil
}

func (b *Bot) cmdToggleAd(ctx context.Context, req *Request) error {
	ad, ok, err := b.adArg(ctx, req, "Usage: /togglead <id>\nExample: /togglead 1")
	if !ok {
		return err
	}
	active, err := b.store.ToggleAdvertisement(ctx, ad.ID)
	if err != nil {
		return err
	}
	req.Logger.Info("ad toggled", logx.Int64("ad_id", ad.ID), logx.Bool("active", active))
	_ = b.reply(ctx, req.Chat, "✅ Ad "+onOff(active)+".\n\n📝 "+truncate(ad.Text, 200))
	return nil
}

func (b *Bot) cmdAdStats(ctx context.Context, req *Request) error {
	counters, err := b.store.GetAdStatistics(ctx)
	if err != nil {
		return err
	}
	list, err := b.store.GetAllAdvertisements(ctx)
	if err != nil {
		return err
	}
	_ = b.reply(ctx, req.Chat, formatAdStats(counters, list))
	return nil
}

func (b *Bot) cmdSetAdInterval(ctx context.Context, req *Request) error {
	const usage = "Usage: /setadinterval <minutes|default>\nExample: /setadinterval 30"
	if len(req.Args) != 1 {
		_ = b.reply(ctx, req.Chat, usage)
		return nil
	}
	chatID := req.Chat.ChatID
	if strings.EqualFold(req.Args[0], "default") {
		if err := b.store.SetGroupAdInterval(ctx, chatID, nil); err != nil {
			return err
		}
		_ = b.reply(ctx, req.Chat, "✅ Ad interval reset to the default.")
		return nil
	}
	minutes, err := strconv.Atoi(req.Args[0])
	if err == nil {
		_, err = validate.IntervalMinutes(minutes)
	}
	if err != nil {
		_ = b.reply(ctx, req.Chat, "❌ Invalid interval. Use 1 to 10080 minutes.\n\n"+usage)
		return nil
	}
	if err := b.store.SetGroupAdInterval(ctx, chatID, &minutes); err != nil {
		return err
	}
	req.Logger.Info("ad interval set", logx.Int("minutes", minutes))
	_ = b.reply(ctx, req.Chat, "✅ Ad interval set to "+strconv.Itoa(minutes)+" minutes.")
	return nil
}

func (b *Bot) cmdToggleGroupAds(ctx context.Context, req *Request) error {
	enabled, err := b.store.ToggleGroupAds(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	req.Logger.Info("group ads toggled", logx.Bool("enabled", enabled))
	_ = b.reply(ctx, req.Chat, "✅ Ads in this group "+onOff(enabled)+".")
	return nil
}

func (b *Bot) cmdSendAd(ctx context.Context, req *Request) error {
	if b.ads == nil {
		_ = b.reply(ctx, req.Chat, "Advertising is not configured.")
		return nil
	}
	chatID := req.Chat.ChatID
	if len(req.Args) > 0 {
		id, err := strconv.ParseInt(req.Args[0], 10, 64)
		if err == nil {
			_, err = validate.ChatID(id)
		}
		if err != nil {
			_ = b.reply(ctx, req.Chat, "Usage: /sendad [chat_id]")
			return nil
		}
		chatID = id
	} else if req.Private {
		_ = b.reply(ctx, req.Chat, "Usage: /sendad <chat_id>")
		return nil
	}

	ad, err := b.ads.SendNow(ctx, chatID)
	var text string
	switch {
	case err == nil:
		text = "✅ Sent ad #" + strconv.FormatInt(ad.ID, 10) + " to " + strconv.FormatInt(chatID, 10) + "."
	case errors.Is(err, ads.ErrAdsDisabled):
		text = "Ads are disabled for that group."
	case errors.Is(err, ads.ErrNoAds):
		text = "There are no active ads."
	case errors.Is(err, ads.ErrStateNotSaved):
		req.Logger.Error("manual ad sent, state not saved", logx.Int64("target", chatID), logx.Err(err))
		text = "⚠️ Sent ad #" + strconv.FormatInt(ad.ID, 10) + " to " + strconv.FormatInt(chatID, 10) +
			", but the rotation state was not saved. The next tick may repeat it."
	case transport.IsChatNotFound(err):
		text = "❌ Chat not found. The group was deactivated."
	default:
		req.Logger.Warn("manual ad send failed", logx.Int64("target", chatID), logx.Err(err))
		text = "❌ Send failed: " + validate.SanitizeForLog(err.Error(), 200)
	}
	_ = b.reply(ctx, req.Chat, text)
	return nil
}

func (b *Bot) cmdHealth(ctx context.Context, req *Request) error {
	if b.health == nil {
		_ = b.reply(ctx, req.Chat, "Health checks are not configured.")
		return nil
	}
	_ = b.reply(ctx, req.Chat, formatHealth(b.health.Check(ctx)))
	return nil
}

func (b *Bot) cmdMetrics(ctx context.Context, req *Request) error {
	var view metricsView
	view.Snapshot = b.metrics.Snapshot()
	if s, ok := b.limiter.(interface{ Stats() ratelimit.Stats }); ok {
		st := s.Stats()
		view.Limiter = &st
	}
	view.Breakers = b.exec.Breakers()
	if b.ads != nil {
		tick := b.ads.LastTick()
		view.LastTick = &tick
	}
	_ = b.reply(ctx, req.Chat, formatMetrics(view))
	return nil
}
