package bot

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"adbot/internal/ads"
	"adbot/internal/health"
	"adbot/internal/metrics"
	"adbot/internal/ratelimit"
	"adbot/internal/resilience"
	"adbot/internal/storage"
)

const (
	introText = "👋 Hi! I keep groups tidy and rotate announcements.\n\n" +
		"Add me to a group as an administrator with permission to delete messages. " +
		"I remove join and leave notices, catch spam, and post scheduled ads."

	welcomeText = "👋 Thanks for adding me!\n\n" +
		"Please make me an administrator with permission to delete messages so I can " +
		"remove join/leave notices and spam.\n\nGroup admins can use /help to see what I can do."

	textMediaNeedsCaption = "❌ Media ads need a caption. Send the photo, video or document again with the ad text as caption."
	textMediaUnsupported  = "❌ Only photos, videos and documents can be used as ads."
	textInternalError     = "❌ Something went wrong. Please try again later."
	textUnknownCommand    = "Unknown command. Use /help to list commands."
	textGroupOnly         = "This command only works inside a group."
	textRateLimited       = "⏳ Too many requests. Please slow down."
	textAddAdUsage        = "Usage: /addad <text>\nExample: /addad Visit our shop!\n\nTo add a media ad, send a photo, video or document with the ad text as caption."

	ownerHelpText = "🤖 Owner commands\n\n" +
		"📊 Statistics\n" +
		"/stats - statistics for every group\n" +
		"/groups - known groups\n" +
		"/adstats - ad delivery counters\n\n" +
		"📢 Advertising\n" +
		"/addad <text> - add a text ad\n" +
		"/listads - list ads\n" +
		"/deletead <id> - delete an ad\n" +
		"/togglead <id> - activate or deactivate an ad\n" +
		"/sendad <chat_id> - send the next ad now\n\n" +
		"🔧 Diagnostics\n" +
		"/health - health check\n" +
		"/metrics - runtime counters\n\n" +
		"Send a photo, video or document with a caption to add a media ad."

	groupHelpText = "🤖 Group admin commands\n\n" +
		"/stats - statistics for this group\n" +
		"/setadinterval <minutes|default> - ad interval for this group\n" +
		"/togglegroupads - turn ads in this group on or off"
)

// truncate cuts s to max runes, adding an ellipsis when shortened.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

func mark(v bool) string {
	if v {
		return "✅"
	}
	return "❌"
}

func mediaIcon(k storage.MediaKind) string {
	switch k {
	case storage.MediaPhoto:
		return "🖼"
	case storage.MediaVideo:
		return "🎬"
	case storage.MediaDocument:
		return "📎"
	}
	return "📝"
}

func formatAdAdded(ad storage.Advertisement) string {
	var sb strings.Builder
	sb.WriteString("✅ Ad #")
	sb.WriteString(strconv.FormatInt(ad.ID, 10))
	sb.WriteString(" added")
	if ad.MediaKind != "" && ad.MediaKind != storage.MediaNone {
		sb.WriteString(" (" + string(ad.MediaKind) + ")")
	}
	sb.WriteString(".\n\n")
	sb.WriteString(mediaIcon(ad.MediaKind) + " " + truncate(ad.Text, 200))
	return sb.String()
}

func formatAds(list []storage.Advertisement) string {
	if len(list) == 0 {
		return "No ads yet. Use /addad to create one."
	}
	var sb strings.Builder
	sb.WriteString("📢 Ads (" + strconv.Itoa(len(list)) + ")\n")
	for _, ad := range list {
		sb.WriteString("\n" + mark(ad.IsActive) + " #" + strconv.FormatInt(ad.ID, 10) + " " + mediaIcon(ad.MediaKind) + " ")
		sb.WriteString(truncate(ad.Text, 50))
	}
	return sb.String()
}

type statRow struct {
	Stats  storage.ChatStatistics
	Title  string
	Active bool
}

func formatAllStats(rows []statRow) string {
	if len(rows) == 0 {
		return "No statistics yet."
	}
	var join, leave, spam int64
	var sb strings.Builder
	sb.WriteString("📊 Statistics\n")
	for _, r := range rows {
		st := r.Stats
		join += st.DeletedJoinCount
		leave += st.DeletedLeaveCount
		spam += st.DeletedSpamCount
		sb.WriteString("\n" + mark(r.Active) + " " + truncate(r.Title, 50) + "\n")
		sb.WriteString("   joins " + humanize.Comma(st.DeletedJoinCount) +
			" · leaves " + humanize.Comma(st.DeletedLeaveCount) +
			" · spam " + humanize.Comma(st.DeletedSpamCount) + "\n")
	}
	sb.WriteString("\nTotal: joins " + humanize.Comma(join) + " · leaves " + humanize.Comma(leave) + " · spam " + humanize.Comma(spam))
	return sb.String()
}

func formatGroupStats(title string, st storage.ChatStatistics) string {
	return "📊 " + truncate(title, 50) + "\n\n" +
		"Deleted join messages: " + humanize.Comma(st.DeletedJoinCount) + "\n" +
		"Deleted leave messages: " + humanize.Comma(st.DeletedLeaveCount) + "\n" +
		"Deleted spam: " + humanize.Comma(st.DeletedSpamCount)
}

func formatGroups(groups []storage.Group, now time.Time) string {
	if len(groups) == 0 {
		return "I am not in any group yet."
	}
	active := 0
	var sb strings.Builder
	for _, g := range groups {
		if g.IsActive {
			active++
		}
		sb.WriteString("\n" + mark(g.IsActive) + " " + truncate(groupTitle(g.Title), 50) +
			" (" + strconv.FormatInt(g.ChatID, 10) + "), joined " + humanize.RelTime(g.JoinedAt, now, "ago", "from now"))
	}
	return "👥 Groups: " + strconv.Itoa(active) + " active of " + strconv.Itoa(len(groups)) + "\n" + sb.String()
}

func formatAdStats(counters []storage.AdSendCounter, list []storage.Advertisement) string {
	if len(counters) == 0 {
		return "No ads have been sent yet."
	}
	texts := make(map[int64]string, len(list))
	for _, ad := range list {
		texts[ad.ID] = ad.Text
	}
	perAd := map[int64]int64{}
	var total int64
	for _, c := range counters {
		perAd[c.AdID] += c.TotalSent
		total += c.TotalSent
	}
	ids := make([]int64, 0, len(perAd))
	for id := range perAd {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if perAd[ids[i]] != perAd[ids[j]] {
			return perAd[ids[i]] > perAd[ids[j]]
		}
		return ids[i] < ids[j]
	})

	var sb strings.Builder
	sb.WriteString("📈 Ad statistics\n\nTotal sent: " + humanize.Comma(total) + "\n")
	for _, id := range ids {
		text, ok := texts[id]
		if !ok {
			text = "(deleted)"
		}
		sb.WriteString("\n#" + strconv.FormatInt(id, 10) + " " + truncate(text, 50) + ": " + humanize.Comma(perAd[id]))
	}
	return sb.String()
}

func formatHealth(r health.Report) string {
	icon := "✅"
	switch r.Status {
	case health.Degraded:
		icon = "⚠️"
	case health.Unhealthy:
		icon = "❌"
	}
	var sb strings.Builder
	sb.WriteString(icon + " " + string(r.Status))
	if r.Message != "" {
		sb.WriteString(": " + r.Message)
	}
	sb.WriteString("\n\n")
	if r.BotUsername != "" {
		sb.WriteString("Bot: @" + r.BotUsername + "\n")
	}
	sb.WriteString("Active groups: " + strconv.Itoa(r.ActiveGroups) + "\n")
	sb.WriteString("Ads: " + strconv.Itoa(r.ActiveAds) + " active of " + strconv.Itoa(r.TotalAds) + "\n")
	sb.WriteString("Heap: " + humanize.IBytes(r.HeapMB<<20) + "\n")
	if len(r.OpenCircuits) > 0 {
		sb.WriteString("Open circuits: " + strings.Join(r.OpenCircuits, ", ") + "\n")
	}
	sb.WriteString("Checked in " + r.Took.Round(time.Millisecond).String())
	return sb.String()
}

type metricsView struct {
	Snapshot metrics.Snapshot
	Limiter  *ratelimit.Stats
	Breakers []resilience.BreakerSnapshot
	LastTick *ads.TickReport
}

func formatMetrics(v metricsView) string {
	s := v.Snapshot
	var sb strings.Builder
	sb.WriteString("📈 Metrics (up " + s.Uptime.Round(time.Second).String() + ")\n\n")
	sb.WriteString("Messages: " + humanize.Comma(s.Messages) + "\n")
	sb.WriteString("Spam: " + humanize.Comma(s.Spam) + "\n")
	sb.WriteString("Ads sent: " + humanize.Comma(s.AdsSent) + "\n")
	sb.WriteString("Errors: " + humanize.Comma(s.Errors))
	if len(s.ErrorTypes) > 0 {
		sb.WriteString(" (" + metrics.FormatCounts(s.ErrorTypes) + ")")
	}
	sb.WriteString("\n")
	if v.Limiter != nil {
		l := v.Limiter
		sb.WriteString("\nRate limiter: " + strconv.Itoa(l.ActiveUsers) + " users, " +
			strconv.Itoa(l.ActiveChats) + " chats, " + strconv.Itoa(l.AvailableSlots) + " free slots, " +
			humanize.Comma(int64(l.TotalBlocked)) + " blocked\n")
	}
	if len(v.Breakers) > 0 {
		sb.WriteString("\nCircuits:\n")
		for _, br := range v.Breakers {
			sb.WriteString("  " + br.Name + ": " + br.State + " (" + strconv.Itoa(br.Failures) + "/" + strconv.Itoa(br.Total) + " failed)\n")
		}
	}
	if t := v.LastTick; t != nil && t.ID != "" {
		sb.WriteString("\nLast ad tick: " + strconv.Itoa(t.Sent) + " sent, " + strconv.Itoa(t.Failed) +
			" failed, " + strconv.Itoa(t.Deactivated) + " deactivated of " + strconv.Itoa(t.Groups) +
			" groups in " + t.Took.Round(time.Millisecond).String())
	}
	return strings.TrimRight(sb.String(), "\n")
}
