package cache

import "strconv"

// Cache keys. Every lookup in Store uses exactly one of these and every
// write invalidates exactly the keys whose rows it touched.
const (
	KeyAllAds                     = "cache_all_ads"
	KeyAllGroups                  = "cache_all_groups"
	KeyAllGroupsIncludingInactive = "cache_all_groups_all"
	KeyAllStats                   = "stats_all"
	KeyAllAdStats                 = "ad_stats_all"
)

func GroupKey(chatID int64) string {
	return "cache_group_settings_" + strconv.FormatInt(chatID, 10)
}

func AdSettingsKey(chatID int64) string {
	return "cache_group_settings_ad_" + strconv.FormatInt(chatID, 10)
}

func AdKey(id int64) string { return "ad_" + strconv.FormatInt(id, 10) }

func StatsKey(chatID int64) string { return "cache_stats_" + strconv.FormatInt(chatID, 10) }

func AdStatsKey(chatID int64) string { return "ad_stats_" + strconv.FormatInt(chatID, 10) }
