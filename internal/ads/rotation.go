package ads

import (
	"time"

	"adbot/internal/storage"
)

// ActiveAds returns the active ads ordered by DisplayOrder. The input is not
// modified.
func ActiveAds(all []storage.Advertisement) []storage.Advertisement {
	out := make([]storage.Advertisement, 0, len(all))
	for _, a := range all {
		if a.IsActive {
			out = append(out, a)
		}
	}
	storage.SortByDisplayOrder(out)
	return out
}

// NextIndex returns the rotation slot after last in a list of n ads.
//
// last is a position in the active list as it was at the previous send. The
// list may have changed since, so the same index can name a different ad.
func NextIndex(last, n int) int {
	if n <= 0 {
		return -1
	}
	return ((last+1)%n + n) % n
}

// IndexOf returns the position of the ad with id, or -1.
func IndexOf(active []storage.Advertisement, id int64) int {
	for i, a := range active {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// Interval returns the group's effective interval.
func Interval(s storage.GroupAdSettings, defaultMinutes int) time.Duration {
	m := defaultMinutes
	if s.CustomIntervalMinutes != nil {
		m = *s.CustomIntervalMinutes
	}
	return time.Duration(m) * time.Minute
}

// ShouldSend reports whether a group is due at now.
func ShouldSend(s storage.GroupAdSettings, defaultMinutes int, now time.Time) bool {
	if !s.AdsEnabled {
		return false
	}
	if s.LastAdSentAt == nil {
		return true
	}
	return !now.Before(s.LastAdSentAt.Add(Interval(s, defaultMinutes)))
}
