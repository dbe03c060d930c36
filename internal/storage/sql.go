package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	logx "adbot/pkg/logx"
)

// sqlStore implements Store over sqlx for both SQL dialects. Queries are
// written with '?' placeholders and passed through Rebind.
type sqlStore struct {
	db  *sqlx.DB
	log logx.Logger
	now func() time.Time
	// conflict reports a unique constraint violation in the driver's terms.
	conflict func(error) bool
}

type groupRow struct {
	ChatID   int64  `db:"chat_id"`
	Title    string `db:"title"`
	JoinedAt int64  `db:"joined_at"`
	IsActive bool   `db:"is_active"`
}

func (r groupRow) model() Group {
	return Group{ChatID: r.ChatID, Title: r.Title, JoinedAt: time.UnixMilli(r.JoinedAt), IsActive: r.IsActive}
}

type statsRow struct {
	ChatID            int64 `db:"chat_id"`
	DeletedJoinCount  int64 `db:"deleted_join_count"`
	DeletedLeaveCount int64 `db:"deleted_leave_count"`
	DeletedSpamCount  int64 `db:"deleted_spam_count"`
	LastUpdated       int64 `db:"last_updated"`
}

func (r statsRow) model() ChatStatistics {
	return ChatStatistics{
		ChatID:            r.ChatID,
		DeletedJoinCount:  r.DeletedJoinCount,
		DeletedLeaveCount: r.DeletedLeaveCount,
		DeletedSpamCount:  r.DeletedSpamCount,
		LastUpdated:       time.UnixMilli(r.LastUpdated),
	}
}

type adRow struct {
	ID           int64  `db:"id"`
	Text         string `db:"text"`
	MediaKind    string `db:"media_kind"`
	MediaRef     string `db:"media_ref"`
	IsActive     bool   `db:"is_active"`
	CreatedAt    int64  `db:"created_at"`
	DisplayOrder int    `db:"display_order"`
}

func (r adRow) model() Advertisement {
	return Advertisement{
		ID:           r.ID,
		Text:         r.Text,
		MediaKind:    ParseMediaKind(r.MediaKind),
		MediaRef:     r.MediaRef,
		IsActive:     r.IsActive,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
		DisplayOrder: r.DisplayOrder,
	}
}

type settingsRow struct {
	ChatID                int64         `db:"chat_id"`
	AdsEnabled            bool          `db:"ads_enabled"`
	CustomIntervalMinutes sql.NullInt64 `db:"custom_interval_minutes"`
	LastAdSentAt          sql.NullInt64 `db:"last_ad_sent_at"`
	LastAdIndex           int           `db:"last_ad_index"`
}

func (r settingsRow) model() GroupAdSettings {
	out := GroupAdSettings{ChatID: r.ChatID, AdsEnabled: r.AdsEnabled, LastAdIndex: r.LastAdIndex}
	if r.CustomIntervalMinutes.Valid {
		m := int(r.CustomIntervalMinutes.Int64)
		out.CustomIntervalMinutes = &m
	}
	if r.LastAdSentAt.Valid {
		t := time.UnixMilli(r.LastAdSentAt.Int64)
		out.LastAdSentAt = &t
	}
	return out
}

type counterRow struct {
	ChatID     int64 `db:"chat_id"`
	AdID       int64 `db:"ad_id"`
	TotalSent  int64 `db:"total_sent"`
	LastSentAt int64 `db:"last_sent_at"`
}

func (r counterRow) model() AdSendCounter {
	return AdSendCounter{ChatID: r.ChatID, AdID: r.AdID, TotalSent: r.TotalSent, LastSentAt: time.UnixMilli(r.LastSentAt)}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullTime(p *time.Time) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: p.UnixMilli(), Valid: true}
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.db.Rebind(query), args...)
}

func (s *sqlStore) get(ctx context.Context, dest any, query string, args ...any) error {
	err := s.db.GetContext(ctx, dest, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *sqlStore) sel(ctx context.Context, dest any, query string, args ...any) error {
	return s.db.SelectContext(ctx, dest, s.db.Rebind(query), args...)
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- groups ----

func (s *sqlStore) AddOrUpdateGroup(ctx context.Context, chatID int64, title string) error {
	_, err := s.exec(ctx,
		`INSERT INTO chat_groups(chat_id, title, joined_at, is_active) VALUES(?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET title = excluded.title, is_active = excluded.is_active`,
		chatID, title, s.now().UnixMilli(), true,
	)
	return err
}

func (s *sqlStore) RemoveGroup(ctx context.Context, chatID int64) error {
	_, err := s.exec(ctx, `UPDATE chat_groups SET is_active = ? WHERE chat_id = ?`, false, chatID)
	return err
}

func (s *sqlStore) groups(ctx context.Context, where string, args ...any) ([]Group, error) {
	var rows []groupRow
	if err := s.sel(ctx, &rows, `SELECT chat_id, title, joined_at, is_active FROM chat_groups `+where+` ORDER BY chat_id`, args...); err != nil {
		return nil, err
	}
	out := make([]Group, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *sqlStore) GetAllGroups(ctx context.Context) ([]Group, error) {
	return s.groups(ctx, `WHERE is_active = ?`, true)
}

func (s *sqlStore) GetAllGroupsIncludingInactive(ctx context.Context) ([]Group, error) {
	return s.groups(ctx, ``)
}

func (s *sqlStore) GetGroup(ctx context.Context, chatID int64) (Group, error) {
	var r groupRow
	if err := s.get(ctx, &r, `SELECT chat_id, title, joined_at, is_active FROM chat_groups WHERE chat_id = ?`, chatID); err != nil {
		return Group{}, err
	}
	return r.model(), nil
}

// ---- joins ----

func (s *sqlStore) TrackUserJoin(ctx context.Context, userID, chatID int64) error {
	_, err := s.exec(ctx, `INSERT INTO user_joins(user_id, chat_id, joined_at) VALUES(?, ?, ?)`,
		userID, chatID, s.now().UnixMilli())
	return err
}

func (s *sqlStore) IsNewUser(ctx context.Context, userID, chatID int64, window time.Duration) (bool, error) {
	var n int64
	err := s.get(ctx, &n,
		`SELECT COUNT(*) FROM user_joins WHERE user_id = ? AND chat_id = ? AND joined_at > ?`,
		userID, chatID, s.now().Add(-window).UnixMilli())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- statistics ----

func (s *sqlStore) bump(ctx context.Context, chatID int64, join, leave, spam int64) error {
	_, err := s.exec(ctx,
		`INSERT INTO chat_statistics(chat_id, deleted_join_count, deleted_leave_count, deleted_spam_count, last_updated)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   deleted_join_count = chat_statistics.deleted_join_count + excluded.deleted_join_count,
		   deleted_leave_count = chat_statistics.deleted_leave_count + excluded.deleted_leave_count,
		   deleted_spam_count = chat_statistics.deleted_spam_count + excluded.deleted_spam_count,
		   last_updated = excluded.last_updated`,
		chatID, join, leave, spam, s.now().UnixMilli(),
	)
	return err
}

func (s *sqlStore) IncrementDeletedJoin(ctx context.Context, chatID int64) error {
	return s.bump(ctx, chatID, 1, 0, 0)
}

func (s *sqlStore) IncrementDeletedLeave(ctx context.Context, chatID int64) error {
	return s.bump(ctx, chatID, 0, 1, 0)
}

func (s *sqlStore) IncrementDeletedSpam(ctx context.Context, chatID int64) error {
	return s.bump(ctx, chatID, 0, 0, 1)
}

const statsColumns = `chat_id, deleted_join_count, deleted_leave_count, deleted_spam_count, last_updated`

func (s *sqlStore) GetStatistics(ctx context.Context, chatID int64) (ChatStatistics, error) {
	var r statsRow
	err := s.get(ctx, &r, `SELECT `+statsColumns+` FROM chat_statistics WHERE chat_id = ?`, chatID)
	if errors.Is(err, ErrNotFound) {
		return ChatStatistics{ChatID: chatID}, nil
	}
	if err != nil {
		return ChatStatistics{}, err
	}
	return r.model(), nil
}

func (s *sqlStore) GetAllStatistics(ctx context.Context) ([]ChatStatistics, error) {
	var rows []statsRow
	if err := s.sel(ctx, &rows, `SELECT `+statsColumns+` FROM chat_statistics ORDER BY chat_id`); err != nil {
		return nil, err
	}
	out := make([]ChatStatistics, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// ---- advertisements ----

const adColumns = `id, text, media_kind, media_ref, is_active, created_at, display_order`

func (s *sqlStore) AddAdvertisement(ctx context.Context, text string) (Advertisement, error) {
	return s.AddAdvertisementWithMedia(ctx, text, MediaNone, "")
}

// addAdAttempts bounds retries when a concurrent insert took the same
// display order.
const addAdAttempts = 5

func (s *sqlStore) AddAdvertisementWithMedia(ctx context.Context, text string, kind MediaKind, ref string) (Advertisement, error) {
	for attempt := 1; ; attempt++ {
		ad, err := s.insertAd(ctx, text, kind, ref)
		if err == nil || s.conflict == nil || !s.conflict(err) || attempt == addAdAttempts {
			return ad, err
		}
		s.log.Debug("display order taken, retrying", logx.Int("attempt", attempt))
	}
}

func (s *sqlStore) insertAd(ctx context.Context, text string, kind MediaKind, ref string) (Advertisement, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Advertisement{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var order int
	if err := tx.GetContext(ctx, &order, `SELECT COALESCE(MAX(display_order), 0) + 1 FROM advertisements`); err != nil {
		return Advertisement{}, fmt.Errorf("next display order: %w", err)
	}
	ad := Advertisement{
		Text:         text,
		MediaKind:    ParseMediaKind(string(kind)),
		MediaRef:     ref,
		IsActive:     true,
		CreatedAt:    time.UnixMilli(s.now().UnixMilli()),
		DisplayOrder: order,
	}
	err = tx.GetContext(ctx, &ad.ID, tx.Rebind(
		`INSERT INTO advertisements(text, media_kind, media_ref, is_active, created_at, display_order)
		 VALUES(?, ?, ?, ?, ?, ?) RETURNING id`),
		ad.Text, string(ad.MediaKind), ad.MediaRef, ad.IsActive, ad.CreatedAt.UnixMilli(), ad.DisplayOrder,
	)
	if err != nil {
		return Advertisement{}, err
	}
	if err := tx.Commit(); err != nil {
		return Advertisement{}, err
	}
	return ad, nil
}

func (s *sqlStore) GetAllAdvertisements(ctx context.Context) ([]Advertisement, error) {
	var rows []adRow
	if err := s.sel(ctx, &rows, `SELECT `+adColumns+` FROM advertisements ORDER BY display_order, id`); err != nil {
		return nil, err
	}
	out := make([]Advertisement, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *sqlStore) GetAdvertisement(ctx context.Context, id int64) (Advertisement, error) {
	var r adRow
	if err := s.get(ctx, &r, `SELECT `+adColumns+` FROM advertisements WHERE id = ?`, id); err != nil {
		return Advertisement{}, err
	}
	return r.model(), nil
}

func (s *sqlStore) DeleteAdvertisement(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `DELETE FROM advertisements WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) ToggleAdvertisement(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var active bool
	err = tx.GetContext(ctx, &active, tx.Rebind(`SELECT is_active FROM advertisements WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	active = !active
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE advertisements SET is_active = ? WHERE id = ?`), active, id); err != nil {
		return false, err
	}
	return active, tx.Commit()
}

// ---- ad settings ----

const settingsColumns = `chat_id, ads_enabled, custom_interval_minutes, last_ad_sent_at, last_ad_index`

func (s *sqlStore) ensureSettings(ctx context.Context, chatID int64) error {
	_, err := s.exec(ctx,
		`INSERT INTO group_ad_settings(chat_id, ads_enabled, last_ad_index) VALUES(?, ?, ?)
		 ON CONFLICT(chat_id) DO NOTHING`,
		chatID, true, -1)
	return err
}

func (s *sqlStore) GetGroupAdSettings(ctx context.Context, chatID int64) (GroupAdSettings, error) {
	if err := s.ensureSettings(ctx, chatID); err != nil {
		return GroupAdSettings{}, err
	}
	var r settingsRow
	if err := s.get(ctx, &r, `SELECT `+settingsColumns+` FROM group_ad_settings WHERE chat_id = ?`, chatID); err != nil {
		return GroupAdSettings{}, err
	}
	return r.model(), nil
}

func (s *sqlStore) UpdateGroupAdSettings(ctx context.Context, gs GroupAdSettings) error {
	_, err := s.exec(ctx,
		`INSERT INTO group_ad_settings(`+settingsColumns+`) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   ads_enabled = excluded.ads_enabled,
		   custom_interval_minutes = excluded.custom_interval_minutes,
		   last_ad_sent_at = excluded.last_ad_sent_at,
		   last_ad_index = excluded.last_ad_index`,
		gs.ChatID, gs.AdsEnabled, nullInt(gs.CustomIntervalMinutes), nullTime(gs.LastAdSentAt), gs.LastAdIndex,
	)
	return err
}

func (s *sqlStore) SetGroupAdInterval(ctx context.Context, chatID int64, minutes *int) error {
	if err := s.ensureSettings(ctx, chatID); err != nil {
		return err
	}
	_, err := s.exec(ctx, `UPDATE group_ad_settings SET custom_interval_minutes = ? WHERE chat_id = ?`,
		nullInt(minutes), chatID)
	return err
}

func (s *sqlStore) ToggleGroupAds(ctx context.Context, chatID int64) (bool, error) {
	if err := s.ensureSettings(ctx, chatID); err != nil {
		return false, err
	}
	var enabled bool
	err := s.get(ctx, &enabled,
		`UPDATE group_ad_settings SET ads_enabled = NOT ads_enabled WHERE chat_id = ? RETURNING ads_enabled`, chatID)
	return enabled, err
}

func (s *sqlStore) UpdateLastAdSent(ctx context.Context, chatID int64, index int, at time.Time) error {
	if err := s.ensureSettings(ctx, chatID); err != nil {
		return err
	}
	_, err := s.exec(ctx, `UPDATE group_ad_settings SET last_ad_index = ?, last_ad_sent_at = ? WHERE chat_id = ?`,
		index, at.UnixMilli(), chatID)
	return err
}

// ---- ad counters ----

func (s *sqlStore) IncrementAdSent(ctx context.Context, chatID, adID int64, at time.Time) error {
	_, err := s.exec(ctx,
		`INSERT INTO ad_send_counters(chat_id, ad_id, total_sent, last_sent_at) VALUES(?, ?, 1, ?)
		 ON CONFLICT(chat_id, ad_id) DO UPDATE SET
		   total_sent = ad_send_counters.total_sent + 1,
		   last_sent_at = excluded.last_sent_at`,
		chatID, adID, at.UnixMilli(),
	)
	return err
}

const counterQuery = `SELECT chat_id, ad_id, total_sent, last_sent_at FROM ad_send_counters `

func (s *sqlStore) counters(ctx context.Context, where string, args ...any) ([]AdSendCounter, error) {
	var rows []counterRow
	if err := s.sel(ctx, &rows, counterQuery+where+` ORDER BY total_sent DESC, chat_id, ad_id`, args...); err != nil {
		return nil, err
	}
	out := make([]AdSendCounter, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *sqlStore) GetAdStatistics(ctx context.Context) ([]AdSendCounter, error) {
	return s.counters(ctx, ``)
}

func (s *sqlStore) GetAdStatisticsForChat(ctx context.Context, chatID int64) ([]AdSendCounter, error) {
	return s.counters(ctx, `WHERE chat_id = ?`, chatID)
}
