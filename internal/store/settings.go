package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting keys
const (
	SettingTelegramChats  = "telegram_chats"
	SettingEmail          = "email"
	SettingSync           = "sync"
	SettingSpreadsheetID  = "google_spreadsheet_id"
	SettingCalendarID     = "google_calendar_id"
	SettingDriveFileID    = "google_drive_file_id"
	SettingDriveFolderID  = "google_drive_folder_id"
	SettingPharmacyOrigin = "pharmacy_origin"
	SettingLongestStreak  = "longest_streak"
)

// EmailSettings holds the addresses configured on the settings page
type EmailSettings struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
}

// SyncSettings holds the cloud sync toggles of the settings page
type SyncSettings struct {
	Drive    bool `json:"drive"`
	Calendar bool `json:"calendar"`
	Sheets   bool `json:"sheets"`
}

// GetSetting decodes the value under key into dest. It reports false when
// the key is absent.
func (s *Store) GetSetting(ctx context.Context, key string, dest interface{}) (bool, error) {
	var row Setting
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(row.Value, dest); err != nil {
		return false, fmt.Errorf("setting %s: %w", key, err)
	}
	return true, nil
}

// SaveSetting upserts the JSON encoding of value under key
func (s *Store) SaveSetting(ctx context.Context, key string, value interface{}) error {
	row := Setting{Key: key, Value: ToJSON(value)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// AllSettings returns every stored setting
func (s *Store) AllSettings(ctx context.Context) ([]Setting, error) {
	var rows []Setting
	err := s.db.WithContext(ctx).Order("key ASC").Find(&rows).Error
	return rows, err
}

// RecordLongestStreak keeps the highest longest streak ever computed and
// returns it. Deleting a medicine removes its due days from later
// calculations, so the recorded value is what the user has reached.
func (s *Store) RecordLongestStreak(ctx context.Context, n int) (int, error) {
	var best int
	if _, err := s.GetSetting(ctx, SettingLongestStreak, &best); err != nil {
		return n, err
	}
	if n <= best {
		return best, nil
	}
	if err := s.SaveSetting(ctx, SettingLongestStreak, n); err != nil {
		return n, err
	}
	return n, nil
}

// TelegramChats returns the chats registered for reminders
func (s *Store) TelegramChats(ctx context.Context) ([]int64, error) {
	var chats []int64
	if _, err := s.GetSetting(ctx, SettingTelegramChats, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// AddTelegramChat registers a chat. It reports false when already present.
func (s *Store) AddTelegramChat(ctx context.Context, chatID int64) (bool, error) {
	chats, err := s.TelegramChats(ctx)
	if err != nil {
		return false, err
	}
	if slices.Contains(chats, chatID) {
		return false, nil
	}
	return true, s.SaveSetting(ctx, SettingTelegramChats, append(chats, chatID))
}

// RemoveTelegramChat unregisters a chat
func (s *Store) RemoveTelegramChat(ctx context.Context, chatID int64) error {
	chats, err := s.TelegramChats(ctx)
	if err != nil {
		return err
	}
	chats = slices.DeleteFunc(chats, func(id int64) bool { return id == chatID })
	if chats == nil {
		chats = []int64{}
	}
	return s.SaveSetting(ctx, SettingTelegramChats, chats)
}

// EmailSettings returns the stored addresses, empty when unset
func (s *Store) EmailSettings(ctx context.Context) (EmailSettings, error) {
	var es EmailSettings
	_, err := s.GetSetting(ctx, SettingEmail, &es)
	return es, err
}

// SyncSettings returns the stored sync toggles
func (s *Store) SyncSettings(ctx context.Context) (SyncSettings, error) {
	var ss SyncSettings
	_, err := s.GetSetting(ctx, SettingSync, &ss)
	return ss, err
}

// GetString reads a string setting, empty when unset
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	var v string
	_, err := s.GetSetting(ctx, key, &v)
	return v, err
}
