// Package prefsstore implements the Preferences collaborator
// (internal/registry.Preferences) the daemon persists port patches and
// priorities through. StorePreferences is a gorm/sqlite key-value row
// store and the one the daemon uses; MemoryPreferences mirrors OLA's
// MemoryPreferences for tests.
package prefsstore

import (
	"time"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"
)

// Setting is the persisted row for one key-value pair. One table serves
// every namespace; port patches and priority suffixes share it via key
// prefixing rather than separate tables.
type Setting struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Key       string    `gorm:"column:key;uniqueIndex"`
	Value     string    `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Setting) TableName() string { return "settings" }

// StorePreferences is a gorm-backed Preferences implementation. Load/Save
// are no-ops: every Set/Remove already writes straight through, a
// repository pattern rather than OLA's load-once/save-on-exit file model.
type StorePreferences struct {
	db *gorm.DB
}

// NewStorePreferences creates a StorePreferences backed by db. db must
// already have the Setting model migrated.
func NewStorePreferences(db *gorm.DB) *StorePreferences {
	return &StorePreferences{db: db}
}

// Migrate runs the auto-migration for the settings table.
func (p *StorePreferences) Migrate() error {
	return p.db.AutoMigrate(&Setting{})
}

func (p *StorePreferences) Load() error { return nil }
func (p *StorePreferences) Save() error { return nil }

func (p *StorePreferences) Get(key string) (string, bool) {
	var s Setting
	if err := p.db.First(&s, "key = ?", key).Error; err != nil {
		return "", false
	}
	return s.Value, true
}

func (p *StorePreferences) Set(key, value string) {
	var s Setting
	result := p.db.First(&s, "key = ?", key)
	if result.Error == gorm.ErrRecordNotFound {
		p.db.Create(&Setting{ID: cuid.New(), Key: key, Value: value})
		return
	}
	s.Value = value
	p.db.Save(&s)
}

func (p *StorePreferences) GetMulti(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out
	}
	var rows []Setting
	p.db.Where("key IN ?", keys).Find(&rows)
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out
}

func (p *StorePreferences) SetMulti(kv map[string]string) {
	for k, v := range kv {
		p.Set(k, v)
	}
}

func (p *StorePreferences) Remove(key string) {
	p.db.Delete(&Setting{}, "key = ?", key)
}
