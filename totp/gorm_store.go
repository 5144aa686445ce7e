package totp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordRow is the two_factor_records table model.
type RecordRow struct {
	PrincipalID int64  `gorm:"primaryKey;autoIncrement:false"`
	Secret      string `gorm:"size:128"`
	Enabled     bool   `gorm:"not null;default:false"`
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName implements gorm's tabler.
func (RecordRow) TableName() string { return "two_factor_records" }

// BackupCodeRow is the two_factor_backup_codes table model.
type BackupCodeRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	PrincipalID int64  `gorm:"not null;uniqueIndex:uq_tfa_code"`
	CodeHash    string `gorm:"size:64;not null;uniqueIndex:uq_tfa_code"`
	CreatedAt   time.Time
}

// TableName implements gorm's tabler.
func (BackupCodeRow) TableName() string { return "two_factor_backup_codes" }

// GormStore persists records in MySQL. Backup-code consumption is a conditional
// DELETE whose affected-row count decides the single winner.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a store backed by db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates both tables.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&RecordRow{}, &BackupCodeRow{})
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, principalID int64) (*Record, error) {
	db := s.db.WithContext(ctx)

	var row RecordRow
	if err := db.Where("principal_id = ?", principalID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var codes []string
	if err := db.Model(&BackupCodeRow{}).Where("principal_id = ?", principalID).Pluck("code_hash", &codes).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec := &Record{
		PrincipalID: row.PrincipalID,
		Secret:      row.Secret,
		Enabled:     row.Enabled,
		BackupCodes: codes,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.LastUsedAt != nil {
		rec.LastUsedAt = *row.LastUsedAt
	}
	return rec, nil
}

// SaveSecret implements Store.
func (s *GormStore) SaveSecret(ctx context.Context, principalID int64, secret string, codeHashes []string, now time.Time) error {
	return s.transaction(ctx, func(tx *gorm.DB) error {
		var row RecordRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("principal_id = ?", principalID).Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = RecordRow{PrincipalID: principalID, CreatedAt: now}
		case err != nil:
			return err
		case row.Enabled:
			return ErrAlreadyEnabled
		}

		row.Secret = secret
		row.Enabled = false
		row.UpdatedAt = now
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "principal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"secret", "enabled", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return err
		}
		return replaceCodes(tx, principalID, codeHashes, now)
	})
}

// SetEnabled implements Store.
func (s *GormStore) SetEnabled(ctx context.Context, principalID int64, enabled bool, now time.Time) error {
	return s.transaction(ctx, func(tx *gorm.DB) error {
		var row RecordRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("principal_id = ?", principalID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotConfigured
		}
		if err != nil {
			return err
		}
		if enabled && row.Secret == "" {
			return ErrNoSecret
		}
		return tx.Model(&RecordRow{}).Where("principal_id = ?", principalID).
			Updates(map[string]interface{}{"enabled": enabled, "updated_at": now}).Error
	})
}

// ReplaceBackupCodes implements Store.
func (s *GormStore) ReplaceBackupCodes(ctx context.Context, principalID int64, codeHashes []string, now time.Time) error {
	return s.transaction(ctx, func(tx *gorm.DB) error {
		var row RecordRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("principal_id = ?", principalID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotConfigured
		}
		if err != nil {
			return err
		}
		if err := replaceCodes(tx, principalID, codeHashes, now); err != nil {
			return err
		}
		return tx.Model(&RecordRow{}).Where("principal_id = ?", principalID).Update("updated_at", now).Error
	})
}

// ConsumeBackupCode implements Store.
func (s *GormStore) ConsumeBackupCode(ctx context.Context, principalID int64, codeHash string, _ time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("principal_id = ? AND code_hash = ?", principalID, codeHash).
		Delete(&BackupCodeRow{})
	if res.Error != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// TouchLastUsed implements Store.
func (s *GormStore) TouchLastUsed(ctx context.Context, principalID int64, now time.Time) error {
	err := s.db.WithContext(ctx).Model(&RecordRow{}).
		Where("principal_id = ?", principalID).
		Update("last_used_at", now).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *GormStore) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAlreadyEnabled), errors.Is(err, ErrNotConfigured), errors.Is(err, ErrNoSecret):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func replaceCodes(tx *gorm.DB, principalID int64, codeHashes []string, now time.Time) error {
	if err := tx.Where("principal_id = ?", principalID).Delete(&BackupCodeRow{}).Error; err != nil {
		return err
	}
	if len(codeHashes) == 0 {
		return nil
	}
	rows := make([]BackupCodeRow, len(codeHashes))
	for i, h := range codeHashes {
		rows[i] = BackupCodeRow{PrincipalID: principalID, CodeHash: h, CreatedAt: now}
	}
	return tx.Create(&rows).Error
}
