package attempt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrDatabaseUnavailable wraps database failures from GormRecorder.
var ErrDatabaseUnavailable = errors.New("attempt store database unavailable")

// Row is the login_attempts table model.
type Row struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Email       string    `gorm:"size:191;index:idx_login_attempts_email_created"`
	PrincipalID *int64    `gorm:"index"`
	IP          string    `gorm:"size:64"`
	UserAgent   string    `gorm:"size:512"`
	Success     bool      `gorm:"not null"`
	Reason      string    `gorm:"size:64"`
	CreatedAt   time.Time `gorm:"index:idx_login_attempts_email_created"`
}

// TableName implements gorm's tabler.
func (Row) TableName() string { return "login_attempts" }

// GormRecorder appends attempts to a relational table.
type GormRecorder struct {
	db *gorm.DB
}

// NewGormRecorder returns a recorder backed by db.
func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db}
}

// AutoMigrate creates the login_attempts table.
func (g *GormRecorder) AutoMigrate() error {
	return g.db.AutoMigrate(&Row{})
}

// Record implements Recorder.
func (g *GormRecorder) Record(ctx context.Context, a LoginAttempt) error {
	row := Row{
		Email:       a.Email,
		PrincipalID: a.PrincipalID,
		IP:          a.IP,
		UserAgent:   a.UserAgent,
		Success:     a.Success,
		Reason:      a.Reason,
		CreatedAt:   a.CreatedAt,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	return nil
}

// FailuresSince counts failed attempts for email after since.
func (g *GormRecorder) FailuresSince(ctx context.Context, email string, since time.Time) (int64, error) {
	var n int64
	err := g.db.WithContext(ctx).Model(&Row{}).
		Where("email = ? AND success = ? AND created_at > ?", email, false, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	return n, nil
}
