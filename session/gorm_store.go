package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Row is the sessions table model.
type Row struct {
	ID                string            `gorm:"primaryKey;size:36"`
	PrincipalID       int64             `gorm:"not null;index:idx_sessions_principal_status"`
	AccessHash        string            `gorm:"size:64;not null;uniqueIndex"`
	RefreshHash       *string           `gorm:"size:64;uniqueIndex"`
	Status            string            `gorm:"size:16;not null;index:idx_sessions_principal_status;index:idx_sessions_status_expires"`
	Type              string            `gorm:"size:16"`
	IP                string            `gorm:"size:64"`
	UserAgent         string            `gorm:"size:512"`
	DeviceFingerprint string            `gorm:"size:128"`
	Location          string            `gorm:"size:128"`
	ExpiresAt         time.Time         `gorm:"not null;index:idx_sessions_status_expires"`
	LastActivityAt    time.Time         `gorm:"not null"`
	LoginAt           time.Time         `gorm:"not null"`
	LogoutAt          *time.Time        `gorm:"index"`
	TwoFactorVerified bool              `gorm:"not null;default:false"`
	Reason            string            `gorm:"size:128"`
	Metadata          map[string]string `gorm:"serializer:json;type:text"`
}

// TableName implements gorm's tabler.
func (Row) TableName() string { return "sessions" }

func toRow(s *Session) Row {
	r := Row{
		ID:                s.ID,
		PrincipalID:       s.PrincipalID,
		AccessHash:        s.AccessHash,
		Status:            string(s.Status),
		Type:              string(s.Type),
		IP:                s.IP,
		UserAgent:         s.UserAgent,
		DeviceFingerprint: s.DeviceFingerprint,
		Location:          s.Location,
		ExpiresAt:         s.ExpiresAt,
		LastActivityAt:    s.LastActivityAt,
		LoginAt:           s.LoginAt,
		TwoFactorVerified: s.TwoFactorVerified,
		Reason:            s.Reason,
		Metadata:          s.Metadata,
	}
	if s.RefreshHash != "" {
		rh := s.RefreshHash
		r.RefreshHash = &rh
	}
	if !s.LogoutAt.IsZero() {
		out := s.LogoutAt
		r.LogoutAt = &out
	}
	return r
}

func (r Row) session() *Session {
	s := &Session{
		ID:                r.ID,
		PrincipalID:       r.PrincipalID,
		AccessHash:        r.AccessHash,
		Status:            Status(r.Status),
		Type:              Type(r.Type),
		IP:                r.IP,
		UserAgent:         r.UserAgent,
		DeviceFingerprint: r.DeviceFingerprint,
		Location:          r.Location,
		ExpiresAt:         r.ExpiresAt,
		LastActivityAt:    r.LastActivityAt,
		LoginAt:           r.LoginAt,
		TwoFactorVerified: r.TwoFactorVerified,
		Reason:            r.Reason,
		Metadata:          r.Metadata,
	}
	if r.RefreshHash != nil {
		s.RefreshHash = *r.RefreshHash
	}
	if r.LogoutAt != nil {
		s.LogoutAt = *r.LogoutAt
	}
	return s
}

// GormStore persists sessions in MySQL. Per-principal mutations lock the
// principal's active rows with SELECT ... FOR UPDATE; single-session transitions
// are conditional UPDATEs on status='active'.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a store backed by db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates the sessions table.
func (g *GormStore) AutoMigrate() error {
	return g.db.AutoMigrate(&Row{})
}

func dbErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
}

func terminate(tx *gorm.DB, ids []string, to Status, reason string, at time.Time) ([]string, error) {
	done := make([]string, 0, len(ids))
	for _, id := range ids {
		res := tx.Model(&Row{}).
			Where("id = ? AND status = ?", id, string(StatusActive)).
			Updates(map[string]interface{}{"status": string(to), "reason": reason, "logout_at": at})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			done = append(done, id)
		}
	}
	return done, nil
}

// Create implements Store.
func (g *GormStore) Create(ctx context.Context, s *Session, limit int, evictReason string, now time.Time) ([]string, error) {
	var evicted []string
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active []Row
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("principal_id = ? AND status = ?", s.PrincipalID, string(StatusActive)).
			Order("last_activity_at ASC").
			Find(&active).Error; err != nil {
			return err
		}

		var due, live []string
		for _, r := range active {
			if !now.Before(r.ExpiresAt) {
				due = append(due, r.ID)
			} else {
				live = append(live, r.ID)
			}
		}
		if _, err := terminate(tx, due, StatusExpired, ReasonExpired, now); err != nil {
			return err
		}

		if limit > 0 && len(live) >= limit {
			var err error
			evicted, err = terminate(tx, live[:len(live)-limit+1], StatusRevoked, evictReason, now)
			if err != nil {
				return err
			}
		}

		row := toRow(s)
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return evicted, nil
}

// Get implements Store.
func (g *GormStore) Get(ctx context.Context, id string) (*Session, error) {
	return g.findOne(ctx, "id = ?", id)
}

// FindByAccessHash implements Store.
func (g *GormStore) FindByAccessHash(ctx context.Context, hash string) (*Session, error) {
	return g.findOne(ctx, "access_hash = ?", hash)
}

// FindByRefreshHash implements Store.
func (g *GormStore) FindByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	return g.findOne(ctx, "refresh_hash = ?", hash)
}

func (g *GormStore) findOne(ctx context.Context, query string, arg interface{}) (*Session, error) {
	var row Row
	if err := g.db.WithContext(ctx).Where(query, arg).Take(&row).Error; err != nil {
		return nil, dbErr(err)
	}
	return row.session(), nil
}

// ListByPrincipal implements Store.
func (g *GormStore) ListByPrincipal(ctx context.Context, principalID int64, activeOnly bool) ([]*Session, error) {
	q := g.db.WithContext(ctx).Where("principal_id = ?", principalID)
	if activeOnly {
		q = q.Where("status = ?", string(StatusActive))
	}
	var rows []Row
	if err := q.Order("last_activity_at DESC, login_at DESC").Find(&rows).Error; err != nil {
		return nil, dbErr(err)
	}
	out := make([]*Session, len(rows))
	for i := range rows {
		out[i] = rows[i].session()
	}
	return out, nil
}

// Touch implements Store.
func (g *GormStore) Touch(ctx context.Context, id string, at time.Time) error {
	res := g.db.WithContext(ctx).Model(&Row{}).
		Where("id = ? AND status = ?", id, string(StatusActive)).
		Update("last_activity_at", at)
	if res.Error != nil {
		return dbErr(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	// MySQL counts changed rows only, so an unchanged timestamp affects none.
	var row Row
	if err := g.db.WithContext(ctx).Select("status").Where("id = ?", id).Take(&row).Error; err != nil {
		return dbErr(err)
	}
	if Status(row.Status) != StatusActive {
		return ErrNotActive
	}
	return nil
}

// Transition implements Store.
func (g *GormStore) Transition(ctx context.Context, id string, to Status, reason string, at time.Time) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("invalid target status %q", to)
	}
	done, err := terminate(g.db.WithContext(ctx), []string{id}, to, reason, at)
	if err != nil {
		return false, dbErr(err)
	}
	if len(done) == 1 {
		return true, nil
	}
	err = g.missingOrInactive(ctx, id)
	if errors.Is(err, ErrNotActive) {
		return false, nil
	}
	return false, err
}

// Rotate implements Store.
func (g *GormStore) Rotate(ctx context.Context, id, refreshHash, newAccessHash string, newExpiry, at time.Time) error {
	res := g.db.WithContext(ctx).Model(&Row{}).
		Where("id = ? AND status = ? AND refresh_hash = ?", id, string(StatusActive), refreshHash).
		Updates(map[string]interface{}{
			"access_hash":      newAccessHash,
			"expires_at":       newExpiry,
			"last_activity_at": at,
		})
	if res.Error != nil {
		return dbErr(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return g.missingOrInactive(ctx, id)
}

// RevokeAll implements Store.
func (g *GormStore) RevokeAll(ctx context.Context, principalID int64, except []string, reason string, at time.Time) ([]string, error) {
	var revoked []string
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Model(&Row{}).
			Where("principal_id = ? AND status = ?", principalID, string(StatusActive))
		if len(except) > 0 {
			q = q.Where("id NOT IN ?", except)
		}
		var ids []string
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		var err error
		revoked, err = terminate(tx, ids, StatusRevoked, reason, at)
		return err
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return revoked, nil
}

// RevokeAllButRecent implements Store.
func (g *GormStore) RevokeAllButRecent(ctx context.Context, principalID int64, keep int, reason string, at time.Time) ([]string, error) {
	if keep < 0 {
		keep = 0
	}
	var revoked []string
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Model(&Row{}).
			Where("principal_id = ? AND status = ?", principalID, string(StatusActive)).
			Order("login_at DESC, id DESC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) <= keep {
			return nil
		}
		var err error
		revoked, err = terminate(tx, ids[keep:], StatusRevoked, reason, at)
		return err
	})
	if err != nil {
		return nil, dbErr(err)
	}
	return revoked, nil
}

// ExpireDue implements Store.
func (g *GormStore) ExpireDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	db := g.db.WithContext(ctx)
	var ids []string
	if err := db.Model(&Row{}).
		Where("status = ? AND expires_at <= ?", string(StatusActive), now).
		Order("expires_at ASC").Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, dbErr(err)
	}
	done := make([]string, 0, len(ids))
	for _, id := range ids {
		// expires_at is re-checked because a refresh may have extended it since the SELECT.
		res := db.Model(&Row{}).
			Where("id = ? AND status = ? AND expires_at <= ?", id, string(StatusActive), now).
			Updates(map[string]interface{}{"status": string(StatusExpired), "reason": ReasonExpired, "logout_at": now})
		if res.Error != nil {
			return nil, dbErr(res.Error)
		}
		if res.RowsAffected == 1 {
			done = append(done, id)
		}
	}
	return done, nil
}

// PurgeTerminated implements Store.
func (g *GormStore) PurgeTerminated(ctx context.Context, before time.Time) (int, error) {
	res := g.db.WithContext(ctx).
		Where("status <> ? AND logout_at < ?", string(StatusActive), before).
		Delete(&Row{})
	if res.Error != nil {
		return 0, dbErr(res.Error)
	}
	return int(res.RowsAffected), nil
}

func (g *GormStore) missingOrInactive(ctx context.Context, id string) error {
	var n int64
	if err := g.db.WithContext(ctx).Model(&Row{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return dbErr(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrNotActive
}
