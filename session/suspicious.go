package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RiskLevel grades a suspicious-activity report.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Report is the outcome of DetectSuspicious.
type Report struct {
	IsSuspicious bool      `json:"isSuspicious"`
	RiskLevel    RiskLevel `json:"riskLevel"`
	Indicators   []string  `json:"indicators"`
	Revoked      []string  `json:"revoked,omitempty"`
}

// DetectSuspicious inspects sessions created within window (Config.SuspiciousWindow
// when window <= 0). It flags more than MaxDistinctOrigins distinct IPs, and more
// than MaxDistinctLocations distinct locations or device fingerprints. When
// RevokeOnSuspicious is set, every active session except the KeepRecent newest is
// revoked.
func (m *Manager) DetectSuspicious(ctx context.Context, principalID int64, window time.Duration) (*Report, error) {
	if window <= 0 {
		window = m.config.SuspiciousWindow
	}
	sessions, err := m.store.ListByPrincipal(ctx, principalID, false)
	if err != nil {
		return nil, err
	}

	since := m.now().Add(-window)
	origins := map[string]struct{}{}
	locations := map[string]struct{}{}
	devices := map[string]struct{}{}
	for _, s := range sessions {
		if s.LoginAt.Before(since) {
			continue
		}
		if s.IP != "" {
			origins[s.IP] = struct{}{}
		}
		if s.Location != "" {
			locations[s.Location] = struct{}{}
		}
		if s.DeviceFingerprint != "" {
			devices[s.DeviceFingerprint] = struct{}{}
		}
	}

	report := &Report{RiskLevel: RiskLow, Indicators: []string{}}
	if len(origins) > m.config.MaxDistinctOrigins {
		report.Indicators = append(report.Indicators, fmt.Sprintf("distinct_origins:%d", len(origins)))
	}
	if len(locations) > m.config.MaxDistinctLocations {
		report.Indicators = append(report.Indicators, fmt.Sprintf("distinct_locations:%d", len(locations)))
	}
	if len(devices) > m.config.MaxDistinctLocations {
		report.Indicators = append(report.Indicators, fmt.Sprintf("distinct_devices:%d", len(devices)))
	}

	switch n := len(report.Indicators); {
	case n == 0:
		return report, nil
	case n == 1:
		report.RiskLevel = RiskMedium
	default:
		report.RiskLevel = RiskHigh
	}
	report.IsSuspicious = true

	m.logger.Warn("suspicious session activity",
		zap.Int64("principal_id", principalID),
		zap.Strings("indicators", report.Indicators),
		zap.String("risk", string(report.RiskLevel)),
	)
	m.emit(ctx, Event{Kind: EventSuspicious, PrincipalID: principalID, Reason: string(report.RiskLevel)})

	if !m.config.RevokeOnSuspicious {
		return report, nil
	}
	revoked, err := m.revokeAllButRecent(ctx, principalID)
	report.Revoked = revoked
	return report, err
}

func (m *Manager) revokeAllButRecent(ctx context.Context, principalID int64) ([]string, error) {
	ids, err := m.store.RevokeAllButRecent(ctx, principalID, m.config.KeepRecent, ReasonSuspicious, m.now())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		m.logger.Warn("session revoked",
			zap.String("session_id", id),
			zap.Int64("principal_id", principalID),
			zap.String("reason", ReasonSuspicious),
		)
		m.emit(ctx, Event{Kind: EventRevoked, SessionID: id, PrincipalID: principalID, Reason: ReasonSuspicious})
	}
	return ids, nil
}
