package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/models"
)

const (
	auditDefaultPageSize = 50
	auditMaxPageSize     = 200
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	UserID    *string
	TeamID    string
	Action    string
	Resource  string
	Result    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	UserID   string
	TeamID   string
	Action   string
	Result   string
	Resource string
	Since    *time.Time
	Until    *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditService persists and retrieves audit log entries.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db}, nil
}

// Log stores an audit entry, marshalling metadata into JSON form.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	ctx = ensureContext(ctx)

	row, err := entry.toModel()
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Create(row).Error
}

func (e AuditEntry) toModel() (*models.AuditLog, error) {
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return nil, errors.New("audit service: action is required")
	}
	result := strings.TrimSpace(e.Result)
	if result == "" {
		return nil, errors.New("audit service: result is required")
	}

	row := &models.AuditLog{
		Action:    action,
		Result:    result,
		Resource:  strings.TrimSpace(e.Resource),
		TeamID:    strings.TrimSpace(e.TeamID),
		IPAddress: strings.TrimSpace(e.IPAddress),
		UserAgent: strings.TrimSpace(e.UserAgent),
	}

	if e.Metadata != nil {
		encoded, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		row.Metadata = string(encoded)
	}

	if e.UserID != nil {
		if id := strings.TrimSpace(*e.UserID); id != "" {
			row.UserID = &id
		}
	}

	return row, nil
}

// List returns paginated audit logs ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	ctx = ensureContext(ctx)

	page, perPage := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > auditMaxPageSize {
		perPage = auditDefaultPageSize
	}

	query := opts.Filters.apply(s.db.WithContext(ctx).Model(&models.AuditLog{}))

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}

	var results []models.AuditLog
	err := query.
		Preload("User").
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error
	if err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}

	return results, total, nil
}

// CleanupOlderThan removes audit logs older than the supplied retention window (in days).
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func (f AuditFilters) apply(query *gorm.DB) *gorm.DB {
	equals := map[string]string{
		"user_id":  f.UserID,
		"team_id":  f.TeamID,
		"action":   f.Action,
		"result":   f.Result,
		"resource": f.Resource,
	}
	for column, value := range equals {
		if value != "" {
			query = query.Where(column+" = ?", value)
		}
	}

	if f.Since != nil {
		query = query.Where("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		query = query.Where("created_at <= ?", *f.Until)
	}
	return query
}

// recordAudit logs the supplied entry while tolerating audit failures. Audit
// writes must never break the operation being audited.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	_ = audit.Log(ctx, entry)
}
