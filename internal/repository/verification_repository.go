package repository

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/authdoc/internal/fusion"
	"github.com/example/authdoc/internal/retry"
	"github.com/example/authdoc/internal/verification"
)

// Status is the lifecycle state of a verification record.
type Status string

const (
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusError      Status = "Error"
)

// VerificationRecord is one persisted verification request. Scores are nil until the
// request completes.
type VerificationRecord struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	RequestID      string     `gorm:"column:request_id;uniqueIndex;size:64" json:"request_id"`
	UserID         string     `gorm:"column:user_id;index;size:64" json:"user_id"`
	IdentityMasked string     `gorm:"column:identity_masked;size:32" json:"identity_masked"`
	SHA1Hash       string     `gorm:"column:sha1_hash;index;size:40" json:"sha1_hash"`
	Status         Status     `gorm:"column:status;size:16;index" json:"status"`
	Policy         string     `gorm:"column:policy;size:64" json:"policy"`
	ChecksumScore  *float64   `gorm:"column:checksum_score" json:"checksum_score"`
	LayoutScore    *float64   `gorm:"column:layout_score" json:"layout_score"`
	TextScore      *float64   `gorm:"column:text_score" json:"text_score"`
	CopyMoveScore  *float64   `gorm:"column:copy_move_score" json:"copy_move_score"`
	MetadataScore  *float64   `gorm:"column:metadata_score" json:"metadata_score"`
	ELAScore       *float64   `gorm:"column:ela_score" json:"ela_score"`
	FinalScore     *float64   `gorm:"column:final_score" json:"final_score"`
	Classification string     `gorm:"column:classification;size:16" json:"classification"`
	FailedMetrics  string     `gorm:"column:failed_metrics;size:128" json:"failed_metrics,omitempty"`
	ErrorMessage   string     `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	LatencyMs      int64      `gorm:"column:latency_ms" json:"latency_ms"`
	CreatedAt      time.Time  `gorm:"column:created_at" json:"created_at"`
	CompletedAt    *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

// TableName overrides the default table name.
func (VerificationRecord) TableName() string {
	return "verification_records"
}

// ApplyVerdict copies the per-metric values and the fused result onto the record and
// marks it completed. Unavailable metrics stay nil.
func (r *VerificationRecord) ApplyVerdict(scores verification.ScoreMap, result fusion.Result, latency time.Duration, at time.Time) {
	value := func(m verification.Metric) *float64 {
		s, ok := scores[m]
		if !ok || !s.Available {
			return nil
		}
		v := s.Value
		return &v
	}
	r.ChecksumScore = value(verification.MetricChecksum)
	r.LayoutScore = value(verification.MetricLayout)
	r.TextScore = value(verification.MetricText)
	r.CopyMoveScore = value(verification.MetricCopyMove)
	r.MetadataScore = value(verification.MetricMetadata)
	r.ELAScore = value(verification.MetricELA)

	final := result.FinalScore
	r.FinalScore = &final
	r.Classification = string(result.Classification)
	r.Policy = result.Policy

	failed := make([]string, 0, len(scores))
	for _, m := range scores.Failed() {
		failed = append(failed, string(m))
	}
	r.FailedMetrics = strings.Join(failed, ",")
	r.LatencyMs = latency.Milliseconds()
	r.Status = StatusCompleted
	completed := at
	r.CompletedAt = &completed
}

// Scores returns the stored metric values, omitting those never recorded.
func (r *VerificationRecord) Scores() map[verification.Metric]float64 {
	out := make(map[verification.Metric]float64)
	for m, v := range map[verification.Metric]*float64{
		verification.MetricChecksum: r.ChecksumScore,
		verification.MetricLayout:   r.LayoutScore,
		verification.MetricText:     r.TextScore,
		verification.MetricCopyMove: r.CopyMoveScore,
		verification.MetricMetadata: r.MetadataScore,
		verification.MetricELA:      r.ELAScore,
	} {
		if v != nil {
			out[m] = *v
		}
	}
	return out
}

// MaskIdentity keeps only the last four characters of an identity string.
func MaskIdentity(identity string) string {
	if len(identity) <= 4 {
		return strings.Repeat("*", len(identity))
	}
	return strings.Repeat("*", len(identity)-4) + identity[len(identity)-4:]
}

// MetricsAggregation captures aggregated verification statistics.
type MetricsAggregation struct {
	TotalCount                 int64
	CompletedCount             int64
	ErrorCount                 int64
	AverageScore               float64
	AverageProcessingLatencyMs float64
	ByClassification           map[string]int64
}

// VerificationRepository provides persistence APIs for verification records.
type VerificationRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  retry.Policy
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationRepository{db: db, logger: logger.Named("verification_repository"), retry: retry.Default}
}

// AutoMigrate ensures the schema is available.
func (r *VerificationRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&VerificationRecord{})
	})
}

// Create inserts a new record, normally in the Processing state.
func (r *VerificationRepository) Create(ctx context.Context, record *VerificationRecord) error {
	return r.executeWithRetry(ctx, "repository.create", record.RequestID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// MarkCompleted stores the scoring columns of a record prepared with ApplyVerdict.
func (r *VerificationRepository) MarkCompleted(ctx context.Context, record *VerificationRecord) error {
	return r.executeWithRetry(ctx, "repository.mark_completed", record.RequestID, func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationRecord{}).
			Where("request_id = ?", record.RequestID).
			Select("status", "policy", "checksum_score", "layout_score", "text_score", "copy_move_score",
				"metadata_score", "ela_score", "final_score", "classification", "failed_metrics",
				"latency_ms", "completed_at").
			Updates(record).Error
	})
}

// MarkFailed moves a record to the Error state.
func (r *VerificationRepository) MarkFailed(ctx context.Context, requestID, message string) error {
	return r.executeWithRetry(ctx, "repository.mark_failed", requestID, func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationRecord{}).
			Where("request_id = ?", requestID).
			Updates(map[string]any{
				"status":        StatusError,
				"error_message": message,
				"completed_at":  time.Now().UTC(),
			}).Error
	})
}

// FindByRequestIDAndUser retrieves a record matching the request and owner.
func (r *VerificationRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*VerificationRecord, error) {
	var record VerificationRecord
	if err := r.db.WithContext(ctx).First(&record, "request_id = ? AND user_id = ?", requestID, userID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// FindDuplicatesByHash lists the owner's other records of the same document, newest first.
func (r *VerificationRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*VerificationRecord, error) {
	var records []*VerificationRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND sha1_hash = ? AND request_id <> ?", userID, hash, excludeRequestID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// AggregateMetrics summarises every stored record.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var totals struct {
		TotalCount       int64
		CompletedCount   int64
		ErrorCount       int64
		AverageScore     float64
		AverageLatencyMs float64
	}
	err := r.db.WithContext(ctx).
		Model(&VerificationRecord{}).
		Select(`COUNT(*) AS total_count,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed_count,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS error_count,
			COALESCE(AVG(final_score), 0) AS average_score,
			COALESCE(AVG(CASE WHEN status = ? THEN latency_ms END), 0) AS average_latency_ms`,
			StatusCompleted, StatusError, StatusCompleted).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Classification string
		Count          int64
	}
	err = r.db.WithContext(ctx).
		Model(&VerificationRecord{}).
		Select("classification, COUNT(*) AS count").
		Where("status = ?", StatusCompleted).
		Group("classification").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	agg := &MetricsAggregation{
		TotalCount:                 totals.TotalCount,
		CompletedCount:             totals.CompletedCount,
		ErrorCount:                 totals.ErrorCount,
		AverageScore:               totals.AverageScore,
		AverageProcessingLatencyMs: totals.AverageLatencyMs,
		ByClassification:           make(map[string]int64, len(rows)),
	}
	for _, row := range rows {
		agg.ByClassification[row.Classification] = row.Count
	}
	return agg, nil
}

func (r *VerificationRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	return retry.Do(ctx, r.retry, r.logger, operation, requestID, fn)
}
