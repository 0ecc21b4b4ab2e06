package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/authdoc/internal/engine"
	"github.com/example/authdoc/internal/logging"
	"github.com/example/authdoc/internal/repository"
	"github.com/example/authdoc/internal/retry"
	"github.com/example/authdoc/internal/verification"
)

const (
	processingMarker = "processing"
	processingTTL    = time.Minute
	resultTTL        = 5 * time.Minute
)

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	Create(ctx context.Context, record *repository.VerificationRecord) error
	MarkCompleted(ctx context.Context, record *repository.VerificationRecord) error
	MarkFailed(ctx context.Context, requestID, message string) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.VerificationRecord, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.VerificationRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Verifier runs the scoring engine for one request.
type Verifier interface {
	Verify(ctx context.Context, req *verification.Request) (engine.Verdict, error)
}

// VerifyInput is one upload as received from the transport layer.
type VerifyInput struct {
	UserID       string `validate:"required,max=64"`
	Identity     string `validate:"required,max=64,printascii"`
	Document     []byte `validate:"required,min=1"`
	DocumentMIME string `validate:"required"`
	Template     []byte
	TemplateMIME string
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	repo     VerificationRepository
	cache    Cache
	verifier Verifier
	validate *validator.Validate
	logger   *zap.Logger
	retry    retry.Policy
	now      func() time.Time
}

// DuplicateReport represents duplicate verification entries for a request.
type DuplicateReport struct {
	Request    *repository.VerificationRecord
	Duplicates []*repository.VerificationRecord
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(repo VerificationRepository, cache Cache, verifier Verifier, logger *zap.Logger) *VerificationUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationUseCase{
		repo:     repo,
		cache:    cache,
		verifier: verifier,
		validate: validator.New(),
		logger:   logger.Named("verification_usecase"),
		retry:    retry.Default,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// VerifyDocument validates the upload, records it as processing, runs the engine and
// persists the verdict. The returned record is the completed row.
func (uc *VerificationUseCase) VerifyDocument(ctx context.Context, input VerifyInput) (*repository.VerificationRecord, engine.Verdict, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_document", requestID)

	if err := uc.validate.StructCtx(ctx, input); err != nil {
		return nil, engine.Verdict{}, logging.NewOperationError("usecase.validate", requestID, errors.Join(verification.ErrInvalidRequest, err))
	}

	var template *verification.Image
	if len(input.Template) > 0 {
		img := verification.NewImage(input.Template, input.TemplateMIME)
		template = &img
	}
	req, err := verification.NewRequest(requestID, input.Identity, verification.NewImage(input.Document, input.DocumentMIME), template)
	if err != nil {
		return nil, engine.Verdict{}, logging.NewOperationError("usecase.validate", requestID, err)
	}

	cacheKey := resultKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, processingMarker, processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, engine.Verdict{}, err
	}

	hash := sha1.Sum(input.Document)
	record := &repository.VerificationRecord{
		RequestID:      requestID,
		UserID:         input.UserID,
		IdentityMasked: repository.MaskIdentity(input.Identity),
		SHA1Hash:       hex.EncodeToString(hash[:]),
		Status:         repository.StatusProcessing,
		CreatedAt:      uc.now(),
	}
	if err := uc.repo.Create(ctx, record); err != nil {
		wrapped := logging.NewOperationError("usecase.create_record", requestID, err)
		opLogger.Error("failed to persist verification record", zap.Error(wrapped))
		return nil, engine.Verdict{}, wrapped
	}

	verdict, err := uc.verifier.Verify(ctx, req)
	if err != nil {
		opLogger.Warn("verification failed", zap.Error(err))
		if markErr := uc.repo.MarkFailed(context.WithoutCancel(ctx), requestID, err.Error()); markErr != nil {
			opLogger.Error("failed to mark record as failed", zap.Error(markErr))
		}
		record.Status = repository.StatusError
		record.ErrorMessage = err.Error()
		return record, engine.Verdict{}, logging.NewOperationError("usecase.verify", requestID, err)
	}

	record.ApplyVerdict(verdict.Scores, verdict.Result, verdict.Elapsed, uc.now())
	if err := uc.repo.MarkCompleted(ctx, record); err != nil {
		wrapped := logging.NewOperationError("usecase.complete_record", requestID, err)
		opLogger.Error("failed to persist verdict", zap.Error(wrapped))
		if markErr := uc.repo.MarkFailed(context.WithoutCancel(ctx), requestID, err.Error()); markErr != nil {
			opLogger.Error("failed to mark record as failed", zap.Error(markErr))
		}
		return nil, engine.Verdict{}, wrapped
	}

	serialized, err := json.Marshal(record)
	if err != nil {
		opLogger.Error("failed to serialize verification result", zap.Error(err))
		return record, verdict, nil
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), resultTTL)
	}); err != nil {
		// The verdict is already persisted; readers fall back to the database.
		opLogger.Warn("failed to cache verification result", zap.Error(err))
	}

	opLogger.Info("verification completed",
		zap.Float64("final_score", verdict.Result.FinalScore),
		zap.String("classification", string(verdict.Result.Classification)),
	)
	return record, verdict, nil
}

// GetResult retrieves a cached verification outcome or loads from persistence.
func (uc *VerificationUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationRecord, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)
	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID))
	switch {
	case err == nil && cached != processingMarker:
		var record repository.VerificationRecord
		if err := json.Unmarshal([]byte(cached), &record); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else if record.UserID == userID && record.RequestID == requestID {
			return &record, nil
		}
	case err != nil && !errors.Is(err, ErrCacheMiss):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

// GetDuplicateReport builds a duplicate detection report for a verification request.
func (uc *VerificationUseCase) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	record, err := uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, userID, record.SHA1Hash, record.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    record,
		Duplicates: duplicates,
	}, nil
}

func resultKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	return retry.Do(ctx, uc.retry, uc.logger, operation, requestID, fn)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
