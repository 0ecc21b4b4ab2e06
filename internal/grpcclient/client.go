// Package grpcclient implements the capability contract over gRPC. Requests and responses
// are google.protobuf.Struct messages, so the remote service needs no shared stubs.
package grpcclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/authdoc/internal/capability"
	"github.com/example/authdoc/internal/logging"
	"github.com/example/authdoc/internal/retry"
)

// Full method names served by the capability service.
const (
	ServiceName       = "authdoc.capability.v1.Capability"
	ScoreLayoutMethod = "/" + ServiceName + "/ScoreLayout"
	MatchTextMethod   = "/" + ServiceName + "/MatchText"
)

// Request and response field names.
const (
	FieldDocument = "document"
	FieldTemplate = "template"
	FieldIdentity = "identity"
	FieldScore    = "score"
)

// DialTimeout bounds the initial connection attempt.
const DialTimeout = 5 * time.Second

// DialCapability connects to the capability service at addr.
func DialCapability(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_capability", "", err)
		logger.Error("failed to dial capability service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return New(conn, logger), conn, nil
}

// Client calls the capability service. It implements capability.LayoutScorer and
// capability.TextMatcher.
type Client struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
	retry  retry.Policy
}

// New wraps an established connection.
func New(conn grpc.ClientConnInterface, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := retry.Default
	p.Transient = isRetryable
	return &Client{conn: conn, logger: logger.Named("grpc_capability"), retry: p}
}

// ScoreLayout implements capability.LayoutScorer.
func (c *Client) ScoreLayout(ctx context.Context, document, template []byte) (float64, error) {
	return c.invoke(ctx, "grpcclient.score_layout", ScoreLayoutMethod, map[string]any{
		FieldDocument: base64.StdEncoding.EncodeToString(document),
		FieldTemplate: base64.StdEncoding.EncodeToString(template),
	})
}

// MatchText implements capability.TextMatcher.
func (c *Client) MatchText(ctx context.Context, document []byte, identity string) (float64, error) {
	return c.invoke(ctx, "grpcclient.match_text", MatchTextMethod, map[string]any{
		FieldDocument: base64.StdEncoding.EncodeToString(document),
		FieldIdentity: identity,
	})
}

func (c *Client) invoke(ctx context.Context, operation, method string, fields map[string]any) (float64, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return 0, logging.NewOperationError(operation, "", err)
	}

	resp := &structpb.Struct{}
	err = retry.Do(ctx, c.retry, c.logger, operation, "", func() error {
		return c.conn.Invoke(ctx, method, req, resp)
	})
	if err != nil {
		return 0, mapError(err)
	}

	v, ok := resp.GetFields()[FieldScore]
	if !ok {
		return 0, logging.NewOperationError(operation, "", fmt.Errorf("%w: missing %q", capability.ErrInvalidResponse, FieldScore))
	}
	num, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, logging.NewOperationError(operation, "", fmt.Errorf("%w: %q is not a number", capability.ErrInvalidResponse, FieldScore))
	}
	score, err := capability.CheckScore(num.NumberValue)
	if err != nil {
		return 0, logging.NewOperationError(operation, "", err)
	}
	return score, nil
}

func isRetryable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// mapError turns RPC failures into capability.ErrUnavailable while keeping context errors visible.
func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var opErr *logging.OperationError
	inner := err
	if errors.As(err, &opErr) {
		inner = opErr.Err
	}
	st, ok := status.FromError(inner)
	if !ok {
		return fmt.Errorf("%w: %v", capability.ErrUnavailable, err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", capability.ErrUnavailable, context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("%w: %w", capability.ErrUnavailable, context.Canceled)
	default:
		return fmt.Errorf("%w: %s: %s", capability.ErrUnavailable, st.Code(), st.Message())
	}
}
