package grpcclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/creditledger/pkg/logger"
	"github.com/wyfcoding/creditledger/pkg/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(codes.Unavailable))
	assert.True(t, shouldRetry(codes.ResourceExhausted))
	assert.False(t, shouldRetry(codes.Aborted))
	assert.False(t, shouldRetry(codes.DeadlineExceeded))
	assert.False(t, shouldRetry(codes.InvalidArgument))
}

func TestUnaryInterceptorRetriesUnavailable(t *testing.T) {
	interceptor := unaryClientInterceptor(ClientConfig{MaxRetries: 2, RetryDelay: 1})

	calls := 0
	invoker := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		calls++
		if calls < 3 {
			return status.Error(codes.Unavailable, "down")
		}
		return nil
	}
	require.NoError(t, interceptor(context.Background(), "/m", nil, nil, nil, invoker))
	assert.Equal(t, 3, calls)
}

func TestUnaryInterceptorDoesNotRetryBusinessErrors(t *testing.T) {
	interceptor := unaryClientInterceptor(ClientConfig{MaxRetries: 3, RetryDelay: 1})

	calls := 0
	invoker := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		calls++
		return status.Error(codes.FailedPrecondition, "insufficient reviewers")
	}
	err := interceptor(context.Background(), "/m", nil, nil, nil, invoker)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, 1, calls)
}

func TestUnaryInterceptorPropagatesTraceID(t *testing.T) {
	interceptor := unaryClientInterceptor(ClientConfig{})

	var got []string
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		got = md.Get(middleware.TraceIDHeader)
		return nil
	}
	ctx := logger.WithTraceID(context.Background(), "trace-42")
	require.NoError(t, interceptor(ctx, "/m", nil, nil, nil, invoker))
	assert.Equal(t, []string{"trace-42"}, got)
}

func TestNewClientIsLazy(t *testing.T) {
	conn, err := NewClient(ClientConfig{Target: "passthrough:///127.0.0.1:1", ConnTimeout: 1, EnableKeepalive: true, KeepaliveInterval: 30})
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}
