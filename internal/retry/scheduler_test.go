package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chatlink/bridge-server-go/internal/errors"
	"github.com/chatlink/bridge-server-go/internal/model"
)

type mockMessageRepo struct {
	mock.Mock
}

func (m *mockMessageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.MessageRecord, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MessageRecord), args.Error(1)
}

func (m *mockMessageRepo) FindByID(ctx context.Context, id string) (*model.MessageRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MessageRecord), args.Error(1)
}

func (m *mockMessageRepo) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*model.MessageRecord, error) {
	args := m.Called(ctx, providerMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MessageRecord), args.Error(1)
}

func (m *mockMessageRepo) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.MessageRecord, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MessageRecord), args.Error(1)
}

func (m *mockMessageRepo) UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *mockMessageRepo) UpdateSendResult(ctx context.Context, id string, providerMessageID *string, status model.MessageStatus, errorCode, errorMessage *string) error {
	args := m.Called(ctx, id, providerMessageID, status, errorCode, errorMessage)
	return args.Error(0)
}

func (m *mockMessageRepo) IncrementRetry(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *mockMessageRepo) FindRetryable(ctx context.Context, maxRetries, limit int) ([]model.MessageRecord, error) {
	args := m.Called(ctx, maxRetries, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MessageRecord), args.Error(1)
}

func (m *mockMessageRepo) DeleteOldTerminal(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Resend(ctx context.Context, record *model.MessageRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func newTestScheduler(messages *mockMessageRepo, sender *mockSender, cfg Config) *Scheduler {
	s := NewScheduler(messages, sender, cfg)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func testConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delay:       5 * time.Second,
		Backoff:     BackoffLinear,
		BatchSize:   10,
		Retention:   30 * 24 * time.Hour,
	}
}

func TestBackoffLinear(t *testing.T) {
	s := NewScheduler(nil, nil, Config{Delay: 5 * time.Second, Backoff: BackoffLinear})

	assert.Equal(t, 5*time.Second, s.backoff(1))
	assert.Equal(t, 10*time.Second, s.backoff(2))
	assert.Equal(t, 15*time.Second, s.backoff(3))
}

func TestBackoffExponential(t *testing.T) {
	s := NewScheduler(nil, nil, Config{Delay: 5 * time.Second, Backoff: BackoffExponential})

	assert.Equal(t, 5*time.Second, s.backoff(1))
	assert.Equal(t, 10*time.Second, s.backoff(2))
	assert.Equal(t, 20*time.Second, s.backoff(3))
}

func TestRunRetryPassSuccess(t *testing.T) {
	messages := new(mockMessageRepo)
	sender := new(mockSender)
	s := newTestScheduler(messages, sender, testConfig())

	records := []model.MessageRecord{
		{ID: "msg-1", UserID: "user-1", RetryCount: 0},
		{ID: "msg-2", UserID: "user-1", RetryCount: 1},
	}
	messages.On("FindRetryable", mock.Anything, 3, 10).Return(records, nil)
	messages.On("IncrementRetry", mock.Anything, "msg-1").Return(1, nil)
	messages.On("IncrementRetry", mock.Anything, "msg-2").Return(2, nil)
	sender.On("Resend", mock.Anything, mock.Anything).Return(nil)

	stats, err := s.RunRetryPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, stats.Exhausted)
	sender.AssertNumberOfCalls(t, "Resend", 2)
}

func TestRunRetryPassExhaustsAtCap(t *testing.T) {
	messages := new(mockMessageRepo)
	sender := new(mockSender)
	s := newTestScheduler(messages, sender, testConfig())

	records := []model.MessageRecord{{ID: "msg-1", UserID: "user-1", RetryCount: 2}}
	messages.On("FindRetryable", mock.Anything, 3, 10).Return(records, nil)
	messages.On("IncrementRetry", mock.Anything, "msg-1").Return(3, nil)
	sender.On("Resend", mock.Anything, mock.Anything).Return(apperrors.SendFailure(errors.New("still down")))
	messages.On("UpdateSendResult", mock.Anything, "msg-1", (*string)(nil),
		model.MessageStatusFailed,
		mock.MatchedBy(func(code *string) bool {
			return code != nil && *code == string(apperrors.ErrCodeMaxRetriesExceeded)
		}),
		mock.AnythingOfType("*string")).Return(nil)

	stats, err := s.RunRetryPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exhausted)
	assert.Equal(t, 0, stats.Failed)
	messages.AssertExpectations(t)
}

func TestRunRetryPassFailureBelowCap(t *testing.T) {
	messages := new(mockMessageRepo)
	sender := new(mockSender)
	s := newTestScheduler(messages, sender, testConfig())

	records := []model.MessageRecord{{ID: "msg-1", UserID: "user-1", RetryCount: 0}}
	messages.On("FindRetryable", mock.Anything, 3, 10).Return(records, nil)
	messages.On("IncrementRetry", mock.Anything, "msg-1").Return(1, nil)
	sender.On("Resend", mock.Anything, mock.Anything).Return(apperrors.SendFailure(errors.New("transient")))

	stats, err := s.RunRetryPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Exhausted)
	// Below the cap the record keeps its plain failed state for the next pass.
	messages.AssertNotCalled(t, "UpdateSendResult",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunRetryPassDefersWhenSessionDown(t *testing.T) {
	messages := new(mockMessageRepo)
	sender := new(mockSender)
	s := newTestScheduler(messages, sender, testConfig())

	records := []model.MessageRecord{{ID: "msg-1", UserID: "user-1", RetryCount: 2}}
	messages.On("FindRetryable", mock.Anything, 3, 10).Return(records, nil)
	sender.On("Resend", mock.Anything, mock.Anything).Return(apperrors.SessionNotActive())

	stats, err := s.RunRetryPass(context.Background())
	require.NoError(t, err)
	// A down session is deferral, not a delivery failure.
	assert.Equal(t, 1, stats.Deferred)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, stats.Exhausted)
	// No attempt is burned while the session is down.
	messages.AssertNotCalled(t, "IncrementRetry", mock.Anything, mock.Anything)
}

func TestRunRetryPassEmptyBatch(t *testing.T) {
	messages := new(mockMessageRepo)
	sender := new(mockSender)
	s := newTestScheduler(messages, sender, testConfig())

	messages.On("FindRetryable", mock.Anything, 3, 10).Return([]model.MessageRecord{}, nil)

	stats, err := s.RunRetryPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scanned)
	sender.AssertNotCalled(t, "Resend", mock.Anything, mock.Anything)
}

func TestRunRetryPassStopsOnCancel(t *testing.T) {
	messages := new(mockMessageRepo)
	sender := new(mockSender)
	s := newTestScheduler(messages, sender, testConfig())

	ctx, cancel := context.WithCancel(context.Background())

	records := []model.MessageRecord{
		{ID: "msg-1", UserID: "user-1"},
		{ID: "msg-2", UserID: "user-1"},
	}
	messages.On("FindRetryable", mock.Anything, 3, 10).Return(records, nil)
	messages.On("IncrementRetry", mock.Anything, "msg-1").Return(1, nil)
	sender.On("Resend", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		cancel()
	}).Return(nil)

	stats, err := s.RunRetryPass(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	sender.AssertNumberOfCalls(t, "Resend", 1)
}

func TestRunCleanupPass(t *testing.T) {
	messages := new(mockMessageRepo)
	s := newTestScheduler(messages, new(mockSender), testConfig())

	messages.On("DeleteOldTerminal", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		want := time.Now().Add(-30 * 24 * time.Hour)
		return cutoff.Sub(want).Abs() < time.Minute
	})).Return(int64(4), nil)

	deleted, err := s.RunCleanupPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
}
