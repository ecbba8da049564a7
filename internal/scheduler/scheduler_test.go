package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/models"
)

type MockStakingEngine struct {
	mock.Mock
}

func (m *MockStakingEngine) Stake(ctx context.Context, accountID int64, amount decimal.Decimal) (*models.StakingPosition, error) {
	args := m.Called(ctx, accountID, amount)
	p, _ := args.Get(0).(*models.StakingPosition)
	return p, args.Error(1)
}

func (m *MockStakingEngine) Unstake(ctx context.Context, accountID, stakingID int64) (*models.StakingPosition, error) {
	args := m.Called(ctx, accountID, stakingID)
	p, _ := args.Get(0).(*models.StakingPosition)
	return p, args.Error(1)
}

func (m *MockStakingEngine) Settle(ctx context.Context, stakingID int64) (*models.StakingPosition, bool, error) {
	args := m.Called(ctx, stakingID)
	p, _ := args.Get(0).(*models.StakingPosition)
	return p, args.Bool(1), args.Error(2)
}

func (m *MockStakingEngine) SweepMatured(ctx context.Context, batchSize int) (*engine.SweepResult, error) {
	args := m.Called(ctx, batchSize)
	r, _ := args.Get(0).(*engine.SweepResult)
	return r, args.Error(1)
}

func (m *MockStakingEngine) ListFor(ctx context.Context, accountID int64) ([]*models.StakingPosition, error) {
	args := m.Called(ctx, accountID)
	ps, _ := args.Get(0).([]*models.StakingPosition)
	return ps, args.Error(1)
}

type MockSweepRecorder struct {
	mock.Mock
}

func (m *MockSweepRecorder) RecordSweep(settled, failed int, duration time.Duration) {
	m.Called(settled, failed, duration)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRunOnceRecordsResult(t *testing.T) {
	staking := new(MockStakingEngine)
	recorder := new(MockSweepRecorder)
	result := &engine.SweepResult{Settled: 4, Failed: 1, Elapsed: 20 * time.Millisecond}

	staking.On("SweepMatured", mock.Anything, 50).Return(result, nil).Once()
	recorder.On("RecordSweep", 4, 1, 20*time.Millisecond).Once()

	s := NewStakingSweeper(staking, recorder, "@every 1m", 50, quietLogger())
	got, err := s.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, result, got)
	staking.AssertExpectations(t)
	recorder.AssertExpectations(t)
}

func TestRunOnceError(t *testing.T) {
	staking := new(MockStakingEngine)
	recorder := new(MockSweepRecorder)
	staking.On("SweepMatured", mock.Anything, 10).Return(nil, errors.New("database is locked")).Once()

	s := NewStakingSweeper(staking, recorder, "@every 1m", 10, quietLogger())
	_, err := s.RunOnce(context.Background())

	assert.EqualError(t, err, "database is locked")
	recorder.AssertNotCalled(t, "RecordSweep", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewStakingSweeper(new(MockStakingEngine), nil, "every tuesday", 10, quietLogger())
	assert.Error(t, s.Start())
}

func TestStartAndStop(t *testing.T) {
	staking := new(MockStakingEngine)
	staking.On("SweepMatured", mock.Anything, 10).Return(&engine.SweepResult{}, nil).Maybe()

	s := NewStakingSweeper(staking, nil, "@every 1h", 10, quietLogger())
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
