package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atelier-supply/workflow/composition"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// MockRegistry simulates the approval contract
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) VerifySigner(ctx context.Context) (common.Address, error) {
	args := m.Called(ctx)
	return args.Get(0).(common.Address), args.Error(1)
}

func (m *MockRegistry) ApproveProduct(ctx context.Context, productID common.Hash, results []ChainTestResult, requiredMaterials, currentStage string) (*ApprovalReceipt, error) {
	args := m.Called(ctx, productID, results, requiredMaterials, currentStage)
	receipt, _ := args.Get(0).(*ApprovalReceipt)
	return receipt, args.Error(1)
}

func (m *MockRegistry) VerifyApproval(ctx context.Context, txHash common.Hash, productID common.Hash) (*ApprovalReceipt, error) {
	args := m.Called(ctx, txHash, productID)
	receipt, _ := args.Get(0).(*ApprovalReceipt)
	return receipt, args.Error(1)
}

// memoryLock is an in-process ApprovalLock.
type memoryLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemoryLock() *memoryLock {
	return &memoryLock{held: map[string]bool{}}
}

func (l *memoryLock) Acquire(ctx context.Context, productModelID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[productModelID] {
		return nil, fmt.Errorf("%w: approval in flight", ErrConflict)
	}
	l.held[productModelID] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, productModelID)
	}, nil
}

var (
	signerAddress = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	ownerAddress  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	approvalTx    = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
)

type gateFixture struct {
	gate     *ApprovalGate
	useCase  *WorkflowUseCase
	repo     *MemoryRepository
	registry *MockRegistry
	lock     *memoryLock
}

func newGateFixture(t *testing.T, withRegistry bool) *gateFixture {
	t.Helper()

	uc, repo := newTestUseCase(t)
	registry := &MockRegistry{}
	lock := newMemoryLock()

	var productRegistry ProductRegistry
	if withRegistry {
		productRegistry = registry
	}
	gate, err := NewApprovalGate(repo, productRegistry, uc, lock, composition.MatchSubstring, zap.NewNop(),
		tracenoop.NewTracerProvider().Tracer("test"), metricnoop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	return &gateFixture{gate: gate, useCase: uc, repo: repo, registry: registry, lock: lock}
}

// productUnderTest seeds a model in testing with one lab result per
// "name=percentage" pair.
func (f *gateFixture) productUnderTest(t *testing.T, id, materials string, results ...string) {
	t.Helper()
	seedProductModel(f.repo, id, StageTesting, materials)
	for _, r := range results {
		name, pct, ok := strings.Cut(r, "=")
		require.True(t, ok)
		var percentage int
		_, err := fmt.Sscanf(pct, "%d", &percentage)
		require.NoError(t, err)
		_, err = f.useCase.VerifyMaterial(context.Background(), lab, VerifyMaterialRequest{
			ProductModelID: id, MaterialName: name, Percentage: &percentage,
		})
		require.NoError(t, err)
	}
}

func minedReceipt() *ApprovalReceipt {
	return &ApprovalReceipt{
		TxHash:      approvalTx,
		BlockNumber: 42,
		Tester:      signerAddress,
		Materials:   "Vuna 100%",
		Timestamp:   time.Unix(1740800000, 0).UTC(),
	}
}

func TestApproveOnChainHappyPath(t *testing.T) {
	// Arrange
	f := newGateFixture(t, true)
	f.productUnderTest(t, "product-1", "Vuna 100%", "Vuna=100")
	productID := ProductIDHash("product-1")

	f.registry.On("VerifySigner", mock.Anything).Return(signerAddress, nil)
	f.registry.On("ApproveProduct", mock.Anything, productID,
		[]ChainTestResult{{MaterialName: "Vuna", Percentage: 100}}, "Vuna 100%", StageTesting).
		Return(minedReceipt(), nil)

	// Act
	result, err := f.gate.ApproveOnChain(context.Background(), tester, "product-1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, StageApproved, result.Product.DevelopmentStage)
	assert.Equal(t, approvalTx.Hex(), result.Product.ApprovalTxHash)
	assert.Equal(t, tester.ID, result.Product.ApprovedBy)
	assert.Equal(t, uint64(42), result.Receipt.BlockNumber)
	f.registry.AssertExpectations(t)

	_, err = f.lock.Acquire(context.Background(), "product-1")
	assert.NoError(t, err, "lock is released after the approval")
}

func TestApproveOnChainRejectsWrongStage(t *testing.T) {
	f := newGateFixture(t, true)
	seedProductModel(f.repo, "product-1", StagePrototype, "Vuna 100%")

	_, err := f.gate.ApproveOnChain(context.Background(), tester, "product-1")

	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, ReasonWrongStage, precondition.Reason)
	f.registry.AssertNotCalled(t, "ApproveProduct", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// interleavingLock lets a competing approval run to completion while the
// first caller is still waiting for the lock.
type interleavingLock struct {
	*memoryLock
	competing func()
	fired     bool
}

func (l *interleavingLock) Acquire(ctx context.Context, productModelID string) (func(), error) {
	if !l.fired {
		l.fired = true
		l.competing()
	}
	return l.memoryLock.Acquire(ctx, productModelID)
}

func TestApproveOnChainRechecksAfterWaitingForLock(t *testing.T) {
	// Arrange
	f := newGateFixture(t, true)
	f.productUnderTest(t, "product-1", "Vuna 100%", "Vuna=100")
	productID := ProductIDHash("product-1")

	f.registry.On("VerifySigner", mock.Anything).Return(signerAddress, nil)
	f.registry.On("ApproveProduct", mock.Anything, productID,
		[]ChainTestResult{{MaterialName: "Vuna", Percentage: 100}}, "Vuna 100%", StageTesting).
		Return(minedReceipt(), nil).Once()

	lock := &interleavingLock{memoryLock: f.lock}
	gate, err := NewApprovalGate(f.repo, f.registry, f.useCase, lock, composition.MatchSubstring, zap.NewNop(),
		tracenoop.NewTracerProvider().Tracer("test"), metricnoop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	var competingErr error
	lock.competing = func() {
		_, competingErr = gate.ApproveOnChain(context.Background(), Actor{ID: "tester-2", Kind: ActorTester}, "product-1")
	}

	// Act
	_, err = gate.ApproveOnChain(context.Background(), tester, "product-1")

	// Assert
	require.NoError(t, competingErr)
	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, ReasonWrongStage, precondition.Reason)
	f.registry.AssertNumberOfCalls(t, "ApproveProduct", 1)

	product, _ := f.repo.GetProductModel(context.Background(), "product-1")
	assert.Equal(t, StageApproved, product.DevelopmentStage)
	assert.Equal(t, approvalTx.Hex(), product.ApprovalTxHash)
	assert.Equal(t, "tester-2", product.ApprovedBy)
}

func TestApproveOnChainRejectsMissingMaterialEvenIfTotalIs100(t *testing.T) {
	// Arrange
	f := newGateFixture(t, true)
	f.productUnderTest(t, "product-1", "Pamuk 80%, Elastan 20%", "Pamuk=80", "Poliester=20")

	// Act
	check, err := f.gate.Check(context.Background(), "product-1")
	require.NoError(t, err)
	_, approveErr := f.gate.ApproveOnChain(context.Background(), tester, "product-1")

	// Assert
	assert.False(t, check.Ready)
	require.NotNil(t, check.Validation)
	require.Len(t, check.Validation.Mismatches, 1)
	assert.Equal(t, composition.MismatchMissingResult, check.Validation.Mismatches[0].Kind)
	assert.Equal(t, "Elastan", check.Validation.Mismatches[0].Material)
	assert.ErrorIs(t, approveErr, ErrApprovalRejected)

	product, _ := f.repo.GetProductModel(context.Background(), "product-1")
	assert.Equal(t, StageTesting, product.DevelopmentStage)
}

func TestApprovalCheckPercentageMismatch(t *testing.T) {
	f := newGateFixture(t, true)
	f.productUnderTest(t, "product-1", "Vuna 100%", "Vuna=90")

	check, err := f.gate.Check(context.Background(), "product-1")

	require.NoError(t, err)
	assert.False(t, check.Ready)
	require.Len(t, check.Validation.Mismatches, 1)
	assert.Equal(t, composition.MismatchPercentage, check.Validation.Mismatches[0].Kind)
	assert.Equal(t, []int{90}, check.Validation.Mismatches[0].Tested)
}

func TestApprovalCheckNotYetTested(t *testing.T) {
	f := newGateFixture(t, true)
	seedProductModel(f.repo, "product-1", StageTesting, "Vuna 100%")

	check, err := f.gate.Check(context.Background(), "product-1")

	require.NoError(t, err)
	assert.False(t, check.Ready)
	assert.Equal(t, ReasonNotYetTested, check.Reason)
	assert.Equal(t, ProductIDHash("product-1").Hex(), check.ProductIDHash)
}

func TestApproveOnChainSignerMismatch(t *testing.T) {
	// Arrange
	f := newGateFixture(t, true)
	f.productUnderTest(t, "product-1", "Vuna 100%", "Vuna=100")
	f.registry.On("VerifySigner", mock.Anything).
		Return(common.Address{}, &SignerMismatchError{Required: ownerAddress, Actual: signerAddress})

	// Act
	_, err := f.gate.ApproveOnChain(context.Background(), tester, "product-1")

	// Assert
	assert.ErrorIs(t, err, ErrUnauthorizedSigner)
	assert.Contains(t, err.Error(), ownerAddress.Hex())
	assert.Contains(t, err.Error(), signerAddress.Hex())
	f.registry.AssertNotCalled(t, "ApproveProduct", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	product, _ := f.repo.GetProductModel(context.Background(), "product-1")
	assert.Equal(t, StageTesting, product.DevelopmentStage)
}

func TestApproveOnChainRevertLeavesModelInTesting(t *testing.T) {
	f := newGateFixture(t, true)
	f.productUnderTest(t, "product-1", "Vuna 100%", "Vuna=100")
	f.registry.On("VerifySigner", mock.Anything).Return(signerAddress, nil)
	f.registry.On("ApproveProduct", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: %s", ErrTransactionReverted, approvalTx.Hex()))

	_, err := f.gate.ApproveOnChain(context.Background(), tester, "product-1")

	assert.ErrorIs(t, err, ErrTransactionReverted)
	product, _ := f.repo.GetProductModel(context.Background(), "product-1")
	assert.Equal(t, StageTesting, product.DevelopmentStage)
	assert.Empty(t, product.ApprovalTxHash)
}

func TestApproveOnChainWithoutRegistry(t *testing.T) {
	f := newGateFixture(t, false)
	f.productUnderTest(t, "product-1", "Vuna 100%", "Vuna=100")

	_, err := f.gate.ApproveOnChain(context.Background(), tester, "product-1")

	assert.ErrorIs(t, err, ErrSignerUnavailable)
}

func TestApproveOnChainRequiresTester(t *testing.T) {
	f := newGateFixture(t, true)

	_, err := f.gate.ApproveOnChain(context.Background(), lab, "product-1")

	assert.ErrorIs(t, err, ErrForbidden)
}

func TestApproveOnChainWhileAnotherApprovalIsInFlight(t *testing.T) {
	f := newGateFixture(t, true)
	f.productUnderTest(t, "product-1", "Vuna 100%", "Vuna=100")
	release, err := f.lock.Acquire(context.Background(), "product-1")
	require.NoError(t, err)
	defer release()

	_, err = f.gate.ApproveOnChain(context.Background(), tester, "product-1")

	assert.ErrorIs(t, err, ErrConflict)
	f.registry.AssertNotCalled(t, "VerifySigner", mock.Anything)
}

func TestRecordExternalApproval(t *testing.T) {
	// Arrange
	f := newGateFixture(t, true)
	f.productUnderTest(t, "product-1", "Vuna 95%, Viskoza 5%", "Vuna=95", "Viskoza=5")
	f.registry.On("VerifyApproval", mock.Anything, approvalTx, ProductIDHash("product-1")).
		Return(minedReceipt(), nil).Once()

	req := RecordApprovalRequest{TxHash: approvalTx.Hex(), RequiredMaterials: "Vuna 95%, Viskoza 5%"}

	// Act
	result, err := f.gate.RecordExternal(context.Background(), tester, "product-1", req)
	require.NoError(t, err)
	again, againErr := f.gate.RecordExternal(context.Background(), tester, "product-1", req)

	// Assert
	assert.Equal(t, StageApproved, result.Product.DevelopmentStage)
	require.NoError(t, againErr, "recording the same transaction twice is a no-op")
	assert.Equal(t, approvalTx.Hex(), again.Product.ApprovalTxHash)
	f.registry.AssertNumberOfCalls(t, "VerifyApproval", 1)
}

func TestRecordExternalValidation(t *testing.T) {
	f := newGateFixture(t, true)
	f.productUnderTest(t, "product-1", "Vuna 100%", "Vuna=100")

	_, err := f.gate.RecordExternal(context.Background(), tester, "product-1", RecordApprovalRequest{TxHash: "0x1234"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.gate.RecordExternal(context.Background(), tester, "product-1", RecordApprovalRequest{
		TxHash: approvalTx.Hex(), RequiredMaterials: "Vuna 90%, Svila 10%",
	})
	assert.ErrorIs(t, err, ErrValidation)
	f.registry.AssertNotCalled(t, "VerifyApproval", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordExternalPendingTransaction(t *testing.T) {
	f := newGateFixture(t, true)
	f.productUnderTest(t, "product-1", "Vuna 100%", "Vuna=100")
	f.registry.On("VerifyApproval", mock.Anything, approvalTx, ProductIDHash("product-1")).
		Return(nil, fmt.Errorf("%w: %s", ErrTransactionPending, approvalTx.Hex()))

	_, err := f.gate.RecordExternal(context.Background(), tester, "product-1", RecordApprovalRequest{TxHash: approvalTx.Hex()})

	assert.ErrorIs(t, err, ErrTransactionPending)
	product, _ := f.repo.GetProductModel(context.Background(), "product-1")
	assert.Equal(t, StageTesting, product.DevelopmentStage)
}
