package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// productRegistryABI is the fixed interface of the quality-approval contract.
const productRegistryABI = `[
	{"type":"function","name":"approveProduct","stateMutability":"nonpayable","inputs":[
		{"name":"productId","type":"bytes32"},
		{"name":"testResults","type":"tuple[]","components":[
			{"name":"materialName","type":"string"},
			{"name":"percentage","type":"uint8"}]},
		{"name":"requiredMaterials","type":"string"},
		{"name":"currentStage","type":"string"}],"outputs":[]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"isQualityTester","stateMutability":"view",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"ProductApproved","anonymous":false,"inputs":[
		{"name":"productId","type":"bytes32","indexed":true},
		{"name":"tester","type":"address","indexed":true},
		{"name":"materials","type":"string","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]}
]`

// ChainTestResult mirrors the contract's TestResult tuple.
type ChainTestResult struct {
	MaterialName string
	Percentage   uint8
}

// ProductApprovedEvent is the decoded ProductApproved log.
type ProductApprovedEvent struct {
	ProductId [32]byte
	Tester    common.Address
	Materials string
	Timestamp *big.Int
}

// ApprovalReceipt is a mined approval transaction.
type ApprovalReceipt struct {
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
	Tester      common.Address `json:"tester"`
	Materials   string         `json:"materials"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ProductRegistry is the on-chain side of the approval gate.
type ProductRegistry interface {
	// VerifySigner checks the network and that the signing account is the
	// contract owner or a registered quality tester.
	VerifySigner(ctx context.Context) (common.Address, error)
	// ApproveProduct sends approveProduct and blocks until it is mined.
	ApproveProduct(ctx context.Context, productID common.Hash, results []ChainTestResult, requiredMaterials, currentStage string) (*ApprovalReceipt, error)
	// VerifyApproval checks that txHash was mined successfully and emitted
	// ProductApproved for productID.
	VerifyApproval(ctx context.Context, txHash common.Hash, productID common.Hash) (*ApprovalReceipt, error)
}

// ProductIDHash is the contract's product identifier: keccak256 of the model
// UUID string.
func ProductIDHash(productModelID string) common.Hash {
	return crypto.Keccak256Hash([]byte(productModelID))
}

func toChainResults(results []TestResult) []ChainTestResult {
	chainResults := make([]ChainTestResult, 0, len(results))
	for _, r := range results {
		chainResults = append(chainResults, ChainTestResult{MaterialName: r.MaterialName, Percentage: uint8(r.Percentage)})
	}
	return chainResults
}

func parseRegistryABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(productRegistryABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse contract abi: %w", err)
	}
	return parsed, nil
}

type chainBackend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// EthProductRegistry implements ProductRegistry with go-ethereum.
type EthProductRegistry struct {
	backend       chainBackend
	contract      *bind.BoundContract
	address       common.Address
	chainID       *big.Int
	key           *ecdsa.PrivateKey
	signer        common.Address
	miningTimeout time.Duration
	logger        *zap.Logger
	tracer        trace.Tracer
}

// NewEthProductRegistry binds the approval contract. Without a signer key the
// registry can still verify approvals signed elsewhere.
func NewEthProductRegistry(backend chainBackend, cfg ChainConfig, logger *zap.Logger, tracer trace.Tracer) (*EthProductRegistry, error) {
	parsed, err := parseRegistryABI()
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	address := common.HexToAddress(cfg.ContractAddress)

	registry := &EthProductRegistry{
		backend:       backend,
		contract:      bind.NewBoundContract(address, parsed, backend, backend, backend),
		address:       address,
		chainID:       big.NewInt(cfg.ChainID),
		miningTimeout: cfg.MiningTimeout,
		logger:        logger,
		tracer:        tracer,
	}

	if cfg.SignerKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid signer key: %w", err)
		}
		registry.key = key
		registry.signer = crypto.PubkeyToAddress(key.PublicKey)
	}
	return registry, nil
}

func (r *EthProductRegistry) checkNetwork(ctx context.Context) error {
	chainID, err := r.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	if chainID.Cmp(r.chainID) != 0 {
		return &NetworkMismatchError{Expected: r.chainID.Int64(), Actual: chainID.Int64()}
	}
	return nil
}

// VerifySigner checks the network and the signer's role on the contract.
func (r *EthProductRegistry) VerifySigner(ctx context.Context) (common.Address, error) {
	ctx, span := startChainSpan(ctx, r.tracer, "verify_signer", r.address)
	defer span.End()

	if r.key == nil {
		return common.Address{}, ErrSignerUnavailable
	}
	if err := r.checkNetwork(ctx); err != nil {
		span.RecordError(err)
		return common.Address{}, err
	}

	opts := &bind.CallOpts{Context: ctx}
	var out []interface{}
	if err := r.contract.Call(opts, &out, "owner"); err != nil {
		span.RecordError(err)
		return common.Address{}, classifyChainError(err)
	}
	owner := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if owner == r.signer {
		return r.signer, nil
	}

	out = nil
	if err := r.contract.Call(opts, &out, "isQualityTester", r.signer); err != nil {
		span.RecordError(err)
		return common.Address{}, classifyChainError(err)
	}
	if isTester := *abi.ConvertType(out[0], new(bool)).(*bool); isTester {
		return r.signer, nil
	}

	err := &SignerMismatchError{Required: owner, Actual: r.signer}
	span.RecordError(err)
	return common.Address{}, err
}

// ApproveProduct sends approveProduct and waits until the transaction is
// mined. A failed receipt is never reported as success.
func (r *EthProductRegistry) ApproveProduct(ctx context.Context, productID common.Hash, results []ChainTestResult, requiredMaterials, currentStage string) (*ApprovalReceipt, error) {
	ctx, span := startChainSpan(ctx, r.tracer, "approve_product", r.address)
	defer span.End()
	span.SetAttributes(attribute.String("chain.product_id", productID.Hex()))

	if r.key == nil {
		return nil, ErrSignerUnavailable
	}

	opts, err := bind.NewKeyedTransactorWithChainID(r.key, r.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := r.contract.Transact(opts, "approveProduct", [32]byte(productID), results, requiredMaterials, currentStage)
	if err != nil {
		span.RecordError(err)
		return nil, classifyChainError(err)
	}
	span.SetAttributes(attribute.String("chain.tx_hash", tx.Hash().Hex()))
	r.logger.Info("⏳ [APPROVE PRODUCT] transaction sent, waiting to be mined",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("product_id", productID.Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, r.miningTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, r.backend, tx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %s: %v", ErrTransactionPending, tx.Hash().Hex(), err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		err := ErrTransactionReverted
		if receipt.GasUsed >= tx.Gas() {
			err = ErrOutOfGas
		}
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %s", err, tx.Hash().Hex())
	}

	approval, err := r.approvalFromReceipt(receipt, productID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return approval, nil
}

// VerifyApproval checks a transaction sent by another signer.
func (r *EthProductRegistry) VerifyApproval(ctx context.Context, txHash common.Hash, productID common.Hash) (*ApprovalReceipt, error) {
	ctx, span := startChainSpan(ctx, r.tracer, "verify_approval", r.address)
	defer span.End()
	span.SetAttributes(attribute.String("chain.tx_hash", txHash.Hex()))

	if err := r.checkNetwork(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	receipt, err := r.backend.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTransactionPending, txHash.Hex())
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("%w: %s", ErrTransactionReverted, txHash.Hex())
	}

	return r.approvalFromReceipt(receipt, productID)
}

// approvalFromReceipt finds the ProductApproved log this contract emitted for
// productID.
func (r *EthProductRegistry) approvalFromReceipt(receipt *types.Receipt, productID common.Hash) (*ApprovalReceipt, error) {
	event, err := findProductApproved(r.contract, r.address, receipt.Logs, productID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("%w: transaction %s emitted no ProductApproved event for product %s",
			ErrApprovalRejected, receipt.TxHash.Hex(), productID.Hex())
	}

	approval := &ApprovalReceipt{
		TxHash:    receipt.TxHash,
		Tester:    event.Tester,
		Materials: event.Materials,
	}
	if receipt.BlockNumber != nil {
		approval.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if event.Timestamp != nil {
		approval.Timestamp = time.Unix(event.Timestamp.Int64(), 0).UTC()
	}
	return approval, nil
}

func findProductApproved(contract *bind.BoundContract, address common.Address, logs []*types.Log, productID common.Hash) (*ProductApprovedEvent, error) {
	for _, log := range logs {
		if log == nil || log.Address != address || len(log.Topics) == 0 {
			continue
		}
		var event ProductApprovedEvent
		if err := contract.UnpackLog(&event, "ProductApproved", *log); err != nil {
			continue
		}
		if common.Hash(event.ProductId) == productID {
			return &event, nil
		}
	}
	return nil, nil
}

// classifyChainError maps node and contract errors onto the external error
// kinds.
func classifyChainError(err error) error {
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "insufficient funds"):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case strings.Contains(message, "out of gas"), strings.Contains(message, "gas required exceeds allowance"),
		strings.Contains(message, "intrinsic gas too low"):
		return fmt.Errorf("%w: %v", ErrOutOfGas, err)
	case strings.Contains(message, "execution reverted"), strings.Contains(message, "revert"):
		return fmt.Errorf("%w: %v", ErrTransactionReverted, err)
	default:
		return fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
}
