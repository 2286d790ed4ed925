// Package types contains public API types for the fee load tester.
// These types form the external interface and must remain backwards-compatible.
package types

import (
	"fmt"
	"time"
)

// TinybarsPerHbar is the number of tinybars in one HBAR.
const TinybarsPerHbar = 100_000_000

// ActionKind is an operator-facing name of a load-test action.
type ActionKind string

const (
	ActionApproveAllowance  ActionKind = "Approve allowance"
	ActionEthTransaction    ActionKind = "Eth transaction"
	ActionTransferHbar      ActionKind = "Transfer HBar"
	ActionTransferNFT       ActionKind = "Transfer token(NFT)"
	ActionTransferFT        ActionKind = "Transfer token(FT)"
	ActionTokenAssociate    ActionKind = "TOKEN ASSOCIATE"
	ActionFileAppend        ActionKind = "FILE APPEND"
	ActionCallContract      ActionKind = "Call contract"
	ActionCallContractTwice ActionKind = "Call contract twice"
	ActionMintNFT           ActionKind = "Mint token(NFT)"
	ActionMintFT            ActionKind = "Mint token(FT)"
	ActionBurnToken         ActionKind = "Burn token"
	ActionCreateAccount     ActionKind = "Create account"
	ActionSubmitMessage     ActionKind = "Submit message"
)

var actionKinds = []ActionKind{
	ActionApproveAllowance,
	ActionEthTransaction,
	ActionTransferHbar,
	ActionTransferNFT,
	ActionTransferFT,
	ActionTokenAssociate,
	ActionFileAppend,
	ActionCallContract,
	ActionCallContractTwice,
	ActionMintNFT,
	ActionMintFT,
	ActionBurnToken,
	ActionCreateAccount,
	ActionSubmitMessage,
}

// AllActionKinds returns every action kind in declaration order.
func AllActionKinds() []ActionKind {
	out := make([]ActionKind, len(actionKinds))
	copy(out, actionKinds)
	return out
}

// ParseActionKind resolves an operator-facing name to an ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	for _, k := range actionKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// RequiresEVMKey reports whether the action signs with the operator key as an
// EVM (secp256k1) key.
func (k ActionKind) RequiresEVMKey() bool {
	return k == ActionEthTransaction
}

// NeedsContract reports whether the action calls the deployed test contract.
func (k ActionKind) NeedsContract() bool {
	return k == ActionCallContract || k == ActionCallContractTwice
}

// ResultType is the category a fee record is reported under.
type ResultType string

const (
	ResultCryptoTransfer         ResultType = "CRYPTO_TRANSFER"
	ResultContractCall           ResultType = "CONTRACT_CALL"
	ResultTokenMintNFT           ResultType = "TOKEN_MINT_NFT"
	ResultTokenMintFT            ResultType = "TOKEN_MINT_FT"
	ResultCryptoApproveAllowance ResultType = "CRYPTO_APPROVE_ALLOWANCE"
	ResultTokenBurn              ResultType = "TOKEN_BURN"
	ResultCryptoCreateAccount    ResultType = "CRYPTO_CREATE_ACCOUNT"
	ResultTokenAssociate         ResultType = "TOKEN_ASSOCIATE"
	ResultFileAppend             ResultType = "FILE_APPEND"
	ResultEthereumTransaction    ResultType = "ETHEREUM_TRANSACTION"
	ResultConsensusSubmitMessage ResultType = "CONSENSUS_SUBMIT_MESSAGE"
)

var resultTypes = []ResultType{
	ResultCryptoTransfer,
	ResultContractCall,
	ResultTokenMintNFT,
	ResultTokenMintFT,
	ResultCryptoApproveAllowance,
	ResultTokenBurn,
	ResultCryptoCreateAccount,
	ResultTokenAssociate,
	ResultFileAppend,
	ResultEthereumTransaction,
	ResultConsensusSubmitMessage,
}

// AllResultTypes returns every result type in report order.
func AllResultTypes() []ResultType {
	out := make([]ResultType, len(resultTypes))
	copy(out, resultTypes)
	return out
}

// IsEVM reports whether records of this type carry gas information.
func (t ResultType) IsEVM() bool {
	return t == ResultContractCall || t == ResultEthereumTransaction
}

// scheduledFeesUSD are the published per-transaction fees in USD.
var scheduledFeesUSD = map[ResultType]float64{
	ResultCryptoTransfer:         0.0001,
	ResultContractCall:           0.0085,
	ResultConsensusSubmitMessage: 0.0001,
	ResultTokenMintNFT:           0.02,
	ResultTokenMintFT:            0.001,
	ResultEthereumTransaction:    0.0001,
	ResultCryptoApproveAllowance: 0.05,
	ResultTokenBurn:              0.001,
	ResultCryptoCreateAccount:    0.05,
	ResultTokenAssociate:         0.05,
	ResultFileAppend:             0.05,
}

// ScheduledFeeUSD returns the published fee for t.
func (t ResultType) ScheduledFeeUSD() float64 {
	return scheduledFeesUSD[t]
}

// FeeRecord is the fee outcome of one successful low-level operation.
type FeeRecord struct {
	Type          ResultType `json:"type"`
	TransactionID string     `json:"transactionId"`
	FeeTinybars   int64      `json:"feeTinybars"`
	GasUsed       *uint64    `json:"gasUsed,omitempty"`
	GasPrice      *uint64    `json:"gasPrice,omitempty"` // tinybars per gas unit
	RecordedAt    time.Time  `json:"recordedAt"`
}

// FeeHbar returns the fee in HBAR.
func (r FeeRecord) FeeHbar() float64 {
	return float64(r.FeeTinybars) / TinybarsPerHbar
}

// Network identifies the target Hedera network.
type Network string

const (
	NetworkMainnet  Network = "mainnet"
	NetworkTestnet  Network = "testnet"
	NetworkLocalnet Network = "localnet"
)

// RunStatus represents the state of the run pipeline.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusPreparing RunStatus = "preparing"
	StatusRunning   RunStatus = "running"
	StatusRetrying  RunStatus = "retrying"
	StatusReporting RunStatus = "reporting"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
)

// RunProgress is the live state of a run.
type RunProgress struct {
	RunID       string         `json:"runId,omitempty"`
	Status      RunStatus      `json:"status"`
	Attempt     int            `json:"attempt"`   // 0 is the first pass
	Completed   int            `json:"completed"` // items finished in this attempt
	Total       int            `json:"total"`     // items scheduled in this attempt
	Records     int            `json:"records"`   // fee records collected so far
	Failed      int            `json:"failed"`    // outstanding failures
	Unrecovered []ActionKind   `json:"unrecovered,omitempty"`
	ReportDir   string         `json:"reportDir,omitempty"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	ElapsedMs   int64          `json:"elapsedMs"`
	Error       string         `json:"error,omitempty"`
	ByType      map[string]int `json:"byType,omitempty"`
	Latency     *LatencyStats  `json:"latency,omitempty"` // action execution time
}

// LatencyStats summarizes action execution times in milliseconds.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`
	Max     float64         `json:"max"`
	Avg     float64         `json:"avg"`
	P50     float64         `json:"p50"`
	P90     float64         `json:"p90"`
	P95     float64         `json:"p95"`
	P99     float64         `json:"p99"`
	Buckets []LatencyBucket `json:"buckets"`
}

// LatencyBucket is one histogram bucket.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// RunResult stores the outcome of a completed run.
type RunResult struct {
	ID          string          `json:"id"`
	Network     Network         `json:"network"`
	Status      RunStatus       `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt"`
	DurationMs  int64           `json:"durationMs"`
	Items       int             `json:"items"`
	Records     int             `json:"records"`
	RetryRounds int             `json:"retryRounds"`
	Resynced    bool            `json:"resynced"`
	Unrecovered []ActionKind    `json:"unrecovered,omitempty"`
	ReportDir   string          `json:"reportDir,omitempty"`
	PriceUSD    float64         `json:"priceUsd,omitempty"`
	Error       string          `json:"error,omitempty"`
	Config      StartRunRequest `json:"config"`
}

// StartRunRequest is the API request to start a run.
type StartRunRequest struct {
	Quantity    int          `json:"quantity"`
	Actions     []ActionKind `json:"actions,omitempty"` // empty means all registered actions
	Concurrency int          `json:"concurrency,omitempty"`
}

// Resources identifies network entities shared by the actions of a session.
// They are cached per network and reused by later sessions.
type Resources struct {
	TopicID         string `json:"topicId,omitempty"`
	NFTTokenID      string `json:"tokenId,omitempty"`
	FTTokenID       string `json:"fungibleTokenId,omitempty"`
	FileID          string `json:"fileId,omitempty"`
	ContractID      string `json:"contractId,omitempty"`
	ContractFileID  string `json:"contractFileId,omitempty"`
	ReceiverAccount string `json:"receiverAccount,omitempty"`
}
