package hedera

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	hsdk "github.com/hashgraph/hedera-sdk-go/v2"

	"github.com/gateway-fm/tvt/pkg/types"
)

// Gas limits for contract transactions.
const (
	ContractCreateGas  = 1_000_000
	ContractExecuteGas = 100_000
)

// fileChunk is the largest content size sent with a FileCreateTransaction.
const fileChunk = 4096

// SessionConfig holds Session settings.
type SessionConfig struct {
	Client   *hsdk.Client
	Operator Operator

	// Bytecode is the hex-encoded contract deployed for contract calls.
	// Without it, contract actions are not registered.
	Bytecode string

	// Reuse lists previously created entities.
	Reuse types.Resources

	Logger *slog.Logger
}

// Session owns the network entities shared by all actions of a run: a
// receiver wallet, a topic, an NFT and a fungible token, a file, and an
// optional contract.
type Session struct {
	client   *hsdk.Client
	operator Operator
	logger   *slog.Logger

	receiver    hsdk.AccountID
	receiverKey hsdk.PrivateKey
	topic       hsdk.TopicID
	nft         hsdk.TokenID
	ft          hsdk.TokenID
	file        hsdk.FileID
	contract    *hsdk.ContractID
	contractFID string
}

// NewSession creates or reuses the shared entities.
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		client:   cfg.Client,
		operator: cfg.Operator,
		logger:   logger,
	}

	steps := []struct {
		name string
		fn   func(context.Context, SessionConfig) error
	}{
		{"topic", s.setupTopic},
		{"nft token", s.setupNFT},
		{"fungible token", s.setupFT},
		{"file", s.setupFile},
		{"receiver", s.setupReceiver},
		{"contract", s.setupContract},
	}
	for _, step := range steps {
		if err := step.fn(ctx, cfg); err != nil {
			return nil, fmt.Errorf("setup %s: %w", step.name, err)
		}
	}

	logger.Info("session ready",
		slog.String("operator", s.operator.ID.String()),
		slog.String("receiver", s.receiver.String()),
		slog.String("topic", s.topic.String()),
		slog.String("nft", s.nft.String()),
		slog.String("ft", s.ft.String()),
		slog.String("file", s.file.String()),
		slog.Bool("contract", s.contract != nil))
	return s, nil
}

// Resources returns the entities in use so they can be persisted.
func (s *Session) Resources() types.Resources {
	r := types.Resources{
		TopicID:         s.topic.String(),
		NFTTokenID:      s.nft.String(),
		FTTokenID:       s.ft.String(),
		FileID:          s.file.String(),
		ReceiverAccount: s.receiver.String(),
		ContractFileID:  s.contractFID,
	}
	if s.contract != nil {
		r.ContractID = s.contract.String()
	}
	return r
}

// Receiver returns the wallet that receives transfers and allowances.
func (s *Session) Receiver() hsdk.AccountID {
	return s.receiver
}

// ReceiverSolidityAddress returns the receiver's long-zero EVM address as
// 40 hex characters.
func (s *Session) ReceiverSolidityAddress() string {
	return s.receiver.ToSolidityAddress()
}

// HasContract reports whether contract actions are available.
func (s *Session) HasContract() bool {
	return s.contract != nil
}

// Balance returns the operator's HBAR balance.
func (s *Session) Balance(ctx context.Context) (hsdk.Hbar, error) {
	if err := ctx.Err(); err != nil {
		return hsdk.Hbar{}, err
	}
	balance, err := hsdk.NewAccountBalanceQuery().
		SetAccountID(s.operator.ID).
		Execute(s.client)
	if err != nil {
		return hsdk.Hbar{}, fmt.Errorf("balance of %s: %w", s.operator.ID, err)
	}
	return balance.Hbars, nil
}

func (s *Session) setupTopic(ctx context.Context, cfg SessionConfig) error {
	if cfg.Reuse.TopicID != "" {
		id, err := hsdk.TopicIDFromString(cfg.Reuse.TopicID)
		if err != nil {
			return err
		}
		s.topic = id
		return nil
	}
	tx := hsdk.NewTopicCreateTransaction().SetAdminKey(s.operator.Key.PublicKey())
	_, receipt, err := s.submit(ctx, "", tx)
	if err != nil {
		return err
	}
	if receipt.TopicID == nil {
		return fmt.Errorf("receipt has no topic id")
	}
	s.topic = *receipt.TopicID
	return nil
}

func (s *Session) setupNFT(ctx context.Context, cfg SessionConfig) error {
	id, err := s.setupToken(ctx, cfg.Reuse.NFTTokenID, hsdk.TokenTypeNonFungibleUnique)
	s.nft = id
	return err
}

func (s *Session) setupFT(ctx context.Context, cfg SessionConfig) error {
	id, err := s.setupToken(ctx, cfg.Reuse.FTTokenID, hsdk.TokenTypeFungibleCommon)
	s.ft = id
	return err
}

func (s *Session) setupToken(ctx context.Context, reuse string, tokenType hsdk.TokenType) (hsdk.TokenID, error) {
	if reuse != "" {
		return hsdk.TokenIDFromString(reuse)
	}
	pub := s.operator.Key.PublicKey()
	tx := hsdk.NewTokenCreateTransaction().
		SetTokenName("TVT Token").
		SetTokenSymbol("TVT").
		SetTokenType(tokenType).
		SetTreasuryAccountID(s.operator.ID).
		SetSupplyType(hsdk.TokenSupplyTypeInfinite).
		SetAdminKey(pub).
		SetSupplyKey(pub).
		SetWipeKey(pub)
	if tokenType == hsdk.TokenTypeFungibleCommon {
		tx.SetDecimals(0).SetInitialSupply(1_000_000_000)
	}
	_, receipt, err := s.submit(ctx, "", tx)
	if err != nil {
		return hsdk.TokenID{}, err
	}
	if receipt.TokenID == nil {
		return hsdk.TokenID{}, fmt.Errorf("receipt has no token id")
	}
	return *receipt.TokenID, nil
}

func (s *Session) setupFile(ctx context.Context, cfg SessionConfig) error {
	if cfg.Reuse.FileID != "" {
		id, err := hsdk.FileIDFromString(cfg.Reuse.FileID)
		if err != nil {
			return err
		}
		s.file = id
		return nil
	}
	id, err := s.createFile(ctx, []byte(randomText()))
	s.file = id
	return err
}

// createFile stores contents in a new file owned by the operator key. Content
// beyond the first chunk is appended.
func (s *Session) createFile(ctx context.Context, contents []byte) (hsdk.FileID, error) {
	first := contents
	if len(first) > fileChunk {
		first = contents[:fileChunk]
	}
	tx := hsdk.NewFileCreateTransaction().
		SetKeys(s.operator.Key.PublicKey()).
		SetContents(first)
	_, receipt, err := s.submit(ctx, "", tx)
	if err != nil {
		return hsdk.FileID{}, err
	}
	if receipt.FileID == nil {
		return hsdk.FileID{}, fmt.Errorf("receipt has no file id")
	}
	id := *receipt.FileID

	if rest := contents[len(first):]; len(rest) > 0 {
		appendTx := hsdk.NewFileAppendTransaction().
			SetFileID(id).
			SetContents(rest).
			SetMaxChunks(uint64(len(rest)/fileChunk + 1))
		if _, _, err := s.submit(ctx, "", appendTx); err != nil {
			return hsdk.FileID{}, fmt.Errorf("append file %s: %w", id, err)
		}
	}
	return id, nil
}

// setupReceiver creates a fresh wallet associated with both tokens.
func (s *Session) setupReceiver(ctx context.Context, _ SessionConfig) error {
	id, key, _, err := s.createWallet(ctx, hsdk.NewHbar(1))
	if err != nil {
		return err
	}
	s.receiver, s.receiverKey = id, key
	if _, err := s.associate(ctx, id, key, s.nft, s.ft); err != nil {
		return err
	}
	return nil
}

func (s *Session) setupContract(ctx context.Context, cfg SessionConfig) error {
	if cfg.Reuse.ContractID != "" {
		id, err := hsdk.ContractIDFromString(cfg.Reuse.ContractID)
		if err != nil {
			return err
		}
		s.contract = &id
		return nil
	}
	bytecode := strings.TrimPrefix(strings.TrimSpace(cfg.Bytecode), "0x")
	if bytecode == "" {
		s.logger.Warn("no contract bytecode configured, contract actions disabled")
		return nil
	}

	fileID, err := s.createFile(ctx, []byte(bytecode))
	if err != nil {
		return fmt.Errorf("store bytecode: %w", err)
	}
	s.contractFID = fileID.String()

	tx := hsdk.NewContractCreateTransaction().
		SetGas(ContractCreateGas).
		SetBytecodeFileID(fileID).
		SetAdminKey(s.operator.Key.PublicKey()).
		SetConstructorParameters(hsdk.NewContractFunctionParameters().AddString("Hello from Hedera!"))
	_, receipt, err := s.submit(ctx, "", tx)
	if err != nil {
		return err
	}
	if receipt.ContractID == nil {
		return fmt.Errorf("receipt has no contract id")
	}
	s.contract = receipt.ContractID
	return nil
}

// executable is satisfied by every SDK transaction type.
type executable interface {
	Execute(client *hsdk.Client) (hsdk.TransactionResponse, error)
}

// submit executes tx, waits for consensus, and reads the fee from the
// transaction record. The fee record is tagged with t.
func (s *Session) submit(ctx context.Context, t types.ResultType, tx executable) (types.FeeRecord, hsdk.TransactionReceipt, error) {
	if err := ctx.Err(); err != nil {
		return types.FeeRecord{}, hsdk.TransactionReceipt{}, err
	}
	resp, err := tx.Execute(s.client)
	if err != nil {
		return types.FeeRecord{}, hsdk.TransactionReceipt{}, fmt.Errorf("execute: %w", err)
	}
	receipt, err := resp.GetReceipt(s.client)
	if err != nil {
		return types.FeeRecord{}, receipt, fmt.Errorf("receipt %s: %w", resp.TransactionID, err)
	}
	record, err := resp.GetRecord(s.client)
	if err != nil {
		return types.FeeRecord{}, receipt, fmt.Errorf("record %s: %w", resp.TransactionID, err)
	}

	s.logger.Debug("transaction executed",
		slog.String("type", string(t)),
		slog.String("tx_id", resp.TransactionID.String()),
		slog.String("status", receipt.Status.String()))
	return feeRecord(t, resp.TransactionID.String(), record.TransactionFee), receipt, nil
}

// feeRecord converts a record fee to a FeeRecord.
func feeRecord(t types.ResultType, txID string, fee hsdk.Hbar) types.FeeRecord {
	return types.FeeRecord{
		Type:          t,
		TransactionID: txID,
		FeeTinybars:   fee.AsTinybar(),
	}
}
