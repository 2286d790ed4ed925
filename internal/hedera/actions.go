package hedera

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	hsdk "github.com/hashgraph/hedera-sdk-go/v2"

	"github.com/gateway-fm/tvt/internal/action"
	"github.com/gateway-fm/tvt/pkg/types"
)

// Register adds every native action to reg. Contract actions are only
// registered when the session has a contract.
func (s *Session) Register(reg *action.Registry) {
	for _, a := range s.Actions() {
		reg.Register(a)
	}
}

// Actions returns the native actions backed by this session.
func (s *Session) Actions() []action.Action {
	out := []action.Action{
		action.NewFunc(types.ActionApproveAllowance, s.ApproveAllowance),
		action.NewFunc(types.ActionTransferHbar, s.TransferHbar),
		action.NewFunc(types.ActionTransferNFT, s.TransferNFT),
		action.NewFunc(types.ActionTransferFT, s.TransferFT),
		action.NewFunc(types.ActionTokenAssociate, s.TokenAssociate),
		action.NewFunc(types.ActionFileAppend, s.FileAppend),
		action.NewFunc(types.ActionMintNFT, s.MintNFT),
		action.NewFunc(types.ActionMintFT, s.MintFT),
		action.NewFunc(types.ActionBurnToken, s.BurnToken),
		action.NewFunc(types.ActionCreateAccount, s.CreateAccount),
		action.NewFunc(types.ActionSubmitMessage, s.SubmitMessage),
	}
	if s.contract != nil {
		out = append(out,
			action.NewFunc(types.ActionCallContract, s.CallContract),
			action.NewFunc(types.ActionCallContractTwice, s.CallContractTwice),
		)
	}
	return out
}

// ApproveAllowance grants the receiver a 100 tinybar allowance.
func (s *Session) ApproveAllowance(ctx context.Context) ([]types.FeeRecord, error) {
	tx := hsdk.NewAccountAllowanceApproveTransaction().
		ApproveHbarAllowance(s.operator.ID, s.receiver, hsdk.HbarFromTinybar(100))
	rec, _, err := s.submit(ctx, types.ResultCryptoApproveAllowance, tx)
	if err != nil {
		return nil, err
	}
	return []types.FeeRecord{rec}, nil
}

// TransferHbar sends one tinybar to the receiver.
func (s *Session) TransferHbar(ctx context.Context) ([]types.FeeRecord, error) {
	tx := hsdk.NewTransferTransaction().
		AddHbarTransfer(s.operator.ID, hsdk.HbarFromTinybar(-1)).
		AddHbarTransfer(s.receiver, hsdk.HbarFromTinybar(1))
	rec, _, err := s.submit(ctx, types.ResultCryptoTransfer, tx)
	if err != nil {
		return nil, err
	}
	return []types.FeeRecord{rec}, nil
}

// TransferNFT mints a new NFT and transfers it to the receiver.
func (s *Session) TransferNFT(ctx context.Context) ([]types.FeeRecord, error) {
	mint, serial, err := s.mintNFT(ctx)
	if err != nil {
		return nil, err
	}
	tx := hsdk.NewTransferTransaction().
		AddNftTransfer(hsdk.NftID{TokenID: s.nft, SerialNumber: serial}, s.operator.ID, s.receiver)
	rec, _, err := s.submit(ctx, types.ResultCryptoTransfer, tx)
	if err != nil {
		return nil, fmt.Errorf("transfer nft %d: %w", serial, err)
	}
	return []types.FeeRecord{mint, rec}, nil
}

// TransferFT sends one fungible token unit to the receiver.
func (s *Session) TransferFT(ctx context.Context) ([]types.FeeRecord, error) {
	tx := hsdk.NewTransferTransaction().
		AddTokenTransfer(s.ft, s.operator.ID, -1).
		AddTokenTransfer(s.ft, s.receiver, 1)
	rec, _, err := s.submit(ctx, types.ResultCryptoTransfer, tx)
	if err != nil {
		return nil, err
	}
	return []types.FeeRecord{rec}, nil
}

// TokenAssociate creates a wallet and associates it with the NFT token. Only
// the association fee is reported.
func (s *Session) TokenAssociate(ctx context.Context) ([]types.FeeRecord, error) {
	id, key, _, err := s.createWallet(ctx, hsdk.ZeroHbar)
	if err != nil {
		return nil, err
	}
	rec, err := s.associate(ctx, id, key, s.nft)
	if err != nil {
		return nil, err
	}
	return []types.FeeRecord{rec}, nil
}

// FileAppend appends random text to the session file.
func (s *Session) FileAppend(ctx context.Context) ([]types.FeeRecord, error) {
	tx := hsdk.NewFileAppendTransaction().
		SetFileID(s.file).
		SetContents([]byte(randomText()))
	rec, _, err := s.submit(ctx, types.ResultFileAppend, tx)
	if err != nil {
		return nil, err
	}
	return []types.FeeRecord{rec}, nil
}

// CallContract calls set_message on the session contract.
func (s *Session) CallContract(ctx context.Context) ([]types.FeeRecord, error) {
	rec, err := s.callContract(ctx)
	if err != nil {
		return nil, err
	}
	return []types.FeeRecord{rec}, nil
}

// CallContractTwice calls set_message twice in a row.
func (s *Session) CallContractTwice(ctx context.Context) ([]types.FeeRecord, error) {
	first, err := s.callContract(ctx)
	if err != nil {
		return nil, err
	}
	second, err := s.callContract(ctx)
	if err != nil {
		return nil, fmt.Errorf("second call: %w", err)
	}
	return []types.FeeRecord{first, second}, nil
}

// MintNFT mints one NFT with random metadata.
func (s *Session) MintNFT(ctx context.Context) ([]types.FeeRecord, error) {
	rec, _, err := s.mintNFT(ctx)
	if err != nil {
		return nil, err
	}
	return []types.FeeRecord{rec}, nil
}

// MintFT mints one fungible token unit.
func (s *Session) MintFT(ctx context.Context) ([]types.FeeRecord, error) {
	tx := hsdk.NewTokenMintTransaction().
		SetTokenID(s.ft).
		SetAmount(1)
	rec, _, err := s.submit(ctx, types.ResultTokenMintFT, tx)
	if err != nil {
		return nil, err
	}
	return []types.FeeRecord{rec}, nil
}

// BurnToken mints an NFT and burns it.
func (s *Session) BurnToken(ctx context.Context) ([]types.FeeRecord, error) {
	mint, serial, err := s.mintNFT(ctx)
	if err != nil {
		return nil, err
	}
	tx := hsdk.NewTokenBurnTransaction().
		SetTokenID(s.nft).
		SetSerialNumbers([]int64{serial})
	rec, _, err := s.submit(ctx, types.ResultTokenBurn, tx)
	if err != nil {
		return nil, fmt.Errorf("burn nft %d: %w", serial, err)
	}
	return []types.FeeRecord{mint, rec}, nil
}

// CreateAccount creates an empty ECDSA account.
func (s *Session) CreateAccount(ctx context.Context) ([]types.FeeRecord, error) {
	_, _, rec, err := s.createWallet(ctx, hsdk.ZeroHbar)
	if err != nil {
		return nil, err
	}
	return []types.FeeRecord{rec}, nil
}

// SubmitMessage submits a random message to the session topic.
func (s *Session) SubmitMessage(ctx context.Context) ([]types.FeeRecord, error) {
	tx := hsdk.NewTopicMessageSubmitTransaction().
		SetTopicID(s.topic).
		SetMessage([]byte(randomText()))
	rec, _, err := s.submit(ctx, types.ResultConsensusSubmitMessage, tx)
	if err != nil {
		return nil, err
	}
	return []types.FeeRecord{rec}, nil
}

func (s *Session) mintNFT(ctx context.Context) (types.FeeRecord, int64, error) {
	tx := hsdk.NewTokenMintTransaction().
		SetTokenID(s.nft).
		SetMetadata([]byte(randomText()))
	rec, receipt, err := s.submit(ctx, types.ResultTokenMintNFT, tx)
	if err != nil {
		return types.FeeRecord{}, 0, err
	}
	if len(receipt.SerialNumbers) == 0 {
		return types.FeeRecord{}, 0, fmt.Errorf("mint %s: receipt has no serial", rec.TransactionID)
	}
	return rec, receipt.SerialNumbers[0], nil
}

func (s *Session) callContract(ctx context.Context) (types.FeeRecord, error) {
	if s.contract == nil {
		return types.FeeRecord{}, fmt.Errorf("no contract deployed")
	}
	tx := hsdk.NewContractExecuteTransaction().
		SetContractID(*s.contract).
		SetGas(ContractExecuteGas).
		SetFunction("set_message", hsdk.NewContractFunctionParameters().AddString(randomText()))
	rec, _, err := s.submit(ctx, types.ResultContractCall, tx)
	return rec, err
}

// createWallet creates an account controlled by a fresh ECDSA key.
func (s *Session) createWallet(ctx context.Context, initial hsdk.Hbar) (hsdk.AccountID, hsdk.PrivateKey, types.FeeRecord, error) {
	key, err := hsdk.PrivateKeyGenerateEcdsa()
	if err != nil {
		return hsdk.AccountID{}, hsdk.PrivateKey{}, types.FeeRecord{}, fmt.Errorf("generate key: %w", err)
	}
	tx := hsdk.NewAccountCreateTransaction().
		SetKey(key.PublicKey()).
		SetInitialBalance(initial)
	rec, receipt, err := s.submit(ctx, types.ResultCryptoCreateAccount, tx)
	if err != nil {
		return hsdk.AccountID{}, hsdk.PrivateKey{}, types.FeeRecord{}, err
	}
	if receipt.AccountID == nil {
		return hsdk.AccountID{}, hsdk.PrivateKey{}, types.FeeRecord{}, fmt.Errorf("create account %s: receipt has no account id", rec.TransactionID)
	}
	return *receipt.AccountID, key, rec, nil
}

// associate links tokens to account. The account key must co-sign.
func (s *Session) associate(ctx context.Context, account hsdk.AccountID, key hsdk.PrivateKey, tokens ...hsdk.TokenID) (types.FeeRecord, error) {
	tx, err := hsdk.NewTokenAssociateTransaction().
		SetAccountID(account).
		SetTokenIDs(tokens...).
		FreezeWith(s.client)
	if err != nil {
		return types.FeeRecord{}, fmt.Errorf("freeze associate: %w", err)
	}
	rec, _, err := s.submit(ctx, types.ResultTokenAssociate, tx.Sign(key))
	if err != nil {
		return types.FeeRecord{}, fmt.Errorf("associate %s: %w", account, err)
	}
	return rec, nil
}

func randomText() string {
	return "tvt-" + uuid.NewString()
}
