package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is the sentinel for the native asset (ether) and for
// "no token" fields of a Safe transaction.
var ZeroAddress = common.Address{}

// Operation is the call kind of a Safe transaction.
type Operation uint8

const (
	OperationCall         Operation = 0
	OperationDelegateCall Operation = 1
)

// SafeTx is the user-controlled part of a Safe transaction. It is immutable
// once hashed; two values with identical fields hash identically.
type SafeTx struct {
	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation Operation
}

// SafeTxExecInfo carries the execution parameters assigned by the relayer.
type SafeTxExecInfo struct {
	BaseGas        *big.Int
	TxGas          *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Nonce          *big.Int
}

// Fees returns (baseGas + txGas) * gasPrice.
func (i SafeTxExecInfo) Fees() *big.Int {
	total := new(big.Int).Add(bigOrZero(i.BaseGas), bigOrZero(i.TxGas))
	return total.Mul(total, bigOrZero(i.GasPrice))
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// SafeInfo is a read-only snapshot of on-chain Safe state. Owners and
// threshold can change between reads; callers re-fetch before relying on
// them for a new confirmation decision.
type SafeInfo struct {
	Address      common.Address
	MasterCopy   common.Address
	Owners       []common.Address
	Threshold    uint64
	CurrentNonce *big.Int
}

// IsOwner reports whether addr is among the snapshot's owners.
func (s SafeInfo) IsOwner(addr common.Address) bool {
	for _, o := range s.Owners {
		if o == addr {
			return true
		}
	}
	return false
}

// Confirmation records an owner that confirmed a Safe transaction. An empty
// signature means the owner is recorded as confirmer but the signature bytes
// are not retrievable yet.
type Confirmation struct {
	Owner     common.Address
	Signature string
}

// ServiceSafeTx is a pending (or executed) Safe transaction as tracked by
// the transaction service.
type ServiceSafeTx struct {
	Hash            string
	Tx              SafeTx
	ExecInfo        SafeTxExecInfo
	Confirmations   []Confirmation
	Executed        bool
	TransactionHash string // on-chain hash, set once executed
}

// HasConfirmed reports whether owner appears among the recorded confirmations.
func (s ServiceSafeTx) HasConfirmed(owner common.Address) bool {
	for _, c := range s.Confirmations {
		if c.Owner == owner {
			return true
		}
	}
	return false
}

// SubmissionState is the derived lifecycle state of a Safe transaction.
type SubmissionState int

const (
	StatePending SubmissionState = iota
	StateAwaitingConfirmation
	StateConfirmed
	StateCanceled
	StateExecuted
)

func (s SubmissionState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateAwaitingConfirmation:
		return "AWAITING_CONFIRMATION"
	case StateConfirmed:
		return "CONFIRMED"
	case StateCanceled:
		return "CANCELED"
	case StateExecuted:
		return "EXECUTED"
	default:
		return "UNKNOWN"
	}
}

// Allowance is the allowance-module state for one delegate-token pair.
// The nonce is advanced by the module on each confirmed transfer, never by
// the client; it must be passed through unmodified to transfer hashing.
type Allowance struct {
	Token       common.Address
	Amount      *big.Int
	Spent       *big.Int
	ResetPeriod uint64
	LastSpent   uint64
	Nonce       *big.Int
}

// Remaining returns amount - spent, floored at zero.
func (a Allowance) Remaining() *big.Int {
	rem := new(big.Int).Sub(bigOrZero(a.Amount), bigOrZero(a.Spent))
	if rem.Sign() < 0 {
		return new(big.Int)
	}
	return rem
}

// InstantTransfer is a delegated transfer, either still pending in the local
// ledger (Mined false) or observed in the module's execution logs.
type InstantTransfer struct {
	TxHash    string
	Token     common.Address
	TokenInfo *TokenInfo
	To        common.Address
	Amount    *big.Int
	Mined     bool
}

// IconKind tags how an asset icon is resolved. Rendering is a UI concern.
type IconKind int

const (
	IconNone IconKind = iota
	IconEther
	IconSettings
	IconRemote
)

// AssetIcon is a tagged icon reference: a built-in native asset icon, a
// remote URL, or nothing.
type AssetIcon struct {
	Kind IconKind
	URL  string
}

func RemoteIcon(url string) AssetIcon {
	if url == "" {
		return AssetIcon{Kind: IconNone}
	}
	return AssetIcon{Kind: IconRemote, URL: url}
}

// TokenInfo is display metadata for a token.
type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Decimals int
	Name     string
	Icon     AssetIcon
}

// EtherTokenInfo is the fixed metadata for the native asset.
var EtherTokenInfo = TokenInfo{
	Address:  ZeroAddress,
	Symbol:   "ETH",
	Decimals: 18,
	Name:     "Ether",
	Icon:     AssetIcon{Kind: IconEther},
}

// TokenBalance pairs a token with the Safe's balance. The zero token address
// denotes the native asset.
type TokenBalance struct {
	Token   common.Address
	Balance *big.Int
}

// TransactionInfo is a human-readable classification of a Safe transaction.
type TransactionInfo struct {
	Recipient      common.Address
	RecipientLabel string
	AssetIcon      AssetIcon
	AssetLabel     string
	AdditionalInfo string
}

// DappSession describes the single external dapp session. At most one
// session exists at a time.
type DappSession struct {
	URL    string
	Name   string
	Icon   string
	Active bool
}

// --- transaction service wire types ---

type PaginatedResult struct {
	Count    int                  `json:"count"`
	Next     string               `json:"next"`
	Previous string               `json:"previous"`
	Results  []ServiceTransaction `json:"results"`
}

type ServiceTransaction struct {
	To              string                `json:"to"`
	Value           string                `json:"value"`
	Data            string                `json:"data"`
	Operation       int                   `json:"operation"`
	GasToken        string                `json:"gasToken"`
	SafeTxGas       string                `json:"safeTxGas"`
	BaseGas         string                `json:"baseGas"`
	GasPrice        string                `json:"gasPrice"`
	RefundReceiver  string                `json:"refundReceiver"`
	Nonce           string                `json:"nonce"`
	SafeTxHash      string                `json:"safeTxHash"`
	TransactionHash string                `json:"transactionHash"`
	SubmissionDate  time.Time             `json:"submissionDate"`
	ExecutionDate   *time.Time            `json:"executionDate"`
	Confirmations   []ServiceConfirmation `json:"confirmations"`
	IsExecuted      bool                  `json:"isExecuted"`
}

type ServiceConfirmation struct {
	Owner          string    `json:"owner"`
	SubmissionDate time.Time `json:"submissionDate"`
	Signature      string    `json:"signature"`
}

const (
	ConfirmationTypeConfirmation = "CONFIRMATION"
	ConfirmationTypeExecution    = "EXECUTION"
)

type ServiceTransactionRequest struct {
	To               string `json:"to"`
	Value            string `json:"value"`
	Data             string `json:"data"`
	Operation        int    `json:"operation"`
	GasToken         string `json:"gasToken"`
	SafeTxGas        string `json:"safeTxGas"`
	BaseGas          string `json:"baseGas"`
	GasPrice         string `json:"gasPrice"`
	RefundReceiver   string `json:"refundReceiver"`
	Nonce            string `json:"nonce"`
	SafeTxHash       string `json:"contractTransactionHash"`
	Sender           string `json:"sender"`
	ConfirmationType string `json:"confirmationType"`
	Signature        string `json:"signature"`
}

type ServiceTokenInfo struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	LogoURI  string `json:"logoUri"`
}

type ServiceBalance struct {
	TokenAddress string `json:"tokenAddress"`
	Balance      string `json:"balance"`
}

type InstantTransferRequest struct {
	Target    string `json:"target"`
	Amount    string `json:"amount"`
	Signature string `json:"signature"`
}

type InstantTransferResponse struct {
	Hash string `json:"hash"`
}
