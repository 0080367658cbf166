package escrow

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Minimal ABI fragments for the two contracts the coordinator talks to: the
// ERC-1155 card collection and the wager vault that escrows one token per
// player for a battle.
const cardLedgerABI = `[
{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"balanceOfBatch","type":"function","stateMutability":"view","inputs":[{"name":"accounts","type":"address[]"},{"name":"ids","type":"uint256[]"}],"outputs":[{"name":"","type":"uint256[]"}]},
{"name":"exists","type":"function","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"name":"isApprovedForAll","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"name":"setApprovalForAll","type":"function","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
{"name":"safeTransferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]}
]`

const wagerVaultABI = `[
{"name":"createWager","type":"function","stateMutability":"nonpayable","inputs":[{"name":"battleId","type":"string"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
{"name":"joinWager","type":"function","stateMutability":"nonpayable","inputs":[{"name":"battleId","type":"string"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
{"name":"resolveBattle","type":"function","stateMutability":"nonpayable","inputs":[{"name":"battleId","type":"string"},{"name":"winner","type":"address"}],"outputs":[]},
{"name":"cancelWager","type":"function","stateMutability":"nonpayable","inputs":[{"name":"battleId","type":"string"}],"outputs":[]},
{"name":"getWager","type":"function","stateMutability":"view","inputs":[{"name":"battleId","type":"string"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"battleId","type":"string"},{"name":"player1","type":"address"},{"name":"player2","type":"address"},{"name":"player1TokenId","type":"uint256"},{"name":"player2TokenId","type":"uint256"},{"name":"isActive","type":"bool"},{"name":"createdAt","type":"uint256"}]}]}
]`

// WagerInfo mirrors the vault's stored wager record.
type WagerInfo struct {
	BattleID       string         `abi:"battleId"`
	Player1        common.Address `abi:"player1"`
	Player2        common.Address `abi:"player2"`
	Player1TokenID *big.Int       `abi:"player1TokenId"`
	Player2TokenID *big.Int       `abi:"player2TokenId"`
	IsActive       bool           `abi:"isActive"`
	CreatedAt      *big.Int       `abi:"createdAt"`
}

// Signer produces transact opts for the key escrowing on a player's behalf.
// Implementations return an error wrapping ErrRejected when the owner
// declines to sign.
type Signer interface {
	Address() common.Address
	Opts(ctx context.Context) (*bind.TransactOpts, error)
}

// KeySigner signs with a raw in-process private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	addr    common.Address
	chainID *big.Int
}

// NewKeySigner parses a hex-encoded secp256k1 private key.
func NewKeySigner(privKeyHex string, chainID *big.Int) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeySigner{
		key:     key,
		addr:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

func (s *KeySigner) Address() common.Address { return s.addr }

func (s *KeySigner) Opts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// ContractBackend is the subset of ethclient.Client the bound contracts use.
type ContractBackend interface {
	bind.ContractCaller
	bind.ContractTransactor
	bind.ContractFilterer
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// CardLedger is the read and transfer surface of the ERC-1155 collection.
type CardLedger struct {
	addr     common.Address
	contract *bind.BoundContract
	backend  ContractBackend
}

func NewCardLedger(addr common.Address, backend ContractBackend) (*CardLedger, error) {
	parsed, err := abi.JSON(strings.NewReader(cardLedgerABI))
	if err != nil {
		return nil, fmt.Errorf("parse card ledger ABI: %w", err)
	}
	return &CardLedger{
		addr:     addr,
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
		backend:  backend,
	}, nil
}

func (l *CardLedger) Address() common.Address { return l.addr }

func (l *CardLedger) BalanceOf(ctx context.Context, owner common.Address, id *big.Int) (*big.Int, error) {
	var out []interface{}
	err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner, id)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// BalanceOfBatch queries balances for one owner across many token ids in a
// single call. accounts and ids must be the same length on the wire, so the
// owner is repeated per id.
func (l *CardLedger) BalanceOfBatch(ctx context.Context, owner common.Address, ids []*big.Int) ([]*big.Int, error) {
	accounts := make([]common.Address, len(ids))
	for i := range accounts {
		accounts[i] = owner
	}
	var out []interface{}
	err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOfBatch", accounts, ids)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int), nil
}

func (l *CardLedger) Exists(ctx context.Context, id *big.Int) (bool, error) {
	var out []interface{}
	err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "exists", id)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (l *CardLedger) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	var out []interface{}
	err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (l *CardLedger) SetApprovalForAll(ctx context.Context, signer Signer, operator common.Address, approved bool) (*types.Transaction, error) {
	opts, err := signer.Opts(ctx)
	if err != nil {
		return nil, err
	}
	return l.contract.Transact(opts, "setApprovalForAll", operator, approved)
}

func (l *CardLedger) SafeTransferFrom(ctx context.Context, signer Signer, from, to common.Address, id *big.Int) (*types.Transaction, error) {
	opts, err := signer.Opts(ctx)
	if err != nil {
		return nil, err
	}
	return l.contract.Transact(opts, "safeTransferFrom", from, to, id, big.NewInt(1), []byte{})
}

// WagerVault escrows one card per player for the duration of a battle and
// pays both to the winner on resolution.
type WagerVault struct {
	addr     common.Address
	contract *bind.BoundContract
	backend  ContractBackend
}

func NewWagerVault(addr common.Address, backend ContractBackend) (*WagerVault, error) {
	parsed, err := abi.JSON(strings.NewReader(wagerVaultABI))
	if err != nil {
		return nil, fmt.Errorf("parse wager vault ABI: %w", err)
	}
	return &WagerVault{
		addr:     addr,
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
		backend:  backend,
	}, nil
}

func (v *WagerVault) Address() common.Address { return v.addr }

func (v *WagerVault) CreateWager(ctx context.Context, signer Signer, battleID string, tokenID *big.Int) (*types.Transaction, error) {
	opts, err := signer.Opts(ctx)
	if err != nil {
		return nil, err
	}
	return v.contract.Transact(opts, "createWager", battleID, tokenID)
}

func (v *WagerVault) JoinWager(ctx context.Context, signer Signer, battleID string, tokenID *big.Int) (*types.Transaction, error) {
	opts, err := signer.Opts(ctx)
	if err != nil {
		return nil, err
	}
	return v.contract.Transact(opts, "joinWager", battleID, tokenID)
}

func (v *WagerVault) ResolveBattle(ctx context.Context, signer Signer, battleID string, winner common.Address) (*types.Transaction, error) {
	opts, err := signer.Opts(ctx)
	if err != nil {
		return nil, err
	}
	return v.contract.Transact(opts, "resolveBattle", battleID, winner)
}

func (v *WagerVault) CancelWager(ctx context.Context, signer Signer, battleID string) (*types.Transaction, error) {
	opts, err := signer.Opts(ctx)
	if err != nil {
		return nil, err
	}
	return v.contract.Transact(opts, "cancelWager", battleID)
}

func (v *WagerVault) GetWager(ctx context.Context, battleID string) (*WagerInfo, error) {
	var out []interface{}
	err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getWager", battleID)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(WagerInfo)).(*WagerInfo), nil
}

// waitMined blocks until the transaction is mined and checks its status.
func waitMined(ctx context.Context, backend ContractBackend, tx *types.Transaction) (*types.Receipt, error) {
	deployBackend, ok := backend.(bind.DeployBackend)
	if !ok {
		return nil, fmt.Errorf("backend cannot wait for receipts")
	}
	receipt, err := bind.WaitMined(ctx, deployBackend, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s reverted", tx.Hash())
	}
	return receipt, nil
}
