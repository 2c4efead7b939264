// Package chain holds the on-chain read adapters. The only external read the
// engine performs is the one-shot ERC-20 metadata lookup at first sighting of
// a payment token.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/doubledice/ddindexer/internal/domain"
)

// TokenMetadata is the result of an ERC-20 metadata read.
type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// TokenMetadataReader fetches ERC-20 metadata. A failed read is transient:
// the engine retries the same event rather than proceeding without the token.
type TokenMetadataReader interface {
	ReadTokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error)
}

const erc20MetadataABI = `[
	{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
	{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]}
]`

// ContractCaller is the slice of the RPC client the reader needs; satisfied by
// *ethclient.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ERC20Reader reads token metadata over JSON-RPC.
type ERC20Reader struct {
	caller ContractCaller
	abi    abi.ABI
}

// NewERC20Reader builds a reader over an RPC caller.
func NewERC20Reader(caller ContractCaller) (*ERC20Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse erc20 abi: %w", err)
	}
	return &ERC20Reader{caller: caller, abi: parsed}, nil
}

// Dial connects an RPC endpoint and returns a reader over it.
func Dial(ctx context.Context, rpcURL string) (*ERC20Reader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return NewERC20Reader(client)
}

// ReadTokenMetadata calls name(), symbol() and decimals() on the token.
func (r *ERC20Reader) ReadTokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error) {
	var md TokenMetadata

	if err := r.callString(ctx, token, "name", &md.Name); err != nil {
		return md, err
	}
	if err := r.callString(ctx, token, "symbol", &md.Symbol); err != nil {
		return md, err
	}

	raw, err := r.call(ctx, token, "decimals")
	if err != nil {
		return md, err
	}
	values, err := r.abi.Unpack("decimals", raw)
	if err != nil {
		return md, fmt.Errorf("chain: unpack decimals for %s: %w", token.Hex(), err)
	}
	md.Decimals = values[0].(uint8)

	return md, nil
}

func (r *ERC20Reader) callString(ctx context.Context, token common.Address, method string, out *string) error {
	raw, err := r.call(ctx, token, method)
	if err != nil {
		return err
	}
	values, err := r.abi.Unpack(method, raw)
	if err != nil {
		return fmt.Errorf("chain: unpack %s for %s: %w", method, token.Hex(), err)
	}
	*out = values[0].(string)
	return nil
}

func (r *ERC20Reader) call(ctx context.Context, token common.Address, method string) ([]byte, error) {
	input, err := r.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, &domain.TransientError{
			Op:  fmt.Sprintf("erc20 %s() on %s", method, token.Hex()),
			Err: err,
		}
	}
	return raw, nil
}

// StaticReader serves token metadata from a fixed table. Used in tests and in
// replay setups with no RPC endpoint.
type StaticReader struct {
	Tokens map[common.Address]TokenMetadata
}

func (s *StaticReader) ReadTokenMetadata(_ context.Context, token common.Address) (TokenMetadata, error) {
	md, ok := s.Tokens[token]
	if !ok {
		return TokenMetadata{}, &domain.TransientError{
			Op:  fmt.Sprintf("static erc20 lookup %s", token.Hex()),
			Err: domain.ErrNotFound,
		}
	}
	return md, nil
}
