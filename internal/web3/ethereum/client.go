package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"PixelBoard/internal/web3"
)

const erc20ABI = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

var parsedERC20 = mustParseABI(erc20ABI)

// Config describes how to construct an EVM compatible reader.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Backend is the subset of chain access the reader depends on. Both
// *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client implements web3.ChainReader for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	backend   Backend
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use reader.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		backend:   ethclient.NewClient(rpcClient),
	}, nil
}

// NewBackendClient wraps an existing backend, such as a simulated chain in tests.
func NewBackendClient(name string, backend Backend) *Client {
	return &Client{name: name, backend: backend, notes: "backend client"}
}

// Name returns the configured network name.
func (c *Client) Name() string {
	return c.name
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.backend == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// Balances returns the native balance of owner and, when token is non-zero,
// its ERC-20 balance and decimals.
func (c *Client) Balances(ctx context.Context, owner, token common.Address) (web3.WalletBalance, error) {
	if c == nil || c.backend == nil {
		return web3.WalletBalance{}, errors.New("未初始化的以太坊客户端")
	}
	native, err := c.backend.BalanceAt(ctx, owner, nil)
	if err != nil {
		return web3.WalletBalance{}, fmt.Errorf("查询余额失败: %w", err)
	}
	result := web3.WalletBalance{Address: owner, Native: native}
	if token == (common.Address{}) {
		return result, nil
	}

	balance, err := c.callERC20(ctx, token, "balanceOf", owner)
	if err != nil {
		return web3.WalletBalance{}, err
	}
	amount, ok := balance[0].(*big.Int)
	if !ok {
		return web3.WalletBalance{}, fmt.Errorf("balanceOf 返回了意外类型 %T", balance[0])
	}
	decimals, err := c.callERC20(ctx, token, "decimals")
	if err != nil {
		return web3.WalletBalance{}, err
	}
	d, ok := decimals[0].(uint8)
	if !ok {
		return web3.WalletBalance{}, fmt.Errorf("decimals 返回了意外类型 %T", decimals[0])
	}
	result.Token = amount
	result.TokenDecimals = d
	return result, nil
}

func (c *Client) callERC20(ctx context.Context, token common.Address, method string, args ...any) ([]any, error) {
	data, err := parsedERC20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用 %s 失败: %w", method, err)
	}
	values, err := parsedERC20.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 返回值失败: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s 没有返回值", method)
	}
	return values, nil
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
