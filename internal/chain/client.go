package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"priceScope/internal/model"
)

// ErrConnectionSetup marks a client that failed construction. The owning
// worker must be discarded and re-created, never reused.
var ErrConnectionSetup = errors.New("connection setup failed")

// Backend is the RPC surface the rest of the system depends on.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	HeadersInRange(ctx context.Context, from, to uint64) ([]model.BlockRecord, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Factory dials Clients bound to a single RPC endpoint.
type Factory struct {
	URL     string
	Timeout time.Duration
}

// Dialer constructs one Backend per worker.
type Dialer interface {
	Dial(ctx context.Context) (Backend, error)
}

// Dial opens a new client with a pooled HTTP transport. Repeated calls on
// the same client reuse sockets; no response post-processing beyond JSON
// decoding is installed.
func (f Factory) Dial(ctx context.Context) (Backend, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	rpcClient, err := rpc.DialOptions(ctx, f.URL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionSetup, f.URL, err)
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		tsCache:   make(map[uint64]uint64),
	}, nil
}

// Client wraps go-ethereum RPC and provides helper methods. One Client is
// owned by exactly one worker and is not shared.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	mu      sync.RWMutex
	tsCache map[uint64]uint64
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, number)
}

// HeadersInRange fetches headers for [from, to] in one batched round-trip
// and returns them in ascending block order.
func (c *Client) HeadersInRange(ctx context.Context, from, to uint64) ([]model.BlockRecord, error) {
	if to < from {
		return nil, fmt.Errorf("invalid header range [%d, %d]", from, to)
	}

	count := to - from + 1
	headers := make([]*types.Header, count)
	batch := make([]rpc.BatchElem, count)
	for i := range batch {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{hexutil.EncodeUint64(from + uint64(i)), false},
			Result: &headers[i],
		}
	}

	if err := c.rpcClient.BatchCallContext(ctx, batch); err != nil {
		return nil, fmt.Errorf("batch headers [%d, %d]: %w", from, to, err)
	}

	records := make([]model.BlockRecord, 0, count)
	for i, elem := range batch {
		if elem.Error != nil {
			return nil, fmt.Errorf("header %d: %w", from+uint64(i), elem.Error)
		}
		header := headers[i]
		if header == nil {
			return nil, fmt.Errorf("header %d: not found", from+uint64(i))
		}
		records = append(records, model.BlockRecord{
			Number:     header.Number.Uint64(),
			Hash:       header.Hash().Hex(),
			ParentHash: header.ParentHash.Hex(),
			Timestamp:  header.Time,
		})

		c.mu.Lock()
		c.tsCache[header.Number.Uint64()] = header.Time
		c.mu.Unlock()
	}

	return records, nil
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	ts = header.Time
	c.mu.Lock()
	c.tsCache[number] = ts
	c.mu.Unlock()

	return ts, nil
}

// FilterLogs returns logs matching the query.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return c.ethClient.FilterLogs(ctx, query)
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}
