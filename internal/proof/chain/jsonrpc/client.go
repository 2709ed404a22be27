// Package jsonrpc implements the ledger port over a plain EVM JSON-RPC
// endpoint with node-managed signing (eth_sendTransaction). Provider errors
// are translated into classified errors so callers never string-match.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"sigillum/internal/proof/models"
	"sigillum/internal/proof/ports"
	"sigillum/pkg/domain"
	dErrors "sigillum/pkg/domain-errors"
)

// Provider error codes defined by EIP-1193 / JSON-RPC conventions.
const (
	errCodeUserRejected = 4001
	errCodeUnknownChain = 4902
)

type Client struct {
	url        string
	httpClient *http.Client
	nextID     func() uint64
}

var _ ports.Ledger = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func New(url string, opts ...Option) *Client {
	id := uint64(0)
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		nextID: func() uint64 {
			id++
			return id
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) do(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID(), Method: method, Params: params})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "rpc endpoint unreachable")
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "malformed rpc response")
	}
	if rpcResp.Error != nil {
		return classify(rpcResp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "malformed rpc result")
		}
	}
	return nil
}

// classify maps a provider error onto the error taxonomy. Revert reasons are
// carried verbatim so the caller can show them to the owner unchanged.
func classify(rpcErr *rpcError) error {
	switch rpcErr.Code {
	case errCodeUserRejected:
		return dErrors.New(dErrors.CodeRejected, "request rejected in wallet")
	case errCodeUnknownChain:
		return dErrors.New(dErrors.CodeWrongNetwork, "requested chain is not registered with the provider")
	}

	msg := strings.ToLower(rpcErr.Message)
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return dErrors.New(dErrors.CodeInsufficientFunds, rpcErr.Message)
	case strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert"):
		if reason := revertReason(rpcErr.Data); reason != "" {
			return dErrors.New(dErrors.CodeSimulationReverted, reason)
		}
		return dErrors.New(dErrors.CodeSimulationReverted, rpcErr.Message)
	case strings.Contains(msg, "nonce too low") || strings.Contains(msg, "already known") ||
		strings.Contains(msg, "replacement transaction underpriced"):
		return dErrors.New(dErrors.CodeConflict, rpcErr.Message)
	}
	return dErrors.Newf(dErrors.CodeUnavailable, "rpc error %d: %s", rpcErr.Code, rpcErr.Message)
}

// revertReason decodes the ABI-encoded Error(string) payload some nodes
// attach to revert errors.
func revertReason(data json.RawMessage) string {
	var hexData string
	if err := json.Unmarshal(data, &hexData); err != nil {
		return ""
	}
	raw, err := hexBytes(hexData)
	if err != nil {
		return ""
	}
	// selector (4) + offset (32) + length (32) + payload
	if len(raw) < 68 || !bytes.Equal(raw[:4], errorStringSelector) {
		return ""
	}
	length := new(big.Int).SetBytes(raw[36:68]).Uint64()
	if uint64(len(raw)-68) < length {
		return ""
	}
	return string(raw[68 : 68+length])
}

// errorStringSelector is the 4-byte selector of Error(string).
var errorStringSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var result string
	if err := c.do(ctx, "eth_chainId", []any{}, &result); err != nil {
		return 0, err
	}
	return hexUint(result)
}

func (c *Client) RequestNetworkSwitch(ctx context.Context, chainID uint64) error {
	params := []any{map[string]string{"chainId": hexQuantity(new(big.Int).SetUint64(chainID))}}
	if err := c.do(ctx, "wallet_switchEthereumChain", params, nil); err != nil {
		return dErrors.Wrap(err, dErrors.CodeWrongNetwork, "network switch failed")
	}
	return nil
}

func (c *Client) Call(ctx context.Context, call ports.ContractCall) ([]byte, error) {
	result, err := c.ethCall(ctx, call)
	if err != nil {
		return nil, err
	}
	return hexBytes(result)
}

func (c *Client) Simulate(ctx context.Context, call ports.ContractCall) error {
	_, err := c.ethCall(ctx, call)
	return err
}

func (c *Client) ethCall(ctx context.Context, call ports.ContractCall) (string, error) {
	msg, err := callMessage(call)
	if err != nil {
		return "", err
	}
	var result string
	if err := c.do(ctx, "eth_call", []any{msg, "latest"}, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (c *Client) EstimateGas(ctx context.Context, call ports.ContractCall) (uint64, error) {
	msg, err := callMessage(call)
	if err != nil {
		return 0, err
	}
	var result string
	if err := c.do(ctx, "eth_estimateGas", []any{msg}, &result); err != nil {
		return 0, dErrors.Wrap(err, dErrors.GetCode(err), "gas estimation rpc failed")
	}
	return hexUint(result)
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var result string
	if err := c.do(ctx, "eth_gasPrice", []any{}, &result); err != nil {
		return nil, err
	}
	return hexBig(result)
}

func (c *Client) Balance(ctx context.Context, owner domain.OwnerAddress) (*big.Int, error) {
	var result string
	if err := c.do(ctx, "eth_getBalance", []any{owner.Canonical(), "latest"}, &result); err != nil {
		return nil, err
	}
	return hexBig(result)
}

func (c *Client) Submit(ctx context.Context, call ports.ContractCall, gasLimit uint64) (domain.TxHash, error) {
	msg, err := callMessage(call)
	if err != nil {
		return "", err
	}
	msg["gas"] = hexQuantity(new(big.Int).SetUint64(gasLimit))

	var result string
	if err := c.do(ctx, "eth_sendTransaction", []any{msg}, &result); err != nil {
		return "", err
	}
	return domain.ParseTxHash(result)
}

// WaitReceipt polls for the receipt until it reaches the requested depth.
// A bare RPC endpoint cannot observe wallet-side replacements, so this
// implementation never returns a ReplacementError; that signal comes from
// wallet-bridge ledger implementations.
func (c *Client) WaitReceipt(ctx context.Context, hash domain.TxHash, confirmations uint64, poll time.Duration) (*models.Receipt, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		receipt, err := c.getReceipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			depth, err := c.confirmationDepth(ctx, receipt.BlockNumber)
			if err != nil {
				return nil, err
			}
			if depth >= confirmations {
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

type rpcReceipt struct {
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`
	BlockNumber     string `json:"blockNumber"`
	GasUsed         string `json:"gasUsed"`
}

func (c *Client) getReceipt(ctx context.Context, hash domain.TxHash) (*models.Receipt, error) {
	var raw *rpcReceipt
	if err := c.do(ctx, "eth_getTransactionReceipt", []any{hash.String()}, &raw); err != nil {
		return nil, err
	}
	if raw == nil || raw.BlockNumber == "" {
		return nil, nil
	}

	txHash, err := domain.ParseTxHash(raw.TransactionHash)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "malformed receipt hash")
	}
	blockNumber, err := hexUint(raw.BlockNumber)
	if err != nil {
		return nil, err
	}
	gasUsed, err := hexUint(raw.GasUsed)
	if err != nil {
		return nil, err
	}
	status, err := hexUint(raw.Status)
	if err != nil {
		return nil, err
	}
	return &models.Receipt{
		TxHash:      txHash,
		Success:     status == 1,
		BlockNumber: blockNumber,
		GasUsed:     gasUsed,
	}, nil
}

func (c *Client) confirmationDepth(ctx context.Context, includedAt uint64) (uint64, error) {
	var result string
	if err := c.do(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	head, err := hexUint(result)
	if err != nil {
		return 0, err
	}
	if head < includedAt {
		return 0, nil
	}
	return head - includedAt + 1, nil
}

// callMessage builds the eth_call/eth_sendTransaction parameter object,
// ABI-encoding the method and its arguments.
func callMessage(call ports.ContractCall) (map[string]string, error) {
	data, err := encodeCallData(call.Method, call.Args)
	if err != nil {
		return nil, err
	}
	msg := map[string]string{
		"from": call.From.Canonical(),
		"to":   strings.ToLower(call.Contract),
		"data": data,
	}
	if call.Value != nil && call.Value.Sign() > 0 {
		msg["value"] = hexQuantity(call.Value)
	}
	return msg, nil
}

// encodeCallData ABI-encodes a method call. The registration contract only
// takes string arguments, so only the string type is supported here.
func encodeCallData(method string, args []any) (string, error) {
	types := make([]string, len(args))
	for i, arg := range args {
		if _, ok := arg.(string); !ok {
			return "", dErrors.Newf(dErrors.CodeInternal, "unsupported abi argument type %T", arg)
		}
		types[i] = "string"
	}
	signature := fmt.Sprintf("%s(%s)", method, strings.Join(types, ","))

	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(signature))
	data := hash.Sum(nil)[:4]

	// Head: one 32-byte offset per dynamic argument. Tail: length + padded bytes.
	head := make([]byte, 0, 32*len(args))
	tail := make([]byte, 0)
	for _, arg := range args {
		s := arg.(string)
		head = append(head, leftPad(new(big.Int).SetUint64(uint64(32*len(args)+len(tail))).Bytes())...)
		tail = append(tail, leftPad(new(big.Int).SetUint64(uint64(len(s))).Bytes())...)
		tail = append(tail, rightPad([]byte(s))...)
	}
	data = append(data, head...)
	data = append(data, tail...)
	return "0x" + hex.EncodeToString(data), nil
}

func leftPad(b []byte) []byte {
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func rightPad(b []byte) []byte {
	padded := make([]byte, (len(b)+31)/32*32)
	copy(padded, b)
	return padded
}

func hexBytes(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if len(trimmed)%2 == 1 {
		trimmed = "0" + trimmed
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "malformed hex payload")
	}
	return raw, nil
}

func hexBig(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeUnavailable, "malformed hex quantity %q", s)
	}
	return n, nil
}

func hexUint(s string) (uint64, error) {
	n, err := hexBig(s)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, dErrors.Newf(dErrors.CodeUnavailable, "hex quantity %q overflows uint64", s)
	}
	return n.Uint64(), nil
}

func hexQuantity(n *big.Int) string {
	return "0x" + n.Text(16)
}
