package upstream

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/deidlabs/linkd/internal/config"
	"github.com/deidlabs/linkd/internal/identity"
)

// balanceOfSelector is the 4-byte selector of balanceOf(address). ERC-20
// and ERC-721 share the signature, so one call shape covers both kinds.
const balanceOfSelector = "70a08231"

// RPCChain talks JSON-RPC to one node per network. Reads use plain
// eth_call; writes go through the relayer method namespace the badge
// contract operator exposes, which sponsors the transaction and returns
// the acknowledgement once mined.
type RPCChain struct {
	endpoints map[identity.Network]string
	contract  string
	client    *http.Client
}

func NewRPCChain(cfg config.ChainConfig) *RPCChain {
	return &RPCChain{
		endpoints: map[identity.Network]string{
			identity.NetworkEthereum: cfg.EthereumRPC,
			identity.NetworkBSC:      cfg.BSCRPC,
			identity.NetworkBase:     cfg.BaseRPC,
		},
		contract: cfg.ContractAddress,
		client:   newHTTPClient(),
	}
}

type chainAck struct {
	TxHash      string `json:"txHash"`
	BlockNumber int64  `json:"blockNumber"`
}

// SubmitLink pushes a verified link attestation to the badge contract on
// the default network.
func (c *RPCChain) SubmitLink(ctx context.Context, subject string, platform identity.Platform, attestationHash, signature string) (identity.ChainRef, error) {
	params := []any{map[string]any{
		"contract":        c.contract,
		"subject":         subject,
		"platform":        string(platform),
		"attestationHash": attestationHash,
		"signature":       signature,
	}}
	var ack chainAck
	if err := c.call(ctx, identity.NetworkEthereum, "relay_submitLink", params, &ack); err != nil {
		return identity.ChainRef{}, err
	}
	return identity.ChainRef{TxHash: ack.TxHash, BlockNumber: ack.BlockNumber}, nil
}

// SubmitTask registers a task and its metadata reference with the badge
// contract.
func (c *RPCChain) SubmitTask(ctx context.Context, taskID, contentRef string) (identity.ChainRef, error) {
	params := []any{map[string]any{
		"contract":   c.contract,
		"taskId":     taskID,
		"contentRef": contentRef,
	}}
	var ack chainAck
	if err := c.call(ctx, identity.NetworkEthereum, "relay_submitTask", params, &ack); err != nil {
		return identity.ChainRef{}, err
	}
	return identity.ChainRef{TxHash: ack.TxHash, BlockNumber: ack.BlockNumber}, nil
}

// TokenBalance reads balanceOf(wallet) on contract via eth_call and returns
// the balance as a decimal string.
func (c *RPCChain) TokenBalance(ctx context.Context, network identity.Network, _ identity.ValidationKind, contract, wallet string) (string, error) {
	addr := strings.TrimPrefix(strings.ToLower(wallet), "0x")
	if len(addr) != 40 {
		return "", &ChainError{Network: network, Rejected: true, Err: fmt.Errorf("wallet address must be 20 bytes")}
	}
	if _, err := hex.DecodeString(addr); err != nil {
		return "", &ChainError{Network: network, Rejected: true, Err: fmt.Errorf("wallet address is not hex")}
	}
	data := "0x" + balanceOfSelector + strings.Repeat("0", 24) + addr

	params := []any{
		map[string]any{"to": contract, "data": data},
		"latest",
	}
	var result string
	if err := c.call(ctx, network, "eth_call", params, &result); err != nil {
		return "", err
	}

	balance, ok := new(big.Int).SetString(strings.TrimPrefix(result, "0x"), 16)
	if !ok {
		return "", &ChainError{Network: network, Rejected: true, Err: fmt.Errorf("unparseable balance %q", result)}
	}
	return balance.String(), nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *RPCChain) call(ctx context.Context, network identity.Network, method string, params []any, out any) error {
	endpoint := c.endpoints[network]
	if endpoint == "" {
		return &ChainError{Network: network, Rejected: true, Err: fmt.Errorf("no RPC endpoint configured")}
	}

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return &ChainError{Network: network, Rejected: true, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &ChainError{Network: network, Rejected: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &ChainError{Network: network, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &ChainError{Network: network, Err: fmt.Errorf("node returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return &ChainError{Network: network, Rejected: true, Err: fmt.Errorf("node returned %d", resp.StatusCode)}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rpcResp); err != nil {
		return &ChainError{Network: network, Err: fmt.Errorf("decode rpc response: %w", err)}
	}
	if rpcResp.Error != nil {
		return &ChainError{Network: network, Rejected: true, Err: fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)}
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return &ChainError{Network: network, Err: fmt.Errorf("decode rpc result: %w", err)}
	}
	return nil
}
