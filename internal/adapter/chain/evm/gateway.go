package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"settlement-engine/config"
	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidPrivateKey = errors.New("evm: invalid private key")
	ErrRPCConnection     = errors.New("evm: RPC connection failed")
)

type signer struct {
	key     *ecdsa.PrivateKey // nil for watch-only wallets
	address common.Address
}

type network struct {
	name    string
	client  EthClient
	chainID *big.Int
	tokens  map[string]common.Address
	wallets map[domain.WalletRole]signer
}

// Gateway implements ports.TokenTransferer and ports.BalanceReader across chains.
type Gateway struct {
	networks map[string]*network
	erc20    abi.ABI
	log      zerolog.Logger
}

var (
	_ ports.TokenTransferer = (*Gateway)(nil)
	_ ports.BalanceReader   = (*Gateway)(nil)
	_ ports.DebitVerifier   = (*Gateway)(nil)
)

// Option configures the gateway.
type Option func(*options)

type options struct {
	clients map[string]EthClient
}

// WithClient injects a client for one chain instead of dialing its RPC URL.
func WithClient(chain string, client EthClient) Option {
	return func(o *options) {
		o.clients[strings.ToLower(chain)] = client
	}
}

// NewGateway builds one network per configured chain.
func NewGateway(chains map[string]config.ChainConfig, log zerolog.Logger, opts ...Option) (*Gateway, error) {
	o := &options{clients: make(map[string]EthClient)}
	for _, opt := range opts {
		opt(o)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse ERC20 ABI: %w", err)
	}

	g := &Gateway{
		networks: make(map[string]*network, len(chains)),
		erc20:    parsed,
		log:      log.With().Str("component", "evm").Logger(),
	}

	for name, cc := range chains {
		name = strings.ToLower(name)
		n := &network{
			name:    name,
			chainID: big.NewInt(cc.ChainID),
			tokens:  make(map[string]common.Address, len(cc.Tokens)),
			wallets: make(map[domain.WalletRole]signer, 2),
		}
		for sym, tok := range cc.Tokens {
			if !common.IsHexAddress(tok.Contract) {
				return nil, fmt.Errorf("chain %s token %s: invalid contract %q", name, sym, tok.Contract)
			}
			n.tokens[strings.ToLower(sym)] = common.HexToAddress(tok.Contract)
		}

		mainWallet, err := newSigner(cc.MainKey, cc.MainAddress)
		if err != nil {
			return nil, fmt.Errorf("chain %s main wallet: %w", name, err)
		}
		n.wallets[domain.WalletMain] = mainWallet
		if cc.FeesKey != "" || cc.FeesAddress != "" {
			fees, err := newSigner(cc.FeesKey, cc.FeesAddress)
			if err != nil {
				return nil, fmt.Errorf("chain %s fees wallet: %w", name, err)
			}
			n.wallets[domain.WalletFees] = fees
		}

		if c, ok := o.clients[name]; ok {
			n.client = c
		} else {
			c, err := ethclient.Dial(cc.RPCURL)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrRPCConnection, name, err)
			}
			n.client = c
		}

		g.networks[name] = n
		g.log.Info().
			Str("chain", name).
			Int64("chain_id", cc.ChainID).
			Str("main_wallet", mainWallet.address.Hex()).
			Bool("main_can_sign", mainWallet.key != nil).
			Int("tokens", len(n.tokens)).
			Msg("EVM network configured")
	}
	return g, nil
}

// newSigner derives the wallet address from key, or uses address as a
// watch-only wallet when the key belongs to a different controller.
func newSigner(hexKey, address string) (signer, error) {
	var s signer
	if hexKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return s, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		s.key = key
		s.address = crypto.PubkeyToAddress(key.PublicKey)
	}
	if address != "" {
		if !common.IsHexAddress(address) {
			return s, fmt.Errorf("invalid wallet address %q", address)
		}
		addr := common.HexToAddress(address)
		if s.key != nil && addr != s.address {
			s.key = nil
		}
		s.address = addr
	}
	if s.address == (common.Address{}) {
		return s, errors.New("wallet needs a key or an address")
	}
	return s, nil
}

// Wallets lists the platform wallets of every chain.
func (g *Gateway) Wallets() []domain.PlatformWallet {
	var out []domain.PlatformWallet
	for _, n := range g.networks {
		for role, s := range n.wallets {
			out = append(out, domain.PlatformWallet{
				Chain:   n.name,
				Role:    role,
				Address: s.address.Hex(),
				CanSign: s.key != nil,
			})
		}
	}
	return out
}

// AssetsFromConfig lists the configured tokens of every chain.
func AssetsFromConfig(chains map[string]config.ChainConfig) []domain.Asset {
	var out []domain.Asset
	for name, cc := range chains {
		for sym, tok := range cc.Tokens {
			out = append(out, domain.Asset{
				Chain:    strings.ToLower(name),
				Token:    strings.ToLower(sym),
				Contract: tok.Contract,
				Decimals: tok.Decimals,
			})
		}
	}
	return out
}

// BalanceOf reads an ERC-20 balance in base units.
func (g *Gateway) BalanceOf(ctx context.Context, chain, token, address string) (*big.Int, error) {
	n, contract, err := g.resolve(chain, token)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(address) {
		return nil, domain.ErrInvalidAddress
	}
	return g.balanceOf(ctx, n, contract, common.HexToAddress(address))
}

func (g *Gateway) balanceOf(ctx context.Context, n *network, contract, owner common.Address) (*big.Int, error) {
	data, err := g.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	result, err := n.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf on %s: %w", n.name, err)
	}
	return new(big.Int).SetBytes(result), nil
}

// Transfer signs and submits an ERC-20 transfer from a platform wallet.
// It returns once the node accepts the transaction.
func (g *Gateway) Transfer(ctx context.Context, order ports.TransferOrder) (string, error) {
	n, contract, err := g.resolve(order.Chain, order.Token)
	if err != nil {
		return "", err
	}
	if !domain.ValidAddress(order.To) {
		return "", domain.ErrInvalidAddress
	}
	if order.Amount == nil || order.Amount.Sign() <= 0 {
		return "", domain.ErrInvalidAmount
	}

	from, ok := n.wallets[order.From]
	if !ok || from.key == nil {
		return "", &domain.TransferError{Kind: domain.TransferSignerUnavailable, Op: "sign",
			Err: fmt.Errorf("no signing key for %s wallet on %s", order.From, n.name)}
	}

	balance, err := g.balanceOf(ctx, n, contract, from.address)
	if err != nil {
		return "", classify("balance", "", err)
	}
	if balance.Cmp(order.Amount) < 0 {
		return "", &domain.TransferError{Kind: domain.TransferInsufficientBalance, Op: "balance",
			Err: fmt.Errorf("have %s, need %s", balance, order.Amount)}
	}

	to := common.HexToAddress(order.To)
	data, err := g.erc20.Pack("transfer", to, order.Amount)
	if err != nil {
		return "", &domain.TransferError{Kind: domain.TransferRejected, Op: "pack", Err: err}
	}

	nonce, err := n.client.PendingNonceAt(ctx, from.address)
	if err != nil {
		return "", classify("nonce", "", err)
	}
	gasPrice, err := n.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", classify("gas_price", "", err)
	}
	gasLimit, err := n.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from.address,
		To:    &contract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// A transfer the node cannot simulate would revert; nothing was sent.
		return "", classify("estimate_gas", "", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(n.chainID), from.key)
	if err != nil {
		return "", &domain.TransferError{Kind: domain.TransferSignerUnavailable, Op: "sign", Err: err}
	}

	hash := signed.Hash().Hex()
	if err := n.client.SendTransaction(ctx, signed); err != nil {
		return "", classify("send", hash, err)
	}

	g.log.Info().
		Str("chain", n.name).
		Str("token", order.Token).
		Str("from_role", string(order.From)).
		Str("to", to.Hex()).
		Str("amount_raw", order.Amount.String()).
		Uint64("nonce", nonce).
		Str("tx_hash", hash).
		Msg("ERC20 transfer submitted")
	return hash, nil
}

// VerifyDebit checks that proof.TxHash was mined successfully and that its
// Transfer logs on the token contract move at least proof.Amount from
// proof.From to proof.To.
func (g *Gateway) VerifyDebit(ctx context.Context, proof ports.DebitProof) error {
	n, contract, err := g.resolve(proof.Chain, proof.Token)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(proof.From) || !common.IsHexAddress(proof.To) {
		return domain.ErrInvalidAddress
	}
	if proof.Amount == nil || proof.Amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	raw, err := hexutil.Decode(proof.TxHash)
	if err != nil || len(raw) != common.HashLength {
		return fmt.Errorf("%w: malformed tx hash %q", domain.ErrDebitUnverified, proof.TxHash)
	}

	receipt, err := n.client.TransactionReceipt(ctx, common.BytesToHash(raw))
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: %s not mined on %s", domain.ErrDebitUnverified, proof.TxHash, n.name)
	}
	if err != nil {
		return fmt.Errorf("fetch receipt on %s: %w", n.name, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s reverted", domain.ErrDebitUnverified, proof.TxHash)
	}

	from, to := common.HexToAddress(proof.From), common.HexToAddress(proof.To)
	event := g.erc20.Events["Transfer"]
	moved := new(big.Int)
	for _, l := range receipt.Logs {
		if l.Address != contract || len(l.Topics) != 3 || l.Topics[0] != event.ID {
			continue
		}
		if common.BytesToAddress(l.Topics[1].Bytes()) != from || common.BytesToAddress(l.Topics[2].Bytes()) != to {
			continue
		}
		values, err := g.erc20.Unpack("Transfer", l.Data)
		if err != nil || len(values) != 1 {
			continue
		}
		if v, ok := values[0].(*big.Int); ok {
			moved.Add(moved, v)
		}
	}
	if moved.Cmp(proof.Amount) < 0 {
		return fmt.Errorf("%w: %s moved %s to %s, need %s", domain.ErrDebitUnverified, proof.TxHash, moved, to.Hex(), proof.Amount)
	}

	g.log.Info().
		Str("chain", n.name).
		Str("token", proof.Token).
		Str("tx_hash", proof.TxHash).
		Str("from", from.Hex()).
		Str("amount_raw", moved.String()).
		Msg("user debit verified")
	return nil
}

// Close closes every RPC client.
func (g *Gateway) Close() {
	for _, n := range g.networks {
		n.client.Close()
	}
}

func (g *Gateway) resolve(chain, token string) (*network, common.Address, error) {
	n, ok := g.networks[strings.ToLower(chain)]
	if !ok {
		return nil, common.Address{}, fmt.Errorf("%w: chain %s", domain.ErrUnsupportedAsset, chain)
	}
	contract, ok := n.tokens[strings.ToLower(token)]
	if !ok {
		return nil, common.Address{}, fmt.Errorf("%w: %s on %s", domain.ErrUnsupportedAsset, token, chain)
	}
	return n, contract, nil
}

// classify maps node and transport errors to transfer error kinds.
func classify(op, txHash string, err error) error {
	kind := domain.TransferRejected
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.TransferTimeout
	case strings.Contains(msg, "insufficient funds"):
		kind = domain.TransferInsufficientBalance
	case strings.Contains(msg, "already known"):
		kind = domain.TransferAmbiguous
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "i/o timeout"):
		kind = domain.TransferTimeout
	}
	return &domain.TransferError{Kind: kind, Op: op, TxHash: txHash, Err: err}
}
