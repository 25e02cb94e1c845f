package clients

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/quantfold/dealer/internal/domain"
	"github.com/quantfold/dealer/internal/services/reconciler"
)

// vaultABI is the mutating surface of the on-chain vault contract.
const vaultABI = `[
	{"name":"swap","type":"function","inputs":[{"name":"fromToken","type":"string"},{"name":"toToken","type":"string"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"transferOut","type":"function","inputs":[{"name":"token","type":"string"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

// usdcDecimals scales human amounts to the vault's 6-decimal fixed point.
var usdcScale = decimal.NewFromInt(1_000_000)

const (
	defaultConfirmWait  = 30 * time.Second
	receiptPollInterval = 2 * time.Second
)

// VaultClient submits swaps and transfers to the on-chain vault and
// re-checks transaction settlement by receipt.
type VaultClient struct {
	eth         *ethclient.Client
	privateKey  *ecdsa.PrivateKey
	fromAddr    common.Address
	vaultAddr   common.Address
	chainID     *big.Int
	abi         abi.ABI
	confirmWait time.Duration
}

// NewVaultClient dials the chain endpoint and prepares the signer.
func NewVaultClient(ctx context.Context, rpcURL, vaultAddress string, privateKey *ecdsa.PrivateKey) (*VaultClient, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial chain rpc")
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch chain id")
	}

	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse vault abi")
	}

	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("error casting public key to ECDSA")
	}

	return &VaultClient{
		eth:         eth,
		privateKey:  privateKey,
		fromAddr:    crypto.PubkeyToAddress(*pub),
		vaultAddr:   common.HexToAddress(vaultAddress),
		chainID:     chainID,
		abi:         parsed,
		confirmWait: defaultConfirmWait,
	}, nil
}

// Swap submits a vault token swap. Returns the transaction hash; if the
// confirmation wait expires the error is a recoverable *domain.VenueError
// carrying the hash for out-of-band settlement checks.
func (c *VaultClient) Swap(ctx context.Context, params *domain.SwapParams) (string, error) {
	calldata, err := c.abi.Pack("swap", params.FromToken, params.ToToken, toUnits(params.AmountUSDC))
	if err != nil {
		return "", &domain.VenueError{Venue: "vault", Err: errors.Wrap(err, "pack swap calldata")}
	}
	return c.submitAndWait(ctx, calldata)
}

// Transfer submits a vault transfer-out.
func (c *VaultClient) Transfer(ctx context.Context, params *domain.TransferParams) (string, error) {
	calldata, err := c.abi.Pack("transferOut", params.Token, common.HexToAddress(params.Recipient), toUnits(params.Amount))
	if err != nil {
		return "", &domain.VenueError{Venue: "vault", Err: errors.Wrap(err, "pack transfer calldata")}
	}
	return c.submitAndWait(ctx, calldata)
}

func (c *VaultClient) submitAndWait(ctx context.Context, calldata []byte) (string, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.fromAddr)
	if err != nil {
		return "", &domain.VenueError{Venue: "vault", Err: errors.Wrap(err, "fetch nonce")}
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", &domain.VenueError{Venue: "vault", Err: errors.Wrap(err, "suggest gas price")}
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.fromAddr,
		To:       &c.vaultAddr,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	if err != nil {
		return "", &domain.VenueError{Venue: "vault", Err: errors.Wrap(err, "estimate gas")}
	}

	tx := types.NewTransaction(nonce, c.vaultAddr, big.NewInt(0), gasLimit, gasPrice, calldata)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return "", &domain.VenueError{Venue: "vault", Err: errors.Wrap(err, "sign transaction")}
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", &domain.VenueError{Venue: "vault", Err: errors.Wrap(err, "send transaction")}
	}

	txHash := signed.Hash().Hex()

	// Wait for settlement within the confirmation budget. An expired wait
	// is not a failure: the hash is handed back for reconciliation.
	waitCtx, cancel := context.WithTimeout(ctx, c.confirmWait)
	defer cancel()

	for {
		state, err := c.GetTransactionStatus(waitCtx, txHash)
		if err == nil {
			switch state {
			case reconciler.SettlementConfirmed:
				return txHash, nil
			case reconciler.SettlementFailed:
				return "", &domain.VenueError{Venue: "vault", Reference: txHash, Err: errors.New("transaction reverted")}
			}
		}

		select {
		case <-waitCtx.Done():
			return "", &domain.VenueError{
				Venue:     "vault",
				Reference: txHash,
				Timeout:   true,
				Err:       errors.New("confirmation wait expired"),
			}
		case <-time.After(receiptPollInterval):
		}
	}
}

// GetTransactionStatus re-checks a transaction hash by receipt.
func (c *VaultClient) GetTransactionStatus(ctx context.Context, reference string) (reconciler.SettlementState, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(reference))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return reconciler.SettlementPending, nil
		}
		return reconciler.SettlementPending, errors.Wrap(err, "fetch receipt")
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		return reconciler.SettlementConfirmed, nil
	}
	return reconciler.SettlementFailed, nil
}

// Close releases the RPC connection.
func (c *VaultClient) Close() {
	c.eth.Close()
}

func toUnits(amount decimal.Decimal) *big.Int {
	return amount.Mul(usdcScale).BigInt()
}
