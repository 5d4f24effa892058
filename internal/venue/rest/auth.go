package rest

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Auth signs venue actions (orders, transfers, builder-fee approvals) via
// EIP-712 typed data under the HyperliquidTransaction domain family, and
// derives the wallet address that owns every signature it produces.
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewAuth creates an Auth from a hex private key (0x prefix optional).
func NewAuth(privateKeyHex string, chainID int64) (*Auth, error) {
	keyHex := privateKeyHex
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Auth{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// NewReadOnlyAuth creates an Auth with no signing key, for sessions that
// only call read endpoints: a private key only "enables writes" and isn't
// required otherwise. SignAction fails clearly if a write is attempted.
func NewReadOnlyAuth(addressHex string, chainID int64) *Auth {
	return &Auth{address: common.HexToAddress(addressHex), chainID: big.NewInt(chainID)}
}

// Address returns the signer's Ethereum address.
func (a *Auth) Address() common.Address {
	return a.address
}

// SignAction signs a venue action payload (order placement, transfer,
// builder-fee approval, abstraction toggle) as a nonce-scoped typed-data
// message and returns the 65-byte signature hex-encoded with 0x prefix.
func (a *Auth) SignAction(actionType string, payload map[string]interface{}, nonce int64) (string, error) {
	if a.privateKey == nil {
		return "", fmt.Errorf("sign action: no private key configured (read-only session)")
	}
	message := apitypes.TypedDataMessage{
		"nonce":      strconv.FormatInt(nonce, 10),
		"actionType": actionType,
	}
	for k, v := range payload {
		message[k] = fmt.Sprintf("%v", v)
	}

	sig, err := a.signTypedData(
		&apitypes.TypedDataDomain{
			Name:    "HyperliquidTransaction",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Agent": {
				{Name: "nonce", Type: "string"},
				{Name: "actionType", Type: "string"},
			},
		},
		message,
		"Agent",
	)
	if err != nil {
		return "", fmt.Errorf("sign action: %w", err)
	}

	return "0x" + common.Bytes2Hex(sig), nil
}

// signTypedData signs EIP-712 typed data and normalizes V to 27/28.
func (a *Auth) signTypedData(
	domain *apitypes.TypedDataDomain,
	typesDef apitypes.Types,
	message apitypes.TypedDataMessage,
	primaryType string,
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}

	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// NextNonce derives a monotonically-increasing nonce from wall-clock time,
// in milliseconds, matching the venue's replay-protection contract.
func NextNonce() int64 {
	return time.Now().UnixMilli()
}
