package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/bullieverse/marketd/internal/domain"
)

// Signer produces EIP-712 BuyOrder signatures with a secp256k1 private
// key. Sellers sign off-chain; the engine itself never signs orders. The
// type exists for local tooling and tests.
type Signer struct {
	privateKey        *ecdsa.PrivateKey
	address           common.Address
	chainID           *big.Int
	verifyingContract common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key
// bound to the given chain id and verifying (settlement) contract address.
func NewSigner(privateKeyHex string, chainID *big.Int, verifyingContract common.Address) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey:        pk,
		address:           ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:           chainID,
		verifyingContract: verifyingContract,
	}, nil
}

// Address returns the Ethereum address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignOrder computes the order's EIP-712 digest and signs it, returning
// the 65-byte signature (r || s || v) with v in {27,28}.
func (s *Signer) SignOrder(order domain.Order) ([]byte, error) {
	digest, err := OrderDigest(order, s.chainID, s.verifyingContract)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w", err)
	}

	sig, err := ethcrypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 tooling expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
