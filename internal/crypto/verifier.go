// Package crypto provides EIP-712 order hashing, signature verification,
// order signing, and key management for the marketplace settlement engine.
package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/bullieverse/marketd/internal/domain"
)

// EIP-712 domain parameters. Every signed order binds these plus the chain
// id and verifying contract, so an order signed for one deployment cannot
// be replayed against another.
const (
	domainName    = "Bullieverse"
	domainVersion = "1"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// BuyOrder(address seller,address contractAddress,uint256 tokenId,uint256 startTime,uint256 expiration,uint256 price,uint256 quantity,uint256 createdAtBlockNumber,address paymentERC20)
	buyOrderTypeHash = ethcrypto.Keccak256(
		[]byte("BuyOrder(address seller,address contractAddress,uint256 tokenId,uint256 startTime,uint256 expiration,uint256 price,uint256 quantity,uint256 createdAtBlockNumber,address paymentERC20)"),
	)
)

// DomainSeparator returns keccak256(abi.encode(typeHash, nameHash,
// versionHash, chainId, verifyingContract)). chainID must be a
// non-negative integer fitting in 256 bits.
func DomainSeparator(chainID *big.Int, verifyingContract common.Address) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			bigIntTo32Bytes(chainID),
			common.LeftPadBytes(verifyingContract.Bytes(), 32),
		),
	)
}

// OrderDigest computes the EIP-712 digest of an order:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
//
// Every order field is bound into the digest in the fixed BuyOrder order,
// so flipping any field invalidates the signature. The digest also serves
// as the order's identity in the cancellation ledger's consumed set, so
// an integer field that does not fit in uint256 is an error: truncating
// it would give two distinct orders the same digest.
func OrderDigest(order domain.Order, chainID *big.Int, verifyingContract common.Address) (common.Hash, error) {
	for _, field := range []struct {
		name  string
		value *big.Int
	}{
		{"tokenId", order.TokenID},
		{"price", order.Price},
		{"quantity", order.Quantity},
	} {
		if field.value == nil || field.value.Sign() < 0 || field.value.BitLen() > 256 {
			return common.Hash{}, fmt.Errorf("crypto: order %s %s does not fit in uint256", field.name, field.value)
		}
	}
	if order.StartTime < 0 || order.Expiration < 0 {
		return common.Hash{}, fmt.Errorf("crypto: order timestamps must be non-negative")
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			buyOrderTypeHash,
			common.LeftPadBytes(order.Seller.Bytes(), 32),
			common.LeftPadBytes(order.AssetContract.Bytes(), 32),
			bigIntTo32Bytes(order.TokenID),
			bigIntTo32Bytes(big.NewInt(order.StartTime)),
			bigIntTo32Bytes(big.NewInt(order.Expiration)),
			bigIntTo32Bytes(order.Price),
			bigIntTo32Bytes(order.Quantity),
			bigIntTo32Bytes(new(big.Int).SetUint64(order.CreatedAtBlock)),
			common.LeftPadBytes(order.PaymentToken.Bytes(), 32),
		),
	)

	digest := ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			DomainSeparator(chainID, verifyingContract),
			structHash,
		),
	)
	return common.BytesToHash(digest), nil
}

// RecoverSigner recovers the address that produced sig over digest. It
// accepts both v in {0,1} and v in {27,28}.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}

	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyOrder recomputes the order digest and checks that the order's
// signature was produced by Order.Seller over exactly that digest. It is
// pure and must run fresh on every fill; price, timing, and payment-token
// fields are caller-controlled inputs that have to be bound into the
// signed digest.
func VerifyOrder(order domain.Order, chainID *big.Int, verifyingContract common.Address) error {
	digest, err := OrderDigest(order, chainID, verifyingContract)
	if err != nil {
		return err
	}

	signer, err := RecoverSigner(digest, order.Signature)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	if signer != order.Seller {
		return domain.ErrInvalidSignature
	}
	return nil
}

// bigIntTo32Bytes returns the 32-byte big-endian representation of n,
// which must fit in 256 bits (OrderDigest validates its inputs first).
func bigIntTo32Bytes(n *big.Int) []byte {
	padded := make([]byte, 32)
	n.FillBytes(padded)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
