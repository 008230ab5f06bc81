package voucher

import (
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ipfs/go-cid"
)

const (
	// DefaultDomainName is the EIP-712 domain name used by the auction contracts.
	DefaultDomainName = "LazyNFT-Voucher"
	// DefaultDomainVersion is the EIP-712 domain version.
	DefaultDomainVersion = "1"

	signatureLength = 65
)

var (
	domainTypeHash  = crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	voucherTypeHash = crypto.Keccak256([]byte("NFTVoucher(bytes32 auctionId,uint256 bidPrice,string uri)"))
)

// Domain is the context a voucher is bound to. A voucher signed for one domain never
// verifies in another.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Separator returns the EIP-712 domain separator.
func (d Domain) Separator() []byte {
	chainID := new(big.Int)
	if d.ChainID != nil {
		chainID.Set(d.ChainID)
	}
	return crypto.Keccak256(
		domainTypeHash,
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		math.U256Bytes(chainID),
		common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
	)
}

// Codec builds and verifies vouchers for a chain.
type Codec struct {
	name    string
	version string
	chainID *big.Int
}

// NewCodec returns a Codec for the given EIP-712 domain name, version and chain id.
func NewCodec(name, version string, chainID *big.Int) *Codec {
	if chainID == nil {
		chainID = new(big.Int)
	}
	return &Codec{name: name, version: version, chainID: new(big.Int).Set(chainID)}
}

// Domain returns the signing domain of a collection.
func (c *Codec) Domain(collection common.Address) Domain {
	return Domain{
		Name:              c.name,
		Version:           c.version,
		ChainID:           new(big.Int).Set(c.chainID),
		VerifyingContract: collection,
	}
}

// AssetIDHash returns the bytes32 form of an asset id, keccak256 of its UTF-8 bytes.
func AssetIDHash(assetID string) []byte {
	return crypto.Keccak256([]byte(assetID))
}

// Digest returns the EIP-712 digest a voucher signature is computed over.
// Fields are not validated.
func Digest(d Domain, assetID string, bidPrice *big.Int, uri string) []byte {
	price := new(big.Int)
	if bidPrice != nil {
		price.Set(bidPrice)
	}
	structHash := crypto.Keccak256(
		voucherTypeHash,
		AssetIDHash(assetID),
		math.U256Bytes(price),
		crypto.Keccak256([]byte(uri)),
	)
	return crypto.Keccak256([]byte{0x19, 0x01}, d.Separator(), structHash)
}

// CreateVoucher builds and signs a voucher.
func CreateVoucher(d Domain, assetID string, bidPrice *big.Int, uri string, signer Signer) (Voucher, error) {
	if signer == nil {
		return Voucher{}, fmt.Errorf("signer is nil: %w", ErrSigningFailed)
	}
	v := Voucher{AssetID: assetID, URI: uri}
	if bidPrice != nil {
		v.BidPrice = new(big.Int).Set(bidPrice)
	}
	if err := validateFields(v); err != nil {
		return Voucher{}, err
	}
	sig, err := signer.SignDigest(Digest(d, v.AssetID, v.BidPrice, v.URI))
	if err != nil {
		return Voucher{}, fmt.Errorf("signing voucher: %w", err)
	}
	if len(sig) != signatureLength {
		return Voucher{}, fmt.Errorf("signer returned %d bytes: %w", len(sig), ErrSigningFailed)
	}
	// Ethereum signers expect V in {27, 28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	v.Signature = sig
	return v, nil
}

// VerifyVoucher validates the voucher fields and returns the address that signed it.
// It never requires a private key.
func VerifyVoucher(v Voucher, d Domain) (common.Address, error) {
	if err := validateFields(v); err != nil {
		return common.Address{}, err
	}
	if len(v.Signature) != signatureLength {
		return common.Address{}, fmt.Errorf("signature length %d: %w", len(v.Signature), ErrMalformedVoucher)
	}

	sig := make([]byte, signatureLength)
	copy(sig, v.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[64], r, s, true) {
		return common.Address{}, fmt.Errorf("invalid signature values: %w", ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(Digest(d, v.AssetID, v.BidPrice, v.URI), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recovering signer: %v: %w", err, ErrInvalidSignature)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyVoucherFrom verifies that the voucher was signed by claimed.
func VerifyVoucherFrom(v Voucher, d Domain, claimed common.Address) error {
	signer, err := VerifyVoucher(v, d)
	if err != nil {
		return err
	}
	if signer != claimed {
		return fmt.Errorf("recovered %s, expected %s: %w", signer.Hex(), claimed.Hex(), ErrInvalidSignature)
	}
	return nil
}

func validateFields(v Voucher) error {
	if strings.TrimSpace(v.AssetID) == "" {
		return fmt.Errorf("asset id is empty: %w", ErrMalformedVoucher)
	}
	if !ValidAmount(v.BidPrice) {
		return fmt.Errorf("bid price must be in (0, 2^256): %w", ErrMalformedVoucher)
	}
	if strings.TrimSpace(v.URI) == "" {
		return fmt.Errorf("uri is empty: %w", ErrMalformedVoucher)
	}
	return validateURI(v.URI)
}

// validateURI checks that ipfs:// URIs carry a valid CID. Other schemes are opaque.
func validateURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("parsing uri: %v: %w", err, ErrMalformedVoucher)
	}
	if u.Scheme != "ipfs" {
		return nil
	}
	root := u.Host
	if root == "" {
		root = strings.TrimPrefix(u.Path, "/")
	}
	if i := strings.Index(root, "/"); i >= 0 {
		root = root[:i]
	}
	if _, err := cid.Decode(root); err != nil {
		return fmt.Errorf("uri %q has no valid cid: %v: %w", uri, err, ErrMalformedVoucher)
	}
	return nil
}
