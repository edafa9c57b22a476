package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ExchangeAddress is the CTF exchange contract orders are signed for on
// Polygon mainnet.
const ExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"

var (
	authDomainType = ethcrypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	exchDomainType = ethcrypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	clobAuthType   = ethcrypto.Keccak256([]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"))
	orderType      = ethcrypto.Keccak256([]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"))
)

const clobAuthMessage = "This message attests that I control the given wallet"

// OrderPayload holds the signed fields of a CLOB limit order. Amounts are
// decimal strings in 1e6 base units.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 buy, 1 sell
	SignatureType int    `json:"signatureType"` // 0 EOA, 1 proxy, 2 safe
}

// Signer signs CLOB auth messages and orders with a secp256k1 key.
type Signer struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	authSep  []byte
	orderSep []byte
}

// NewSigner parses a hex private key (0x prefix optional) for chainID.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	chain := word(big.NewInt(int64(chainID)))
	return &Signer{
		key:     pk,
		address: ethcrypto.PubkeyToAddress(pk.PublicKey),
		authSep: ethcrypto.Keccak256(authDomainType,
			ethcrypto.Keccak256([]byte("ClobAuthDomain")),
			ethcrypto.Keccak256([]byte("1")),
			chain,
		),
		orderSep: ethcrypto.Keccak256(exchDomainType,
			ethcrypto.Keccak256([]byte("Polymarket CTF Exchange")),
			ethcrypto.Keccak256([]byte("1")),
			chain,
			common.LeftPadBytes(common.HexToAddress(ExchangeAddress).Bytes(), 32),
		),
	}, nil
}

// Address returns the wallet address of the key.
func (s *Signer) Address() common.Address { return s.address }

// SignAuthMessage signs the ClobAuth message used for L1 headers.
func (s *Signer) SignAuthMessage(timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(
		clobAuthType,
		common.LeftPadBytes(s.address.Bytes(), 32),
		ethcrypto.Keccak256([]byte(fmt.Sprintf("%d", timestamp))),
		word(big.NewInt(nonce)),
		ethcrypto.Keccak256([]byte(clobAuthMessage)),
	)
	return s.sign(s.authSep, structHash)
}

// SignOrder signs an order for the exchange contract.
func (s *Signer) SignOrder(o OrderPayload) (string, error) {
	fields := []struct {
		name, val string
	}{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	}
	nums := make([][]byte, len(fields))
	for i, f := range fields {
		n, ok := new(big.Int).SetString(f.val, 10)
		if !ok {
			return "", fmt.Errorf("crypto/signer: invalid %s %q", f.name, f.val)
		}
		nums[i] = word(n)
	}
	addr := func(h string) []byte { return common.LeftPadBytes(common.HexToAddress(h).Bytes(), 32) }

	structHash := ethcrypto.Keccak256(
		orderType,
		nums[0],
		addr(o.Maker),
		addr(o.Signer),
		addr(o.Taker),
		nums[1], nums[2], nums[3], nums[4], nums[5], nums[6],
		word(big.NewInt(int64(o.Side))),
		word(big.NewInt(int64(o.SignatureType))),
	)
	return s.sign(s.orderSep, structHash)
}

// sign hashes "\x19\x01" || domain || struct and returns r||s||v with v in
// {27,28}, hex encoded.
func (s *Signer) sign(domainSep, structHash []byte) (string, error) {
	digest := ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// word left-pads n to a 32-byte ABI word.
func word(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}
