package hyperliquid

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"
)

// L1 action 的 EIP-712 域固定为 Exchange/1/1337，验证合约为零地址。
const (
	l1ChainID      = 1337
	zeroAddressHex = "0x0000000000000000000000000000000000000000"
)

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// Signer 使用钱包私钥对 L1 action 做 phantom agent 签名。
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	mainnet bool

	nonceMu   sync.Mutex
	lastNonce uint64
	now       func() time.Time
}

func NewSigner(privateKeyHex string, mainnet bool) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		mainnet: mainnet,
		now:     time.Now,
	}, nil
}

func (s *Signer) Address() common.Address { return s.address }

// nextNonce 以毫秒时间戳为 nonce，并保证严格递增。
func (s *Signer) nextNonce() uint64 {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	n := uint64(s.now().UnixMilli())
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return n
}

// actionHash = keccak256(msgpack(action) || nonce(8 字节大端) || 0x00)，末字节 0 表示无 vault。
func actionHash(action any, nonce uint64) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return nil, fmt.Errorf("msgpack action: %w", err)
	}
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	buf.Write(nb[:])
	buf.WriteByte(0x00)
	return crypto.Keccak256(buf.Bytes()), nil
}

func (s *Signer) agentTypedData(connectionID []byte) apitypes.TypedData {
	source := "b"
	if s.mainnet {
		source = "a"
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           gethmath.NewHexOrDecimal256(l1ChainID),
			VerifyingContract: zeroAddressHex,
		},
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": connectionID,
		},
	}
}

// digest 返回待签名的 EIP-712 摘要。
func (s *Signer) digest(action any, nonce uint64) ([]byte, error) {
	hash, err := actionHash(action, nonce)
	if err != nil {
		return nil, err
	}
	digest, _, err := apitypes.TypedDataAndHash(s.agentTypedData(hash))
	if err != nil {
		return nil, fmt.Errorf("eip712 hash: %w", err)
	}
	return digest, nil
}

func (s *Signer) SignAction(action any, nonce uint64) (Signature, error) {
	digest, err := s.digest(action, nonce)
	if err != nil {
		return Signature{}, err
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}
