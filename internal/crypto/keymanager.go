// Package crypto generates custodial wallet keys and seals them at rest with
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the OWASP-recommended minimum for HMAC-SHA256.
	DefaultIterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the sealed-secret JSON schema version.
	currentVersion = 1
)

// sealedJSON is the stored format of an encrypted wallet key.
type sealedJSON struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// Vault seals and opens wallet keys with a master password.
type Vault struct {
	password   []byte
	iterations int
}

// NewVault creates a Vault. A non-positive iteration count uses
// DefaultIterations.
func NewVault(password string, iterations int) (*Vault, error) {
	if password == "" {
		return nil, errors.New("crypto: master password must not be empty")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Vault{password: []byte(password), iterations: iterations}, nil
}

// GenerateKey creates a new secp256k1 wallet key.
func GenerateKey() (*ecdsa.PrivateKey, common.Address, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto: generate key: %w", err)
	}
	return key, ethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// Seal encrypts key. The address is bound into the ciphertext as additional
// data so a blob cannot be swapped between wallets.
func (v *Vault) Seal(key *ecdsa.PrivateKey) ([]byte, error) {
	address := ethcrypto.PubkeyToAddress(key.PublicKey)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := v.gcm(salt, v.iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), address.Bytes())

	return json.Marshal(sealedJSON{
		Version:    currentVersion,
		Address:    address.Hex(),
		Iterations: v.iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
}

// Open decrypts a blob produced by Seal.
func (v *Vault) Open(blob []byte) (*ecdsa.PrivateKey, error) {
	var stored sealedJSON
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing sealed key: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}
	if !common.IsHexAddress(stored.Address) {
		return nil, errors.New("crypto: sealed key has no valid address")
	}
	address := common.HexToAddress(stored.Address)

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := v.gcm(salt, stored.Iterations)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, address.Bytes())
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	key, err := ethcrypto.ToECDSA(plaintext)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key material: %w", err)
	}
	if ethcrypto.PubkeyToAddress(key.PublicKey) != address {
		return nil, errors.New("crypto: key does not match sealed address")
	}
	return key, nil
}

func (v *Vault) gcm(salt []byte, iterations int) (cipher.AEAD, error) {
	if iterations <= 0 {
		return nil, errors.New("crypto: invalid iteration count")
	}
	derived := pbkdf2.Key(v.password, salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
