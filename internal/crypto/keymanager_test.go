package crypto

import (
	"encoding/json"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestVaultRoundTrip(t *testing.T) {
	v, err := NewVault("correct horse", 1000)
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	key, addr, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	blob, err := v.Seal(key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.Contains(string(blob), addr.Hex()) {
		t.Fatal("sealed blob does not record the address")
	}

	opened, err := v.Open(blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ethcrypto.PubkeyToAddress(opened.PublicKey) != addr {
		t.Fatal("opened key does not match")
	}
}

func TestVaultRejectsWrongPassword(t *testing.T) {
	v, _ := NewVault("one", 1000)
	other, _ := NewVault("two", 1000)
	key, _, _ := GenerateKey()
	blob, _ := v.Seal(key)

	if _, err := other.Open(blob); err == nil {
		t.Fatal("Open() with the wrong password succeeded")
	}
}

func TestVaultRejectsSwappedAddress(t *testing.T) {
	v, _ := NewVault("pw", 1000)
	key, _, _ := GenerateKey()
	_, otherAddr, _ := GenerateKey()
	blob, _ := v.Seal(key)

	var stored sealedJSON
	if err := json.Unmarshal(blob, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	stored.Address = otherAddr.Hex()
	tampered, _ := json.Marshal(stored)

	if _, err := v.Open(tampered); err == nil {
		t.Fatal("Open() accepted a blob bound to another address")
	}
}

func TestNewVaultRequiresPassword(t *testing.T) {
	if _, err := NewVault("", 0); err == nil {
		t.Fatal("NewVault(\"\") succeeded")
	}
}
