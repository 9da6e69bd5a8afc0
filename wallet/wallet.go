package wallet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/gob"
	"encoding/pem"
	"errors"
	"os"

	"github.com/bartossh/Timesheet/serializer"
)

const (
	checksumLength = 4
	version        = byte(0x00)
)

var (
	ErrPemDecode = errors.New("cannot decode key from PEM format")
	ErrKeyType   = errors.New("decoded key is not an ed25519 key")
)

// Wallet holds public and private key of the party.
// The wallet address is the party identity on the ledger.
type Wallet struct {
	Private ed25519.PrivateKey `json:"private" bson:"private"`
	Public  ed25519.PublicKey  `json:"public"  bson:"public"`
}

// New tries to creates a new Wallet or returns error otherwise.
func New() (Wallet, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{Private: private, Public: public}, nil
}

// SaveToPem saves wallet private and public key to the PEM format file.
// Saved files are like in the example:
// - PRIVATE: "your/path/name"
// - PUBLIC: "your/path/name.pub"
func (w *Wallet) SaveToPem(filepath string) error {
	prv, err := x509.MarshalPKCS8PrivateKey(w.Private)
	if err != nil {
		return err
	}
	pub, err := x509.MarshalPKIXPublicKey(w.Public)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: prv}), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath+".pub", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}), 0644)
}

// ReadFromPem creates Wallet from PEM format file.
// Provide the path to a file without specifying the extension : <your/path/name".
func ReadFromPem(filepath string) (Wallet, error) {
	var w Wallet
	rawPub, err := os.ReadFile(filepath + ".pub")
	if err != nil {
		return w, err
	}
	rawPrv, err := os.ReadFile(filepath)
	if err != nil {
		return w, err
	}

	blockPub, _ := pem.Decode(rawPub)
	if blockPub == nil || blockPub.Type != "PUBLIC KEY" {
		return w, ErrPemDecode
	}
	pub, err := x509.ParsePKIXPublicKey(blockPub.Bytes)
	if err != nil {
		return w, err
	}
	blockPrv, _ := pem.Decode(rawPrv)
	if blockPrv == nil || blockPrv.Type != "PRIVATE KEY" {
		return w, ErrPemDecode
	}
	prv, err := x509.ParsePKCS8PrivateKey(blockPrv.Bytes)
	if err != nil {
		return w, err
	}
	var ok bool
	if w.Public, ok = pub.(ed25519.PublicKey); !ok {
		return w, ErrKeyType
	}
	if w.Private, ok = prv.(ed25519.PrivateKey); !ok {
		return w, ErrKeyType
	}
	return w, nil
}

// DecodeGOBWallet tries to decode Wallet from gob representation or returns error otherwise.
func DecodeGOBWallet(data []byte) (Wallet, error) {
	var w Wallet
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

// EncodeGOB tries to encodes Wallet in to the gob representation or returns error otherwise.
func (w *Wallet) EncodeGOB() ([]byte, error) {
	var content bytes.Buffer
	if err := gob.NewEncoder(&content).Encode(w); err != nil {
		return nil, err
	}
	return content.Bytes(), nil
}

// Version returns wallet version.
func (w *Wallet) Version() byte {
	return version
}

// Address creates address from the public key that contains wallet version and checksum.
func (w *Wallet) Address() string {
	return AddressFromPubKey(w.Public)
}

// Sign signs the message with Ed25519 signature.
// Returns digest hash sha256 and signature.
func (w *Wallet) Sign(message []byte) (digest [32]byte, signature []byte) {
	digest = sha256.Sum256(message)
	signature = ed25519.Sign(w.Private, digest[:])
	return digest, signature
}

// Verify verifies message ED25519 signature and hash.
func (w *Wallet) Verify(message, signature []byte, hash [32]byte) bool {
	digest := sha256.Sum256(message)
	if !bytes.Equal(hash[:], digest[:]) {
		return false
	}
	return ed25519.Verify(w.Public, digest[:], signature)
}

// AddressFromPubKey encodes public key with version and checksum in to the base58 address.
func AddressFromPubKey(pub ed25519.PublicKey) string {
	vers := append([]byte{version}, pub...)
	full := append(vers, checksum(vers)...)
	return string(serializer.Base58Encode(full))
}

func checksum(payload []byte) []byte {
	firstHash := sha256.Sum256(payload)
	secondHash := sha256.Sum256(firstHash[:])

	return secondHash[:checksumLength]
}
