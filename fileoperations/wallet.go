package fileoperations

import (
	"errors"
	"os"

	"github.com/bartossh/Timesheet/wallet"
)

var ErrEmptyPassphrase = errors.New("wallet passphrase is empty")

// Sealer offers behaviour to seal the bytes with the passphrase.
type Sealer interface {
	Encrypt(passphrase, data []byte) ([]byte, error)
	Decrypt(passphrase, data []byte) ([]byte, error)
}

// ReadWallet reads the sealed wallet from the file.
func (h Helper) ReadWallet() (wallet.Wallet, error) {
	if h.cfg.WalletPasswd == "" {
		return wallet.Wallet{}, ErrEmptyPassphrase
	}
	raw, err := os.ReadFile(h.cfg.WalletPath)
	if err != nil {
		return wallet.Wallet{}, err
	}

	opened, err := h.s.Decrypt([]byte(h.cfg.WalletPasswd), raw)
	if err != nil {
		return wallet.Wallet{}, err
	}

	return wallet.DecodeGOBWallet(opened)
}

// SaveWallet seals the wallet and saves it to the file.
func (h Helper) SaveWallet(w *wallet.Wallet) error {
	if h.cfg.WalletPasswd == "" {
		return ErrEmptyPassphrase
	}
	raw, err := w.EncodeGOB()
	if err != nil {
		return err
	}

	closed, err := h.s.Encrypt([]byte(h.cfg.WalletPasswd), raw)
	if err != nil {
		return err
	}

	return os.WriteFile(h.cfg.WalletPath, closed, 0600)
}

// SaveToPem saves the wallet keys to PEM files at path and path.pub.
// An empty path falls back to the configured pem path.
func (h Helper) SaveToPem(w *wallet.Wallet, path string) error {
	if path == "" {
		path = h.cfg.WalletPemPath
	}
	return w.SaveToPem(path)
}

// ReadFromPem reads the wallet from PEM files at path and path.pub.
// An empty path falls back to the configured pem path.
func (h Helper) ReadFromPem(path string) (wallet.Wallet, error) {
	if path == "" {
		path = h.cfg.WalletPemPath
	}
	return wallet.ReadFromPem(path)
}

// Wallet reads the sealed wallet when configured, the pem wallet otherwise.
func (h Helper) Wallet() (wallet.Wallet, error) {
	switch {
	case h.cfg.WalletPath != "":
		return h.ReadWallet()
	case h.cfg.WalletPemPath != "":
		return h.ReadFromPem("")
	default:
		return wallet.Wallet{}, ErrNoWalletSource
	}
}
