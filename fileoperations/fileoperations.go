package fileoperations

import "errors"

var ErrNoWalletSource = errors.New("neither sealed wallet nor pem file is configured")

// Config holds configuration of the file operator Helper.
type Config struct {
	WalletPath    string `yaml:"wallet_path"`   // wallet path to the sealed wallet gob file
	WalletPasswd  string `yaml:"wallet_passwd"` // passphrase the wallet gob file is sealed with
	WalletPemPath string `yaml:"pem_path"`      // path to ed25519 pem file
}

// Helper holds all file operation methods.
type Helper struct {
	s   Sealer
	cfg Config
}

// New creates new Helper.
func New(cfg Config, s Sealer) Helper {
	return Helper{
		cfg: cfg,
		s:   s,
	}
}
