package credits

import (
	"strings"

	"github.com/router-for-me/CreditLedger/internal/config"
)

// Packages returns the purchasable credit packages.
func (l *Ledger) Packages() []config.CreditPackage {
	out := make([]config.CreditPackage, len(l.cfg.Packages))
	copy(out, l.cfg.Packages)
	return out
}

// Package looks up a credit package by ID.
func (l *Ledger) Package(id string) (config.CreditPackage, error) {
	id = strings.TrimSpace(id)
	for _, pkg := range l.cfg.Packages {
		if pkg.ID == id {
			return pkg, nil
		}
	}
	return config.CreditPackage{}, ErrInvalidPackage
}
