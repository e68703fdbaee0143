// Package modkit provides module wiring and core deps
package modkit

import (
	"msgvault/internal/modkit/repokit"
	"msgvault/internal/platform/config"
	"msgvault/internal/platform/logger"
	"msgvault/internal/platform/store/mgo"
)

// Deps holds core dependencies passed to modules
// this is wiring only and does not introduce new abstractions
type Deps struct {
	Log   logger.Logger
	Cfg   config.Conf
	PG    repokit.TxRunner
	Mongo *mgo.DB
}

// ZeroOK returns true when deps are safe to use with zero values in tests
// consumers should still nil check for optional stores
func (d Deps) ZeroOK() bool { return true }
