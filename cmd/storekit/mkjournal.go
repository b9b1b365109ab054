package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/gazette-labs/storekit/core"
	"github.com/gazette-labs/storekit/store"
)

type cmdMkjournal struct{}

// Execute provisions the local journal file ahead of the first serve, per
// spec.md §6's control surface mkjournal. Run against an already-
// initialized base directory; a fresh base directory still needs mkfs
// first for the identity lock and version stamp.
func (cmdMkjournal) Execute(args []string) error {
	var ctx = core.NewContext(&Config.StoreConfig)

	if err := store.Mkjournal(ctx.Config.BaseDir); err != nil {
		ctx.Log.WithField("err", err).Fatal("mkjournal failed")
	}

	ctx.Log.WithFields(log.Fields{"base_dir": ctx.Config.BaseDir}).Info("mkjournal complete")
	return nil
}
