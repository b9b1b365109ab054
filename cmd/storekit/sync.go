package main

import (
	"github.com/google/uuid"

	"github.com/gazette-labs/storekit/core"
	"github.com/gazette-labs/storekit/store"
)

type cmdSync struct{}

// Execute mounts the store, forces one synchronous commit cycle, and
// cleanly umounts.
func (cmdSync) Execute(args []string) error {
	var ctx = core.NewContext(&Config.StoreConfig)

	var s, err = store.Open(ctx, uuid.Nil)
	if err != nil {
		ctx.Log.WithField("err", err).Fatal("mount failed")
	}
	defer s.Umount()

	if err = s.Sync(); err != nil {
		ctx.Log.WithField("err", err).Fatal("sync failed")
	}
	ctx.Log.Info("sync complete")
	return nil
}
