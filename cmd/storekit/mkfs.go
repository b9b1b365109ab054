package main

import (
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/gazette-labs/storekit/core"
	"github.com/gazette-labs/storekit/mount"
)

type cmdMkfs struct{}

// Execute acquires the identity lock (creating a fresh identity and
// version stamp if none exists), then immediately releases it: the rest
// of the on-disk layout (current/, the embedded key/value store, the
// journal file) is created lazily by the first Mount, same as any
// subsequent serve invocation.
func (cmdMkfs) Execute(args []string) error {
	var ctx = core.NewContext(&Config.StoreConfig)

	var identity, err = mount.AcquireIdentity(ctx.Config.BaseDir, uuid.Nil)
	if err != nil {
		ctx.Log.WithField("err", err).Fatal("mkfs failed")
	}
	if err = mount.ValidateVersion(ctx.Config.BaseDir, false); err != nil {
		identity.Release()
		ctx.Log.WithField("err", err).Fatal("mkfs failed")
	}
	if err = identity.Release(); err != nil {
		ctx.Log.WithField("err", err).Fatal("mkfs failed to release identity lock")
	}

	ctx.Log.WithFields(log.Fields{"base_dir": ctx.Config.BaseDir}).Info("mkfs complete")
	return nil
}
