package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/gazette-labs/storekit/core"
	"github.com/gazette-labs/storekit/store"
)

type cmdServe struct{}

// Execute mounts the store and blocks until SIGTERM/SIGINT, at which point
// it drains the apply pool and commit coordinator (running one final sync)
// and releases the identity lock before returning.
func (cmdServe) Execute(args []string) error {
	var ctx = core.NewContext(&Config.StoreConfig)
	ctx.Log.WithField("base_dir", ctx.Config.BaseDir).Info("mounting store")

	var s, err = store.Open(ctx, uuid.Nil)
	if err != nil {
		ctx.Log.WithField("err", err).Fatal("mount failed")
	}

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	<-signalCh

	ctx.Log.Info("signaled to exit; draining and umounting")
	if err = s.Umount(); err != nil {
		ctx.Log.WithFields(log.Fields{"err": err}).Error("umount failed")
		return err
	}
	ctx.Log.Info("goodbye")
	return nil
}
