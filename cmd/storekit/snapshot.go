package main

import (
	"github.com/google/uuid"

	"github.com/gazette-labs/storekit/core"
	"github.com/gazette-labs/storekit/store"
)

type cmdSnapshot struct {
	Positional struct {
		Name string `positional-arg-name:"name" required:"true" description:"Name of the clustersnap_<name> to create"`
	} `positional-args:"yes"`
}

// Execute mounts the store, materializes clustersnap_<name>, and umounts.
func (c cmdSnapshot) Execute(args []string) error {
	var ctx = core.NewContext(&Config.StoreConfig)

	var s, err = store.Open(ctx, uuid.Nil)
	if err != nil {
		ctx.Log.WithField("err", err).Fatal("mount failed")
	}
	defer s.Umount()

	if err = s.Snapshot(c.Positional.Name); err != nil {
		ctx.Log.WithField("err", err).Fatal("snapshot failed")
	}
	ctx.Log.WithField("name", c.Positional.Name).Info("snapshot complete")
	return nil
}
