package stash

import (
	"io"
	"path"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/concurrent"
	uuid "github.com/satori/go.uuid"
	"github.com/spf13/afero"
	bolt "go.etcd.io/bbolt"
)

const (
	StashLocationKey     = "relay.stash.path"
	StashLocationDefault = "/var/relay/stash.data"
)

// A stash is nothing but a shared instance of a bolt database.  Stashes
// are bound to the environment of a context, so that every component
// opening the same path shares a single handle.
type Stash interface {
	io.Closer

	// Returns the os filesystem path to the stash
	Path() string

	// Update the shared bolt instance.
	Update(func(*bolt.Tx) error) error

	// View the shared bolt instance.
	View(func(*bolt.Tx) error) error
}

// Opens a stash instance at random temporary location.
func OpenRandom(ctx common.Context) (Stash, error) {
	return Open(ctx, path.Join(randomDir(), "stash.db"))
}

// Opens the stash instance at the configured location and binds it to the context.
func OpenConfigured(ctx common.Context) (stash Stash, err error) {
	return Open(ctx, ctx.Config().Optional(StashLocationKey, StashLocationDefault))
}

// Opens a transient stash instance that will be deleted on ctx#close().
func OpenTransient(ctx common.Context) (Stash, error) {
	dir := randomDir()
	deleteOnClose(ctx, dir)
	return Open(ctx, path.Join(dir, "stash.db"))
}

func randomDir() string {
	return afero.GetTempDir(afero.NewOsFs(), path.Join("relay", uuid.NewV1().String()))
}

// Opens the stash instance at the given location and binds it to the context.
func Open(ctx common.Context, path string) (stash Stash, err error) {
	env := ctx.Env()
	env.Data().Update(func(data concurrent.Map) {
		ctx.Logger().Debug("Opening stash instance [%v]", path)

		if val := data.Get(path); val != nil {
			stash = val.(Stash)
			return
		}

		stash, err = getStore(path)
		if err != nil {
			err = errors.Wrapf(err, "Error opening stash [%v]", path)
			return
		}

		data.Put(path, stash)

		// Deferred functions run last-in first-out: close, then forget.
		removeOnClose(ctx, stash)
		closeOnClose(ctx, stash)
	})
	return
}

func closeOnClose(ctx common.Context, stash Stash) {
	ctx.Control().Defer(func(error) {
		ctx.Logger().Debug("Closing stash [%v]", stash.Path())
		stash.Close()
	})
}

func removeOnClose(ctx common.Context, stash Stash) {
	path := stash.Path()
	ctx.Control().Defer(func(error) {
		ctx.Logger().Debug("Removing context entry [%v]", path)
		ctx.Env().Data().Remove(path)
	})
}

func deleteOnClose(ctx common.Context, dir string) {
	ctx.Control().Defer(func(error) {
		ctx.Logger().Debug("Deleting stash instance [%v]", dir)
		afero.NewOsFs().RemoveAll(dir)
	})
}

func getStore(loc string) (*bolt.DB, error) {
	return bolt.Open(loc, 0666, &bolt.Options{Timeout: 10 * time.Second})
}
