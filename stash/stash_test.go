package stash

import (
	"io"
	"testing"

	"github.com/pkopriv2/relay/common"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func TestStash_OpenTransient(t *testing.T) {
	ctx := common.NewEmptyContext()

	db, err := OpenTransient(ctx)
	require.Nil(t, err)

	key := String("key").ChildInt(1)
	assert.Nil(t, db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte("bucket"))
		if err != nil {
			return err
		}
		return bucket.Put(key.Raw(), []byte("val"))
	}))

	var val []byte
	assert.Nil(t, db.View(func(tx *bolt.Tx) error {
		val = append(val, tx.Bucket([]byte("bucket")).Get(key.Raw())...)
		return nil
	}))
	assert.Equal(t, []byte("val"), val)

	path := db.Path()
	assert.Nil(t, ctx.Close())

	exists, err := afero.Exists(afero.NewOsFs(), path)
	assert.Nil(t, err)
	assert.False(t, exists)
}

func TestStash_OpenShared(t *testing.T) {
	ctx := common.NewEmptyContext()
	defer ctx.Close()

	db1, err := OpenTransient(ctx)
	require.Nil(t, err)

	db2, err := Open(ctx, db1.Path())
	require.Nil(t, err)
	assert.Equal(t, db1, db2)
}

func TestKey_Int(t *testing.T) {
	val, err := ParseInt(Int(42).Raw())
	assert.Nil(t, err)
	assert.Equal(t, 42, val)

	_, err = ParseInt([]byte{1})
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestKey_ChildDoesNotAlias(t *testing.T) {
	root := make(Key, 1, 8)
	a := root.Child([]byte{1})
	b := root.Child([]byte{2})
	assert.False(t, a.Equals(b))
}
