package xa

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestXid_Equals(t *testing.T) {
	xid := NewXid()
	assert.True(t, xid.Equals(xid))
	assert.Equal(t, xid.Key(), Xid{xid.FormatID, xid.GlobalTransactionID, xid.BranchQualifier}.Key())

	branch := xid.Branch()
	assert.False(t, xid.Equals(branch))
	assert.Equal(t, xid.GlobalTransactionID, branch.GlobalTransactionID)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	xid := NewXid()
	found, ok := FromContext(NewContext(context.Background(), xid))
	assert.True(t, ok)
	assert.True(t, xid.Equals(found))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, XAER_NOTA, CodeOf(errors.Wrap(NewError(XAER_NOTA, "unknown"), "outer")))
	assert.Equal(t, XAER_RMERR, CodeOf(errors.New("plain")))
	assert.True(t, XA_RBROLLBACK.IsRollback())
	assert.False(t, XAER_PROTO.IsRollback())
}

func TestFlags_Has(t *testing.T) {
	assert.True(t, (TMSUCCESS | TMONEPHASE).Has(TMONEPHASE))
	assert.False(t, TMSUCCESS.Has(TMFAIL))
	assert.False(t, TMSUCCESS.Has(TMNOFLAGS))
}
