package local

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/crypto/pbkdf2"
)

type user struct {
	salt []byte
	hash []byte
}

// Users are stored as salted pbkdf2 hashes.  With no users registered,
// every connection is accepted.
type users struct {
	iter  int
	lock  sync.RWMutex
	inner map[string]user
}

func newUsers(iter int) *users {
	return &users{iter: iter, inner: make(map[string]user)}
}

func (u *users) hash(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, u.iter, sha256.Size, sha256.New)
}

func (u *users) add(name, password string) {
	salt := uuid.NewV4().Bytes()

	u.lock.Lock()
	defer u.lock.Unlock()
	u.inner[name] = user{salt, u.hash(password, salt)}
}

func (u *users) authenticate(name, password string) error {
	u.lock.RLock()
	defer u.lock.RUnlock()
	if len(u.inner) == 0 {
		return nil
	}

	usr, ok := u.inner[name]
	if !ok {
		return errors.Wrapf(jms.SecurityError, "Unknown user [%v]", name)
	}
	if subtle.ConstantTimeCompare(usr.hash, u.hash(password, usr.salt)) != 1 {
		return errors.Wrapf(jms.SecurityError, "Invalid password for user [%v]", name)
	}
	return nil
}
