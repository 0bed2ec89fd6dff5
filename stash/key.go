package stash

import (
	"bytes"
	"encoding/binary"
	"io"

	uuid "github.com/satori/go.uuid"
)

// Keys are composite byte strings built by appending children to a root.
type Key []byte

func String(key string) Key {
	return Key([]byte(key))
}

func UUID(key uuid.UUID) Key {
	return Key(key.Bytes())
}

func Int(key int) Key {
	return Key(IntBytes(key))
}

func (k Key) Child(child []byte) Key {
	ret := make([]byte, 0, len(k)+len(child))
	ret = append(ret, k...)
	return Key(append(ret, child...))
}

func (k Key) ChildInt(child int) Key {
	return k.Child(IntBytes(child))
}

func (k Key) ChildString(child string) Key {
	return k.Child([]byte(child))
}

func (k Key) Equals(other []byte) bool {
	return bytes.Equal(k.Raw(), other)
}

func (k Key) Compare(other []byte) int {
	return bytes.Compare(k.Raw(), other)
}

func (k Key) Raw() []byte {
	return []byte(k)
}

func IntBytes(val int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(val))
	return buf
}

func ParseInt(val []byte) (int, error) {
	if len(val) != 8 {
		return 0, io.ErrUnexpectedEOF
	}
	return int(binary.BigEndian.Uint64(val)), nil
}
