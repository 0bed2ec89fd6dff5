package common

import "github.com/pkopriv2/relay/concurrent"

// Env holds values that are shared by every context derived from
// the same root (e.g. open stash instances).
type Env interface {
	Data() concurrent.Map
}

type env struct {
	data concurrent.Map
}

func NewEnv() *env {
	return &env{data: concurrent.NewMap()}
}

func (e *env) Data() concurrent.Map {
	return e.data
}
