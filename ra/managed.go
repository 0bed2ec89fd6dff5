package ra

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/spi"
	"github.com/pkopriv2/relay/xa"
	uuid "github.com/satori/go.uuid"
)

// ManagedConnection owns one physical connection and session.  Every
// handle created from it shares the session, so handles serialize their
// use of it through the managed connection's lock.
type ManagedConnection struct {
	id     string
	mcf    *ManagedConnectionFactory
	info   *RequestInfo
	user   string
	pwd    string
	logger common.Logger

	conn    jms.Connection
	session jms.Session
	xaRes   xa.Resource

	lock      sync.Mutex
	sessLock  *sessionLock
	destroyed bool
	handles   map[*Session]struct{}
	listeners []spi.ConnectionEventListener
	xaWrap    *XAResource
}

func newManagedConnection(ctx context.Context, mcf *ManagedConnectionFactory, info *RequestInfo, user, pwd string) (*ManagedConnection, error) {
	id := uuid.NewV4().String()
	mc := &ManagedConnection{
		id:       id,
		mcf:      mcf,
		info:     info,
		user:     user,
		pwd:      pwd,
		logger:   mcf.ctx.Logger().Fmt("ManagedConnection(%v)", id[:8]),
		sessLock: newSessionLock(),
		handles:  make(map[*Session]struct{}),
	}

	if err := mc.setup(ctx); err != nil {
		return nil, spi.NewResourceError(err, "Unable to setup connection")
	}

	mcf.stats.created.Inc(1)
	mc.logger.Debug("Created for %v", info)
	return mc, nil
}

func (mc *ManagedConnection) setup(ctx context.Context) (err error) {
	defer func() {
		if err != nil && mc.conn != nil {
			mc.conn.Close(ctx)
		}
	}()

	xaFactory, isXA := mc.mcf.provider.(jms.XAConnectionFactory)
	isXA = isXA && mc.info.Transacted

	var xaConn jms.XAConnection
	switch {
	case isXA && mc.user != "":
		xaConn, err = xaFactory.CreateXAConnectionWithCredentials(ctx, mc.user, mc.pwd)
		mc.conn = xaConn
	case isXA:
		xaConn, err = xaFactory.CreateXAConnection(ctx)
		mc.conn = xaConn
	case mc.user != "":
		mc.conn, err = mc.mcf.provider.CreateConnectionWithCredentials(ctx, mc.user, mc.pwd)
	default:
		mc.conn, err = mc.mcf.provider.CreateConnection(ctx)
	}
	if err != nil {
		mc.conn = nil
		return err
	}

	if mc.info.ClientID != "" {
		if err = mc.conn.SetClientID(mc.info.ClientID); err != nil {
			return err
		}
	}

	if err = mc.conn.SetExceptionListener(mc.onException); err != nil {
		return err
	}

	if isXA {
		xs, err := xaConn.CreateXASession(ctx)
		if err != nil {
			return err
		}
		mc.session, mc.xaRes = xs, xs.XAResource()
		return nil
	}

	mc.session, err = mc.conn.CreateSession(ctx, mc.info.Transacted, mc.info.AcknowledgeMode)
	return err
}

func (mc *ManagedConnection) String() string {
	return "ManagedConnection(" + mc.id[:8] + ")"
}

func (mc *ManagedConnection) UserName() string {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	return mc.user
}

func (mc *ManagedConnection) RequestInfo() *RequestInfo {
	return mc.info.copy()
}

func (mc *ManagedConnection) Factory() *ManagedConnectionFactory {
	return mc.mcf
}

// Returns a new handle to the managed connection.
func (mc *ManagedConnection) Connection(ctx context.Context, subject *spi.Subject, info spi.ConnectionRequestInfo) (spi.Handle, error) {
	req, err := toRequestInfo(info)
	if err != nil {
		return nil, err
	}
	req.SetDefaults(mc.mcf.props)

	cred, err := resolveCredential(mc.mcf, subject, req)
	if err != nil {
		return nil, err
	}

	mc.lock.Lock()
	defer mc.lock.Unlock()
	if mc.destroyed {
		return nil, errors.Wrap(spi.IllegalStateError, "The managed connection is destroyed")
	}

	// An unauthenticated connection adopts the first credential it serves.
	if mc.user != "" && cred.name != mc.user {
		return nil, errors.Wrapf(spi.SecurityError, "Reauthentication not allowed [%v]", cred.name)
	}
	if mc.user == "" {
		mc.user, mc.pwd = cred.name, cred.password
	}

	handle := newSession(mc, mc.info)
	mc.handles[handle] = struct{}{}
	mc.mcf.stats.handles.Inc(1)
	return handle, nil
}

// Moves a handle from its current managed connection to this one.
func (mc *ManagedConnection) AssociateConnection(handle spi.Handle) error {
	session, ok := handle.(*Session)
	if !ok || session == nil {
		return errors.Wrapf(spi.IllegalStateError, "Unsupported handle [%T]", handle)
	}

	mc.lock.Lock()
	if mc.destroyed {
		mc.lock.Unlock()
		return errors.Wrap(spi.IllegalStateError, "The managed connection is destroyed")
	}
	mc.lock.Unlock()

	if !session.setManagedConnection(mc) {
		return nil
	}

	mc.lock.Lock()
	defer mc.lock.Unlock()
	mc.handles[session] = struct{}{}
	mc.mcf.stats.handles.Inc(1)
	return nil
}

// Detaches every handle without invalidating it.  Detached handles are
// re-associated on their next use.
func (mc *ManagedConnection) DissociateConnections() error {
	for _, h := range mc.takeHandles() {
		h.dissociate(mc)
	}
	return nil
}

func (mc *ManagedConnection) takeHandles() []*Session {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	ret := make([]*Session, 0, len(mc.handles))
	for h := range mc.handles {
		ret = append(ret, h)
	}
	mc.handles = make(map[*Session]struct{})
	mc.mcf.stats.handles.Dec(int64(len(ret)))
	return ret
}

func (mc *ManagedConnection) removeHandle(s *Session) {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	if _, ok := mc.handles[s]; ok {
		delete(mc.handles, s)
		mc.mcf.stats.handles.Dec(1)
	}
}

// Returns the number of handles currently associated.
func (mc *ManagedConnection) Handles() int {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	return len(mc.handles)
}

func (mc *ManagedConnection) Cleanup(ctx context.Context) error {
	mc.lock.Lock()
	if mc.destroyed {
		mc.lock.Unlock()
		return errors.Wrap(spi.IllegalStateError, "The managed connection is destroyed")
	}
	mc.lock.Unlock()

	for _, h := range mc.takeHandles() {
		h.destroy(ctx, mc)
	}

	// Holders of the old lock release it, not this one.
	mc.lock.Lock()
	mc.sessLock = newSessionLock()
	mc.lock.Unlock()
	return nil
}

func (mc *ManagedConnection) Destroy(ctx context.Context) error {
	mc.lock.Lock()
	if mc.destroyed {
		mc.lock.Unlock()
		return nil
	}
	mc.destroyed = true
	mc.lock.Unlock()

	mc.conn.SetExceptionListener(nil)
	for _, h := range mc.takeHandles() {
		h.destroy(ctx, mc)
	}

	var err error
	if e := mc.session.Close(ctx); e != nil {
		mc.logger.Error("Error closing session: %v", e)
		err = common.Or(err, spi.NewResourceError(e, "Error closing session"))
	}
	if e := mc.conn.Close(ctx); e != nil {
		mc.logger.Error("Error closing connection: %v", e)
		err = common.Or(err, spi.NewResourceError(e, "Error closing connection"))
	}

	mc.mcf.stats.destroyed.Inc(1)
	mc.logger.Debug("Destroyed")
	return err
}

func (mc *ManagedConnection) IsDestroyed() bool {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	return mc.destroyed
}

// Acquires the session lock.  The lock is re-entrant for the transaction
// branch carried by the context.
func (mc *ManagedConnection) acquire(ctx context.Context) (func(), error) {
	mc.lock.Lock()
	l := mc.sessLock
	mc.lock.Unlock()

	var timeout time.Duration
	if mc.mcf.props.UseTryLock > 0 {
		timeout = time.Duration(mc.mcf.props.UseTryLock) * time.Second
	}

	start := time.Now()
	release, err := l.acquire(ctx, timeout)
	mc.mcf.stats.lockWait.UpdateSince(start)
	if err != nil {
		mc.mcf.stats.lockTimeouts.Inc(1)
		return nil, errors.Wrapf(err, "%v", mc)
	}
	return release, nil
}

// Returns the physical session.
func (mc *ManagedConnection) Session() (jms.Session, error) {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	if mc.destroyed {
		return nil, errors.Wrap(jms.IllegalStateError, "The managed connection is destroyed")
	}
	return mc.session, nil
}

func (mc *ManagedConnection) Start(ctx context.Context) error {
	return mc.conn.Start(ctx)
}

func (mc *ManagedConnection) Stop(ctx context.Context) error {
	return mc.conn.Stop(ctx)
}

func (mc *ManagedConnection) AddConnectionEventListener(l spi.ConnectionEventListener) {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	mc.listeners = append(mc.listeners, l)
}

func (mc *ManagedConnection) RemoveConnectionEventListener(l spi.ConnectionEventListener) {
	mc.lock.Lock()
	defer mc.lock.Unlock()
	for i, cur := range mc.listeners {
		if cur == l {
			mc.listeners = append(mc.listeners[:i:i], mc.listeners[i+1:]...)
			return
		}
	}
}

func (mc *ManagedConnection) sendEvent(typ spi.EventType, handle spi.Handle, cause error) {
	mc.lock.Lock()
	listeners := make([]spi.ConnectionEventListener, len(mc.listeners))
	copy(listeners, mc.listeners)
	mc.lock.Unlock()

	event := spi.ConnectionEvent{Type: typ, Source: mc, Handle: handle, Err: cause}
	for _, l := range listeners {
		l.HandleConnectionEvent(event)
	}
}

// Called by the provider when the physical connection fails.
func (mc *ManagedConnection) onException(cause error) {
	if mc.IsDestroyed() {
		return
	}

	mc.conn.SetExceptionListener(nil)
	mc.logger.Error("Handling provider failure: %v", cause)
	mc.sendEvent(spi.ConnectionErrorOccurred, nil, cause)
}

func (mc *ManagedConnection) XAResource() (xa.Resource, error) {
	if mc.xaRes == nil {
		return nil, errors.Wrap(spi.NotSupportedError, "Non XA connection")
	}

	mc.lock.Lock()
	defer mc.lock.Unlock()
	if mc.xaWrap == nil {
		mc.xaWrap = newXAResource(mc, mc.xaRes)
	}
	return mc.xaWrap, nil
}

func (mc *ManagedConnection) LocalTransaction() (spi.LocalTransaction, error) {
	return &LocalTransaction{mc}, nil
}

func (mc *ManagedConnection) MetaData() (spi.ManagedConnectionMetaData, error) {
	if mc.IsDestroyed() {
		return spi.ManagedConnectionMetaData{}, errors.Wrap(spi.IllegalStateError, "The managed connection is destroyed")
	}
	return spi.ManagedConnectionMetaData{
		EISProductName:    ProductName,
		EISProductVersion: ProductVersion,
		MaxConnections:    0,
		UserName:          mc.UserName(),
	}, nil
}
