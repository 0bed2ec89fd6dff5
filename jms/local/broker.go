// Package local implements an in-process message broker and a provider
// over it.  It supports queues, topics, durable subscriptions, selectors,
// every acknowledge mode, transacted sessions and XA sessions whose
// prepared branches are recorded in a bolt backed log.
package local

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/jms/selector"
	"github.com/pkopriv2/relay/stash"
	metrics "github.com/rcrowley/go-metrics"
	uuid "github.com/satori/go.uuid"
)

var Config = struct {
	SubscriptionCapacity string
	HashIterations       string
	LogPath              string
}{
	"relay.local.subscription.capacity",
	"relay.local.hash.iterations",
	"relay.local.xa.log",
}

const (
	defaultSubscriptionCapacity = 1024
	defaultHashIterations       = 4096
	defaultLogPath              = ""
)

const (
	ProviderName    = "relay-local"
	ProviderVersion = "1.0"
)

type subscription struct {
	topic    string
	name     string
	clientID string
	sel      *selector.Selector
	noLocal  bool
	connID   string
	durable  bool
	active   bool
	box      *mailbox
}

func durableKey(clientID, name string) string {
	return fmt.Sprintf("%v/%v", clientID, name)
}

type stats struct {
	sent        metrics.Counter
	delivered   metrics.Counter
	expired     metrics.Counter
	redelivered metrics.Counter
}

// A broker holds the destinations of an in-process messaging system.
type Broker struct {
	ctx      common.Context
	logger   common.Logger
	ctrl     common.Control
	registry metrics.Registry
	stats    stats
	log      *xaLog
	seq      uint64
	capacity int

	lock      sync.Mutex
	users     *users
	queues    map[string]*mailbox
	temps     map[string]string
	topics    map[string]map[*subscription]struct{}
	durables  map[string]*subscription
	clientIDs map[string]*connection
	conns     map[*connection]struct{}
	branches  map[string]*branch
}

func NewBroker(ctx common.Context) (*Broker, error) {
	ctx = ctx.Sub("Broker")

	db, err := openLog(ctx)
	if err != nil {
		return nil, err
	}

	log, err := newXaLog(db)
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	b := &Broker{
		ctx:       ctx,
		logger:    ctx.Logger(),
		ctrl:      ctx.Control(),
		registry:  registry,
		log:       log,
		capacity:  ctx.Config().OptionalInt(Config.SubscriptionCapacity, defaultSubscriptionCapacity),
		users:     newUsers(ctx.Config().OptionalInt(Config.HashIterations, defaultHashIterations)),
		queues:    make(map[string]*mailbox),
		temps:     make(map[string]string),
		topics:    make(map[string]map[*subscription]struct{}),
		durables:  make(map[string]*subscription),
		clientIDs: make(map[string]*connection),
		conns:     make(map[*connection]struct{}),
		branches:  make(map[string]*branch),
		stats: stats{
			sent:        metrics.GetOrRegisterCounter("local.messages.sent", registry),
			delivered:   metrics.GetOrRegisterCounter("local.messages.delivered", registry),
			expired:     metrics.GetOrRegisterCounter("local.messages.expired", registry),
			redelivered: metrics.GetOrRegisterCounter("local.messages.redelivered", registry),
		},
	}

	ctx.Control().Defer(func(cause error) {
		b.shutdown(common.Or(cause, errors.WithStack(common.ClosedError)))
	})
	return b, nil
}

func openLog(ctx common.Context) (stash.Stash, error) {
	path := ctx.Config().Optional(Config.LogPath, defaultLogPath)
	if path == "" {
		return stash.OpenTransient(ctx)
	}
	return stash.Open(ctx, path)
}

func (b *Broker) Close() error {
	return b.ctrl.Close()
}

func (b *Broker) Metrics() metrics.Registry {
	return b.registry
}

// Registers a user.  Once any user is registered, connections must
// authenticate.
func (b *Broker) AddUser(name, password string) {
	b.users.add(name, password)
}

// Fails every open connection, notifying their exception listeners.  The
// broker remains usable.
func (b *Broker) Interrupt(cause error) {
	for _, c := range b.connections() {
		c.fail(cause)
	}
}

func (b *Broker) shutdown(cause error) {
	b.logger.Info("Shutting down: %v", cause)
	for _, c := range b.connections() {
		c.fail(cause)
	}
}

func (b *Broker) connections() []*connection {
	b.lock.Lock()
	defer b.lock.Unlock()
	ret := make([]*connection, 0, len(b.conns))
	for c := range b.conns {
		ret = append(ret, c)
	}
	return ret
}

func (b *Broker) connect(user, password string) (*connection, error) {
	if b.ctrl.IsClosed() {
		return nil, errors.Wrap(jms.IllegalStateError, "Broker closed")
	}
	if err := b.users.authenticate(user, password); err != nil {
		return nil, err
	}

	c := newConnection(b, user)

	b.lock.Lock()
	defer b.lock.Unlock()
	b.conns[c] = struct{}{}
	return c, nil
}

func (b *Broker) disconnect(c *connection) {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.conns, c)
	if c.clientID != "" && b.clientIDs[c.clientID] == c {
		delete(b.clientIDs, c.clientID)
	}
}

func (b *Broker) claimClientID(c *connection, id string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if owner, ok := b.clientIDs[id]; ok && owner != c {
		return errors.Wrapf(jms.InvalidClientIDError, "Client id [%v] is in use", id)
	}
	b.clientIDs[id] = c
	return nil
}

func (b *Broker) nextSeq() uint64 {
	return atomic.AddUint64(&b.seq, 1)
}

func (b *Broker) queue(name string) (*mailbox, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if box, ok := b.queues[name]; ok {
		return box, nil
	}
	if _, ok := b.temps[name]; ok {
		return nil, errors.Wrapf(jms.InvalidDestinationError, "Temporary queue [%v] has been deleted", name)
	}

	box := newMailbox(name, 0)
	b.queues[name] = box
	return box, nil
}

func (b *Broker) createTemporary(c *connection, prefix string, queue bool) string {
	name := fmt.Sprintf("%v-%v", prefix, uuid.NewV4())

	b.lock.Lock()
	defer b.lock.Unlock()
	b.temps[name] = c.id
	if queue {
		b.queues[name] = newMailbox(name, 0)
	} else {
		b.topics[name] = make(map[*subscription]struct{})
	}
	return name
}

func (b *Broker) deleteTemporary(c *connection, name string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if owner, ok := b.temps[name]; !ok || owner != c.id {
		return errors.Wrapf(jms.InvalidDestinationError, "Unknown temporary destination [%v]", name)
	}

	if box, ok := b.queues[name]; ok {
		box.close()
		delete(b.queues, name)
	}
	if subs, ok := b.topics[name]; ok {
		if len(subs) > 0 {
			return errors.Wrapf(jms.IllegalStateError, "Temporary topic [%v] has active subscribers", name)
		}
		delete(b.topics, name)
	}
	return nil
}

// Temporary destinations may only be consumed by their owning connection.
func (b *Broker) checkTemporaryOwner(c *connection, name string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if owner, ok := b.temps[name]; ok && owner != c.id {
		return errors.Wrapf(jms.InvalidDestinationError, "Temporary destination [%v] belongs to another connection", name)
	}
	return nil
}

func (b *Broker) subscribe(sub *subscription) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if _, ok := b.temps[sub.topic]; ok {
		if _, ok := b.topics[sub.topic]; !ok {
			return errors.Wrapf(jms.InvalidDestinationError, "Temporary topic [%v] has been deleted", sub.topic)
		}
	}

	subs, ok := b.topics[sub.topic]
	if !ok {
		subs = make(map[*subscription]struct{})
		b.topics[sub.topic] = subs
	}
	subs[sub] = struct{}{}
	return nil
}

func (b *Broker) unsubscribe(sub *subscription) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.unsubscribeLocked(sub)
}

func (b *Broker) unsubscribeLocked(sub *subscription) {
	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub)
	}
	sub.box.close()
}

// Returns the durable subscription for the name, creating or replacing it
// as needed.  The subscription is marked active.
func (b *Broker) activateDurable(c *connection, topic string, name string, sel *selector.Selector, noLocal bool) (*subscription, error) {
	key := durableKey(c.clientID, name)

	b.lock.Lock()
	defer b.lock.Unlock()

	sub, ok := b.durables[key]
	if ok && sub.active {
		return nil, errors.Wrapf(jms.IllegalStateError, "Durable subscription [%v] is in use", name)
	}

	if ok && (sub.topic != topic || sub.sel.String() != sel.String() || sub.noLocal != noLocal) {
		b.unsubscribeLocked(sub)
		delete(b.durables, key)
		ok = false
	}

	if !ok {
		sub = &subscription{
			topic:    topic,
			name:     name,
			clientID: c.clientID,
			sel:      sel,
			noLocal:  noLocal,
			durable:  true,
			box:      newMailbox(key, b.capacity),
		}
		subs, exists := b.topics[topic]
		if !exists {
			subs = make(map[*subscription]struct{})
			b.topics[topic] = subs
		}
		subs[sub] = struct{}{}
		b.durables[key] = sub
	}

	sub.active = true
	sub.connID = c.id
	return sub, nil
}

func (b *Broker) deactivateDurable(sub *subscription) {
	b.lock.Lock()
	defer b.lock.Unlock()
	sub.active = false
}

func (b *Broker) removeDurable(c *connection, name string) error {
	if c.clientID == "" {
		return errors.Wrap(jms.IllegalStateError, "Durable subscriptions require a client id")
	}

	key := durableKey(c.clientID, name)

	b.lock.Lock()
	defer b.lock.Unlock()

	sub, ok := b.durables[key]
	if !ok {
		return errors.Wrapf(jms.InvalidDestinationError, "No durable subscription [%v]", name)
	}
	if sub.active {
		return errors.Wrapf(jms.IllegalStateError, "Durable subscription [%v] is in use", name)
	}

	b.unsubscribeLocked(sub)
	delete(b.durables, key)
	return nil
}

// Delivers a message to its destination.
func (b *Broker) route(p pending) error {
	p.env.seq = b.nextSeq()
	b.stats.sent.Inc(1)

	switch {
	case jms.IsQueue(p.dest):
		box, err := b.queue(p.dest.Name())
		if err != nil {
			return err
		}
		return box.put(p.env)
	case jms.IsTopic(p.dest):
		var err error
		for _, sub := range b.subscribers(p.dest.Name()) {
			if sub.noLocal && sub.connID == p.env.origin {
				continue
			}
			if !sub.sel.Matches(p.env.msg) {
				continue
			}
			err = common.Or(err, sub.box.put(&envelope{msg: p.env.msg, seq: p.env.seq, origin: p.env.origin}))
		}
		return err
	}
	return errors.Wrapf(jms.InvalidDestinationError, "Unsupported destination [%v]", p.dest)
}

func (b *Broker) routeAll(all []pending) (err error) {
	for _, p := range all {
		err = common.Or(err, b.route(p))
	}
	return
}

func (b *Broker) subscribers(topic string) []*subscription {
	b.lock.Lock()
	defer b.lock.Unlock()
	subs := b.topics[topic]
	ret := make([]*subscription, 0, len(subs))
	for s := range subs {
		ret = append(ret, s)
	}
	return ret
}

// Returns the number of messages pending on the queue.
func (b *Broker) QueueDepth(name string) int {
	b.lock.Lock()
	box, ok := b.queues[name]
	b.lock.Unlock()
	if !ok {
		return 0
	}
	return box.size()
}

func (b *Broker) expired(*envelope) {
	b.stats.expired.Inc(1)
}

func (b *Broker) now() time.Time {
	return time.Now()
}
