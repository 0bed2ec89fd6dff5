package jms

import (
	"context"
	"fmt"
)

type Destination interface {
	fmt.Stringer
	Name() string
}

type Queue interface {
	Destination
	QueueName() string
}

type Topic interface {
	Destination
	TopicName() string
}

type TemporaryQueue interface {
	Queue
	Delete(ctx context.Context) error
}

type TemporaryTopic interface {
	Topic
	Delete(ctx context.Context) error
}

type queue struct {
	name string
}

func NewQueue(name string) Queue {
	return &queue{name}
}

func (q *queue) Name() string {
	return q.name
}

func (q *queue) QueueName() string {
	return q.name
}

func (q *queue) String() string {
	return fmt.Sprintf("Queue(%v)", q.name)
}

type topic struct {
	name string
}

func NewTopic(name string) Topic {
	return &topic{name}
}

func (t *topic) Name() string {
	return t.name
}

func (t *topic) TopicName() string {
	return t.name
}

func (t *topic) String() string {
	return fmt.Sprintf("Topic(%v)", t.name)
}

type temporaryQueue struct {
	queue
	del func(context.Context) error
}

// Returns a temporary queue whose deletion is handled by the given function.
func NewTemporaryQueue(name string, del func(context.Context) error) TemporaryQueue {
	return &temporaryQueue{queue{name}, del}
}

func (t *temporaryQueue) Delete(ctx context.Context) error {
	return t.del(ctx)
}

func (t *temporaryQueue) String() string {
	return fmt.Sprintf("TemporaryQueue(%v)", t.name)
}

type temporaryTopic struct {
	topic
	del func(context.Context) error
}

// Returns a temporary topic whose deletion is handled by the given function.
func NewTemporaryTopic(name string, del func(context.Context) error) TemporaryTopic {
	return &temporaryTopic{topic{name}, del}
}

func (t *temporaryTopic) Delete(ctx context.Context) error {
	return t.del(ctx)
}

func (t *temporaryTopic) String() string {
	return fmt.Sprintf("TemporaryTopic(%v)", t.name)
}

// Returns true if the destination is a queue (temporary or not).
func IsQueue(d Destination) bool {
	_, ok := d.(Queue)
	return ok
}

// Returns true if the destination is a topic (temporary or not).
func IsTopic(d Destination) bool {
	_, ok := d.(Topic)
	return ok
}

// Destinations are equal if they share a kind and a name.
func SameDestination(a, b Destination) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return IsQueue(a) == IsQueue(b) && a.Name() == b.Name()
}
