package bus

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/nats-io/nats.go"
)

var errNilBus = errors.New("nil bus")

// Bus carries mock events over NATS JetStream.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to url and opens a JetStream context.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect nats %s", url)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "jetstream context")
	}

	return &Bus{conn: nc, js: js}, nil
}

// Close drains pending messages, falling back to a hard close.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// EnsureStream creates the named stream over subjects unless it already exists.
func (b *Bus) EnsureStream(name string, subjects ...string) error {
	if b == nil {
		return errNilBus
	}
	_, err := b.js.StreamInfo(name)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, nats.ErrStreamNotFound):
		return errors.Wrapf(err, "stream info %s", name)
	}

	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return errors.Wrapf(err, "add stream %s", name)
	}
	return nil
}

// Publish sends v as JSON on subj. An Event is published with its id as the
// JetStream message id, so a retried publish is stored once.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errNilBus
	}

	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", subj)
	}

	opts := []nats.PubOpt{nats.Context(ctx)}
	if id := eventID(v); id != "" {
		opts = append(opts, nats.MsgId(id))
	}
	if _, err := b.js.Publish(subj, data, opts...); err != nil {
		return errors.Wrapf(err, "publish %s", subj)
	}
	return nil
}

func eventID(v any) string {
	switch ev := v.(type) {
	case Event:
		return ev.ID
	case *Event:
		if ev != nil {
			return ev.ID
		}
	}
	return ""
}

// Tail delivers events published on filter from now on until ctx ends or
// the returned closer is closed. Messages that are not an event envelope
// reach fn with a decode error.
func (b *Bus) Tail(ctx context.Context, filter string, fn func(Event, error)) (io.Closer, error) {
	if b == nil {
		return nil, errNilBus
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	sub, err := b.js.Subscribe(filter, func(msg *nats.Msg) {
		ev, err := DecodeEvent(msg.Data)
		if err != nil {
			err = errors.Wrapf(err, "decode event on %s", msg.Subject)
		}
		fn(ev, err)
	}, nats.DeliverNew(), nats.AckNone())
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", filter)
	}

	t := &tail{sub: sub}
	context.AfterFunc(ctx, func() { _ = t.Close() })
	return t, nil
}

type tail struct {
	sub  *nats.Subscription
	once sync.Once
	err  error
}

func (t *tail) Close() error {
	t.once.Do(func() { t.err = t.sub.Unsubscribe() })
	return t.err
}
