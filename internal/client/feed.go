package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/synqup/internal/server"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	feedWriteWait = 10 * time.Second
	feedPongWait  = 70 * time.Second
	deliveryQueue = 256
)

// ErrFeedClosed is returned when subscribing on a closed feed.
var ErrFeedClosed = errors.New("feed closed")

// Feed is a single websocket connection to the change feed, multiplexing
// any number of subscriptions.
type Feed struct {
	conn    *websocket.Conn
	log     *logrus.Entry
	writeMu sync.Mutex

	mu      sync.Mutex
	nextId  int
	pending map[int]chan *server.Response
	subs    map[string]*FeedSubscription
	closing bool

	done      chan struct{}
	closeOnce sync.Once
}

// FeedSubscription delivers the changes of one table of one room to its
// callbacks, in order, on a goroutine of its own.
type FeedSubscription struct {
	feed    *Feed
	topic   string
	filter  types.FeedFilter
	onEvent func(types.ChangeEvent)
	onError func(error)

	queue    chan delivery
	quit     chan struct{}
	quitOnce sync.Once
}

type delivery struct {
	event *types.ChangeEvent
	err   error
}

// DialFeed connects to the change feed at url, authenticating with token.
func DialFeed(ctx context.Context, url, token string, l *logrus.Logger) (*Feed, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, fmt.Errorf("dial feed: %w", &HTTPError{StatusCode: resp.StatusCode, Message: resp.Status})
		}
		return nil, fmt.Errorf("dial feed: %w: %w", types.ErrTransport, err)
	}

	f := &Feed{
		conn:    conn,
		log:     l.WithField("component", "feed"),
		pending: make(map[int]chan *server.Response),
		subs:    make(map[string]*FeedSubscription),
		done:    make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(feedWriteWait))
	})

	go f.read()

	return f, nil
}

// Subscribe registers for the changes matching filter and blocks until the
// server acknowledges the subscription.
func (f *Feed) Subscribe(ctx context.Context, filter types.FeedFilter, onEvent func(types.ChangeEvent), onError func(error)) (types.Subscription, error) {
	sub := &FeedSubscription{
		feed:    f,
		topic:   uuid.NewString(),
		filter:  filter,
		onEvent: onEvent,
		onError: onError,
		queue:   make(chan delivery, deliveryQueue),
		quit:    make(chan struct{}),
	}

	f.mu.Lock()
	if f.closing {
		f.mu.Unlock()
		return nil, ErrFeedClosed
	}
	f.nextId++
	id := f.nextId
	ack := make(chan *server.Response, 1)
	f.pending[id] = ack
	// registered before the request so no change can beat the ack
	f.subs[sub.topic] = sub
	f.mu.Unlock()

	cleanup := func() {
		f.mu.Lock()
		delete(f.pending, id)
		delete(f.subs, sub.topic)
		f.mu.Unlock()
	}

	err := f.write(&server.ClientMessage{
		BaseMessage: server.BaseMessage{Id: id, Timestamp: time.Now().UTC()},
		Subscribe: &server.Subscribe{
			Topic:       sub.topic,
			Table:       filter.Table,
			RoomId:      filter.RoomId,
			ExcludeSelf: filter.ExcludeSelf,
		},
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("subscribe %s: %w", filter.Table, err)
	}

	select {
	case resp := <-ack:
		if resp.ResponseCode != http.StatusOK {
			cleanup()
			return nil, fmt.Errorf("subscribe %s: %w", filter.Table, &HTTPError{StatusCode: resp.ResponseCode, Message: resp.Error})
		}
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-f.done:
		cleanup()
		return nil, fmt.Errorf("subscribe %s: %w: connection lost", filter.Table, types.ErrTransport)
	}

	f.mu.Lock()
	delete(f.pending, id)
	f.mu.Unlock()

	go sub.run()

	f.log.WithFields(logrus.Fields{
		"table": filter.Table,
		"room":  filter.RoomId,
	}).Debug("subscribed")

	return sub, nil
}

// Close drops every subscription without notifying them and closes the
// connection. Safe to call more than once.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closing = true
		subs := f.subs
		f.subs = make(map[string]*FeedSubscription)
		f.mu.Unlock()

		for _, s := range subs {
			s.stop()
		}

		f.writeMu.Lock()
		f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(feedWriteWait))
		f.writeMu.Unlock()

		err = f.conn.Close()
	})
	return err
}

// Done is closed once the connection has gone away.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

func (f *Feed) write(msg *server.ClientMessage) error {
	select {
	case <-f.done:
		return fmt.Errorf("%w: connection lost", types.ErrTransport)
	default:
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	if err := f.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %w", types.ErrTransport, err)
	}
	return nil
}

func (f *Feed) read() {
	defer close(f.done)

	for {
		_, raw, err := f.conn.ReadMessage()
		if err != nil {
			f.fail(err)
			return
		}

		var msg server.ServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.log.WithError(err).Warn("dropping malformed feed message")
			continue
		}

		switch {
		case msg.Response != nil:
			f.mu.Lock()
			ack, ok := f.pending[msg.Id]
			f.mu.Unlock()
			if ok {
				ack <- msg.Response
			}
		case msg.Change != nil:
			f.mu.Lock()
			sub, ok := f.subs[msg.Change.Topic]
			f.mu.Unlock()
			if ok {
				ev := msg.Change.Event
				sub.deliver(delivery{event: &ev})
			}
		case msg.Notification != nil && msg.Notification.Evicted != nil:
			f.evict(msg.Notification.Evicted)
		}
	}
}

func (f *Feed) evict(ev *server.Evicted) {
	for _, topic := range ev.Topics {
		f.mu.Lock()
		sub, ok := f.subs[topic]
		delete(f.subs, topic)
		f.mu.Unlock()
		if ok {
			sub.deliver(delivery{err: fmt.Errorf("evicted from room %s: %w", ev.RoomId, types.ErrUnauthorized)})
		}
	}
}

// fail reports a lost connection to every live subscription, unless the
// feed was closed on purpose.
func (f *Feed) fail(cause error) {
	f.mu.Lock()
	closing := f.closing
	subs := f.subs
	f.subs = make(map[string]*FeedSubscription)
	f.mu.Unlock()

	if closing {
		return
	}

	f.log.WithError(cause).Warn("change feed connection lost")
	for _, s := range subs {
		s.deliver(delivery{err: fmt.Errorf("%w: %w", types.ErrTransport, cause)})
	}
}

// Unsubscribe stops deliveries and tells the server to drop the topic.
func (s *FeedSubscription) Unsubscribe() error {
	var err error
	s.quitOnce.Do(func() {
		close(s.quit)

		f := s.feed
		f.mu.Lock()
		_, live := f.subs[s.topic]
		delete(f.subs, s.topic)
		f.nextId++
		id := f.nextId
		f.mu.Unlock()

		if !live {
			return
		}
		err = f.write(&server.ClientMessage{
			BaseMessage: server.BaseMessage{Id: id, Timestamp: time.Now().UTC()},
			Unsubscribe: &server.Unsubscribe{Topic: s.topic},
		})
	})
	return err
}

func (s *FeedSubscription) stop() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *FeedSubscription) deliver(d delivery) {
	select {
	case s.queue <- d:
	case <-s.quit:
	}
}

func (s *FeedSubscription) run() {
	for {
		select {
		case d := <-s.queue:
			if d.err != nil {
				if s.onError != nil {
					s.onError(d.err)
				}
				s.stop()
				return
			}
			if s.onEvent != nil {
				s.onEvent(*d.event)
			}
		case <-s.quit:
			return
		}
	}
}
