package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/database"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	idleRoomTimeout = time.Second * 5
	memberCheckWait = time.Second * 5
)

type exitReq struct {
	done chan bool
}

type subscription struct {
	topic       string
	table       string
	excludeSelf bool
}

type Room struct {
	id        uuid.UUID
	fs        *FeedServer
	subChan   chan *ClientMessage
	unsubChan chan *ClientMessage
	leaveChan chan *Client
	eventChan chan types.ChangeEvent
	// clients maps each connected client to its subscriptions by topic
	clients map[*Client]map[string]subscription
	log     *logrus.Entry
	// killTimer is used to automatically unload the room when it is no longer active
	killTimer *time.Timer
	// exit is used to signal the room to exit
	exit chan exitReq
	done chan struct{}
}

func newRoom(id uuid.UUID, fs *FeedServer) *Room {
	return &Room{
		id:        id,
		fs:        fs,
		subChan:   make(chan *ClientMessage, 256),
		unsubChan: make(chan *ClientMessage, 256),
		leaveChan: make(chan *Client, 256),
		eventChan: make(chan types.ChangeEvent, 256),
		clients:   make(map[*Client]map[string]subscription),
		log:       fs.log.WithField("room", id),
		exit:      make(chan exitReq),
		done:      make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Debug("starting room")
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()
	defer close(r.done)

	for {
		select {
		case msg := <-r.subChan:
			r.handleSubscribe(msg)
		case msg := <-r.unsubChan:
			r.handleUnsubscribe(msg)
		case c := <-r.leaveChan:
			r.removeClient(c)
		case ev := <-r.eventChan:
			r.handleEvent(ev)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e, ok := <-r.exit:
			if ok && !r.idle() {
				e.done <- false
				continue
			}
			r.handleRoomExit()
			if ok {
				e.done <- true
			}
			return
		}
	}
}

func (r *Room) idle() bool {
	return len(r.clients) == 0 && len(r.subChan) == 0
}

func (r *Room) handleRoomTimeout() {
	r.log.Debug("room timed out")
	select {
	case r.fs.unloadRoomChan <- r.id:
	case <-r.fs.stop:
	}
}

func (r *Room) handleRoomExit() {
	r.log.Debug("room is exiting")
	for c := range r.clients {
		c.delRoomTopics(r)
	}
	clear(r.clients)
}

func (r *Room) handleSubscribe(msg *ClientMessage) {
	// stop the kill timer while the subscriber is checked
	r.killTimer.Stop()

	c := msg.client
	ctx, cancel := context.WithTimeout(context.Background(), memberCheckWait)
	defer cancel()

	if _, err := r.fs.db.GetMember(ctx, r.id, c.user.Id); err != nil {
		if len(r.clients) == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		if errors.Is(err, database.ErrNotFound) {
			r.log.WithField("user", c.user.Username).Info("rejected subscription from non-member")
			c.queueMessage(ErrForbidden(msg.Id))
			return
		}
		r.log.WithError(err).Error("GetMember")
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	sub := msg.Subscribe
	if r.clients[c] == nil {
		r.clients[c] = make(map[string]subscription)
	}
	r.clients[c][sub.Topic] = subscription{
		topic:       sub.Topic,
		table:       sub.Table,
		excludeSelf: sub.ExcludeSelf,
	}
	c.addTopic(sub.Topic, r)

	r.log.WithFields(logrus.Fields{"user": c.user.Username, "table": sub.Table}).Debug("subscribed")
	c.queueMessage(NoErrOK(msg.Id))
}

func (r *Room) handleUnsubscribe(msg *ClientMessage) {
	c := msg.client
	topic := msg.Unsubscribe.Topic

	subs, ok := r.clients[c]
	if !ok {
		c.queueMessage(ErrTopicNotFound(msg.Id))
		return
	}
	if _, ok := subs[topic]; !ok {
		c.queueMessage(ErrTopicNotFound(msg.Id))
		return
	}

	delete(subs, topic)
	c.delTopic(topic)
	if len(subs) == 0 {
		r.removeClient(c)
	}

	c.queueMessage(NoErrOK(msg.Id))
}

func (r *Room) removeClient(c *Client) {
	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoomTopics(r)

	// if the client is the last one in the room, start the kill timer
	if len(r.clients) == 0 {
		r.log.Debug("no clients, starting kill timer")
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// handleEvent delivers ev to every matching subscription. A deleted
// membership also closes the removed user's subscriptions.
func (r *Room) handleEvent(ev types.ChangeEvent) {
	for c, subs := range r.clients {
		for _, sub := range subs {
			if sub.table != ev.Table {
				continue
			}
			if sub.excludeSelf && ev.ActedBy(c.user.Id) {
				continue
			}

			c.queueMessage(&ServerMessage{
				BaseMessage: BaseMessage{Timestamp: Now()},
				Change: &Change{
					Topic: sub.topic,
					Event: ev,
				},
			})
		}
	}

	if ev.Table == types.TableRoomMembers && ev.Type == types.ChangeDelete {
		var m types.Membership
		if err := ev.Row(&m); err != nil {
			r.log.WithError(err).Error("decode membership")
			return
		}
		r.evictUser(m.UserId)
	}
}

func (r *Room) evictUser(userId uuid.UUID) {
	for c, subs := range r.clients {
		if c.user.Id != userId {
			continue
		}

		topics := make([]string, 0, len(subs))
		for topic := range subs {
			topics = append(topics, topic)
		}

		r.removeClient(c)
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Notification: &Notification{
				Evicted: &Evicted{
					RoomId: r.id,
					Topics: topics,
				},
			},
		})
		r.log.WithField("user", c.user.Username).Info("evicted subscriber")
	}
}
