package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

type Client struct {
	conn       *websocket.Conn
	feedServer *FeedServer
	log        *logrus.Entry
	user       types.User
	send       chan *ServerMessage
	// topics maps each subscribed topic to the room serving it
	topics     map[string]*Room
	topicsLock sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, fs *FeedServer, l *logrus.Logger) *Client {
	return &Client{
		conn:       conn,
		feedServer: fs,
		log:        l.WithField("user", user.Username),
		user:       user,
		send:       make(chan *ServerMessage, 256),
		topics:     make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.WithError(err).Error("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("ws read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Debug("error parsing message")
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Subscribe != nil:
		c.subscribe(msg)
	case msg.Unsubscribe != nil:
		c.unsubscribe(msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.WithError(err).Warn("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.feedServer.deRegisterClient(c)
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.topicsLock.RLock()
	rooms := make(map[*Room]struct{})
	for _, r := range c.topics {
		rooms[r] = struct{}{}
	}
	c.topicsLock.RUnlock()

	for r := range rooms {
		select {
		case r.leaveChan <- c:
		default:
			c.log.WithField("room", r.id).Warn("leaveChan full")
		}
	}
}

func (c *Client) subscribe(msg *ClientMessage) {
	if !msg.Subscribe.valid() {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if c.getTopic(msg.Subscribe.Topic) != nil {
		c.queueMessage(ErrTopicExists(msg.Id))
		return
	}

	select {
	case c.feedServer.subChan <- msg:
	default:
		c.log.Warn("subChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) unsubscribe(msg *ClientMessage) {
	r := c.getTopic(msg.Unsubscribe.Topic)
	if r == nil {
		c.queueMessage(ErrTopicNotFound(msg.Id))
		return
	}

	select {
	case r.unsubChan <- msg:
	default:
		c.log.WithField("room", r.id).Warn("unsubChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) addTopic(topic string, r *Room) {
	c.topicsLock.Lock()
	defer c.topicsLock.Unlock()

	c.topics[topic] = r
}

func (c *Client) delTopic(topic string) {
	c.topicsLock.Lock()
	defer c.topicsLock.Unlock()

	delete(c.topics, topic)
}

// delRoomTopics forgets every topic served by r.
func (c *Client) delRoomTopics(r *Room) {
	c.topicsLock.Lock()
	defer c.topicsLock.Unlock()

	for topic, room := range c.topics {
		if room == r {
			delete(c.topics, topic)
		}
	}
}

func (c *Client) getTopic(topic string) *Room {
	c.topicsLock.RLock()
	defer c.topicsLock.RUnlock()

	return c.topics[topic]
}
