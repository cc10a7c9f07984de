package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/database"
	"github.com/npezzotti/synqup/internal/stats"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/sirupsen/logrus"
)

// FeedServer fans change events out to websocket clients. Each room with
// subscribers runs its own goroutine; rooms are loaded on first subscribe
// and unloaded after they sit idle.
type FeedServer struct {
	log            *logrus.Logger
	db             database.Repository
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	subChan        chan *ClientMessage
	eventChan      chan types.ChangeEvent
	registerChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan uuid.UUID
	rooms          map[uuid.UUID]*Room
	stop           chan struct{}
	done           chan struct{}
}

func NewFeedServer(logger *logrus.Logger, db database.Repository, st stats.StatsProvider) (*FeedServer, error) {
	if db == nil {
		return nil, fmt.Errorf("repository is required")
	}

	st.RegisterMetric(stats.NumActiveClients)
	st.RegisterMetric(stats.NumActiveRooms)
	st.RegisterMetric(stats.NumFeedEvents)

	return &FeedServer{
		log:            logger,
		db:             db,
		stats:          st,
		clients:        make(map[*Client]struct{}),
		subChan:        make(chan *ClientMessage, 256),
		eventChan:      make(chan types.ChangeEvent, 1024),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan uuid.UUID),
		rooms:          make(map[uuid.UUID]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (fs *FeedServer) Run() {
	for {
		select {
		case msg := <-fs.subChan:
			fs.handleSubscribe(msg)
		case ev := <-fs.eventChan:
			fs.dispatch(ev)
		case client := <-fs.registerChan:
			fs.log.WithField("user", client.user.Username).Debug("adding connection")
			fs.addClient(client)
		case client := <-fs.deRegisterChan:
			fs.log.WithField("user", client.user.Username).Debug("removing connection")
			fs.removeClient(client)
		case id := <-fs.unloadRoomChan:
			fs.unloadRoom(id)
		case <-fs.stop:
			fs.log.Info("shutting down rooms")
			for _, r := range fs.rooms {
				close(r.exit)
				<-r.done
			}

			close(fs.done)
			return
		}
	}
}

func (fs *FeedServer) handleSubscribe(msg *ClientMessage) {
	roomId := msg.Subscribe.RoomId
	room, ok := fs.rooms[roomId]
	if !ok {
		room = newRoom(roomId, fs)
		fs.rooms[roomId] = room
		fs.stats.Incr(stats.NumActiveRooms)
		go room.start()
	}

	select {
	case room.subChan <- msg:
	default:
		fs.log.WithField("room", roomId).Warn("subscribe channel full")
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (fs *FeedServer) dispatch(ev types.ChangeEvent) {
	fs.stats.Incr(stats.NumFeedEvents)

	room, ok := fs.rooms[ev.RoomId]
	if !ok {
		return
	}

	select {
	case room.eventChan <- ev:
	default:
		fs.log.WithFields(logrus.Fields{"room": ev.RoomId, "table": ev.Table}).Warn("event channel full, dropping change")
	}
}

// unloadRoom stops an idle room. A room that gained a subscriber after its
// kill timer fired refuses to exit and stays loaded.
func (fs *FeedServer) unloadRoom(id uuid.UUID) {
	r, ok := fs.rooms[id]
	if !ok {
		return
	}

	done := make(chan bool, 1)
	r.exit <- exitReq{done: done}
	if !<-done {
		fs.log.WithField("room", id).Debug("room became active, keeping it loaded")
		return
	}

	<-r.done
	delete(fs.rooms, id)
	fs.stats.Decr(stats.NumActiveRooms)
	fs.log.WithField("room", id).Debug("unloaded room")
}

// Consume forwards events until the channel closes or ctx is done.
func (fs *FeedServer) Consume(ctx context.Context, events <-chan types.ChangeEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			fs.Publish(ev)
		case <-ctx.Done():
			return
		}
	}
}

// Publish queues a change for delivery to subscribed clients.
func (fs *FeedServer) Publish(ev types.ChangeEvent) {
	select {
	case fs.eventChan <- ev:
	case <-fs.stop:
	}
}

func (fs *FeedServer) RegisterClient(c *Client) {
	select {
	case fs.registerChan <- c:
		fs.stats.Incr(stats.NumActiveClients)
	case <-fs.stop:
	}
}

func (fs *FeedServer) deRegisterClient(c *Client) {
	select {
	case fs.deRegisterChan <- c:
		fs.stats.Decr(stats.NumActiveClients)
	case <-fs.stop:
	}
}

func (fs *FeedServer) addClient(c *Client) {
	fs.clientsLock.Lock()
	defer fs.clientsLock.Unlock()
	fs.clients[c] = struct{}{}
}

func (fs *FeedServer) removeClient(c *Client) {
	fs.clientsLock.Lock()
	defer fs.clientsLock.Unlock()
	delete(fs.clients, c)
}

func (fs *FeedServer) Shutdown(ctx context.Context) error {
	fs.log.Info("received shutdown signal")
	fs.clientsLock.Lock()
	for c := range fs.clients {
		c.stopClient()
	}
	fs.clientsLock.Unlock()

	close(fs.stop)

	select {
	case <-fs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
