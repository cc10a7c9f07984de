// Package feed turns Postgres change notifications into change events.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/sirupsen/logrus"
)

// Channel is the notification channel written by the notify_change trigger.
const Channel = "synqup_changes"

const (
	minReconnectInterval = 500 * time.Millisecond
	maxReconnectInterval = 30 * time.Second
	pingInterval         = 90 * time.Second
)

type PgListener struct {
	dsn    string
	log    *logrus.Logger
	events chan types.ChangeEvent
}

func NewPgListener(dsn string, logger *logrus.Logger) *PgListener {
	return &PgListener{
		dsn:    dsn,
		log:    logger,
		events: make(chan types.ChangeEvent, 256),
	}
}

// Events is closed when Run returns.
func (l *PgListener) Events() <-chan types.ChangeEvent {
	return l.events
}

// Run listens on Channel until ctx is cancelled.
func (l *PgListener) Run(ctx context.Context) error {
	defer close(l.events)

	listener := pq.NewListener(l.dsn, minReconnectInterval, maxReconnectInterval, l.reportEvent)
	defer listener.Close()

	if err := listener.Listen(Channel); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}
	l.log.WithField("channel", Channel).Info("listening for changes")

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				// the connection was re-established and notifications sent
				// while it was down are lost
				l.log.Warn("listener reconnected")
				continue
			}

			ev, err := Decode(n.Extra)
			if err != nil {
				l.log.WithError(err).Error("decode notification")
				continue
			}

			select {
			case l.events <- ev:
			case <-ctx.Done():
				return nil
			}
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.log.WithError(err).Warn("listener ping")
				}
			}()
		}
	}
}

func (l *PgListener) reportEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.log.Debug("listener connected")
	case pq.ListenerEventDisconnected:
		l.log.WithError(err).Warn("listener disconnected")
	case pq.ListenerEventReconnected:
		l.log.Info("listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.log.WithError(err).Warn("listener connection attempt failed")
	}
}

// Decode parses a notify_change payload.
func Decode(payload string) (types.ChangeEvent, error) {
	var ev types.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("unmarshal: %w", err)
	}

	switch ev.Type {
	case types.ChangeInsert, types.ChangeUpdate, types.ChangeDelete:
	default:
		return ev, fmt.Errorf("unknown change type %q", ev.Type)
	}

	if ev.Table == "" {
		return ev, fmt.Errorf("missing table")
	}

	return ev, nil
}
