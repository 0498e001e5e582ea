package feed

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"washplan/internal/events"
)

const (
	minReconnect = 10 * time.Second
	maxReconnect = time.Minute
	pingEvery    = 90 * time.Second
)

// ListenPostgres wakes the broker on every NOTIFY sent by the event writer.
// It blocks until ctx is done. Polling still covers anything missed while
// the listener reconnects.
func ListenPostgres(ctx context.Context, dsn, channel string, b *Broker, log logrus.FieldLogger) error {
	if channel == "" {
		channel = events.DefaultChannel
	}
	if log == nil {
		log = b.log
	}
	l := pq.NewListener(dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.WithError(err).WithField("event", ev).Warn("feed: listener state")
		}
	})
	defer l.Close()
	if err := l.Listen(channel); err != nil {
		return err
	}
	log.WithField("channel", channel).Info("feed: listening")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.Notify:
			// a nil notification follows a reconnect; poll either way
			b.Wake()
		case <-time.After(pingEvery):
			go func() {
				if err := l.Ping(); err != nil {
					log.WithError(err).Warn("feed: listener ping failed")
				}
			}()
		}
	}
}
