package docstore

import (
	"context"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/redis"
)

// Keyspace event names that change membership.
var (
	setEvents = map[string]struct{}{
		"hset": {}, "hsetnx": {}, "hmset": {}, "hdel": {}, "hincrby": {}, "hincrbyfloat": {}, "restore": {}, "rename_to": {},
	}
	deleteEvents = map[string]struct{}{
		"del": {}, "expired": {}, "evicted": {}, "rename_from": {},
	}
)

// Watcher turns Redis keyspace notifications into listener calls, so
// objects written by any client reach rule-governed indexes.
type Watcher struct {
	client   *redis.Client
	store    *RedisStore
	listener Listener
	logger   *slog.Logger
}

func NewWatcher(client *redis.Client, store *RedisStore, listener Listener) *Watcher {
	return &Watcher{
		client:   client,
		store:    store,
		listener: listener,
		logger:   logger.WithComponent("keyspace-watcher"),
	}
}

// Start subscribes and dispatches notifications until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.client.EnableKeyspaceEvents(ctx); err != nil {
		// Managed Redis often forbids CONFIG SET; events may already be on.
		w.logger.Warn("could not enable keyspace events", "error", err)
	}
	sub := w.client.SubscribeKeyspace(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	prefix := w.client.KeyspacePrefix()
	w.logger.Info("keyspace watcher started", "pattern", prefix+"*")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("keyspace watcher stopping")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			w.dispatch(ctx, prefix, msg)
		}
	}
}

func (w *Watcher) dispatch(ctx context.Context, prefix string, msg *goredis.Message) {
	key, ok := strings.CutPrefix(msg.Channel, prefix)
	if !ok {
		return
	}
	event := msg.Payload
	if _, ok := setEvents[event]; ok {
		w.store.Invalidate(key)
		fields, found, err := w.store.Get(ctx, key)
		if err != nil {
			w.logger.Error("loading changed object", "key", key, "error", err)
			return
		}
		if !found {
			return
		}
		if err := w.listener.OnKeySet(ctx, key, fields); err != nil {
			w.logger.Error("applying object change", "key", key, "event", event, "error", err)
		}
		return
	}
	if _, ok := deleteEvents[event]; ok {
		w.store.Invalidate(key)
		if err := w.listener.OnKeyDeleted(ctx, key); err != nil {
			w.logger.Error("applying object removal", "key", key, "event", event, "error", err)
		}
	}
}
