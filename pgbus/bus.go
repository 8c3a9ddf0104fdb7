// Package pgbus connects the peers of a session through PostgreSQL. Events
// travel over LISTEN/NOTIFY and participants are tracked with heartbeat
// leases in the session's participants table.
package pgbus

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	idrange "go-idrange"
	"go-idrange/database"
)

// maxPayload is the NOTIFY payload limit of PostgreSQL minus one byte.
const maxPayload = 7999

var (
	// ErrPayloadTooLarge is returned when an encoded event does not fit a notification.
	ErrPayloadTooLarge = errors.New("event too large for a notification")

	// ErrBusNotStarted is returned when the bus is stopped before it was started.
	ErrBusNotStarted = errors.New("bus not started")
)

// Bus is an idrange.InboundTransport over PostgreSQL.
type Bus struct {
	db        *sql.DB
	connURL   string
	sessionID string
	peer      idrange.PeerID
	options   options

	queries    *database.Queries
	membership *membership
	listener   *pq.Listener
	inbox      chan idrange.Event
	remote     atomic.Int64

	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// New creates a bus for peer in the given session. connURL is used for the
// dedicated LISTEN connection and must reach the same database as db.
func New(db *sql.DB, connURL, sessionID string, peer idrange.PeerID, opts ...Option) *Bus {
	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Bus{
		db:        db,
		connURL:   connURL,
		sessionID: sessionID,
		peer:      peer,
		options:   options,
		inbox:     make(chan idrange.Event, options.inboxSize),
	}
}

// Start migrates the session tables, subscribes to the event channel and
// joins the session. Background workers keep the lease and the participant
// count fresh until Stop.
func (b *Bus) Start(ctx context.Context) error {
	if err := database.ValidateSessionID(b.sessionID); err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}

	if err := database.Migrate(b.db, b.sessionID); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	b.queries = database.NewQueries(b.db, b.sessionID)
	b.membership = newMembership(b.queries, b.sessionID, string(b.peer), b.options.leaseTTL)

	// Subscribe before joining so no event addressed to a live participant is missed.
	b.listener = pq.NewListener(b.connURL, 10*time.Millisecond, time.Minute, b.reportListenerEvent)
	if err := b.listener.Listen(b.channel()); err != nil {
		_ = b.listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", b.channel(), err)
	}

	if err := b.membership.Join(ctx); err != nil {
		_ = b.listener.Close()
		return err
	}
	if err := b.refreshParticipants(ctx); err != nil {
		_ = b.listener.Close()
		return err
	}

	var workerCtx context.Context
	workerCtx, b.cancel = context.WithCancel(context.Background())

	b.workers.Add(4)
	go b.listenWorker(workerCtx)
	go b.heartbeatWorker(workerCtx)
	go b.refreshParticipantsWorker(workerCtx)
	go b.cleanupExpiredWorker(workerCtx)

	b.options.logger.Info("joined session",
		"session_id", b.sessionID,
		"peer_id", b.peer,
		"remote_participants", b.remote.Load())
	return nil
}

// Stop leaves the session and closes the inbox.
func (b *Bus) Stop(ctx context.Context) error {
	var cancel = b.cancel
	if cancel == nil {
		return ErrBusNotStarted
	}
	b.cancel = nil

	cancel()
	b.workers.Wait()
	close(b.inbox)

	var leaveErr = b.membership.Leave(ctx)
	if err := b.listener.Close(); err != nil {
		b.options.logger.Warn("failed to close listener", "error", err)
	}
	return leaveErr
}

// LocalPeer implements idrange.Transport.
func (b *Bus) LocalPeer() idrange.PeerID {
	return b.peer
}

// RemoteParticipants implements idrange.Transport. The count is refreshed
// periodically from the participants table.
func (b *Bus) RemoteParticipants() int {
	return int(b.remote.Load())
}

// Inbox implements idrange.InboundTransport.
func (b *Bus) Inbox() <-chan idrange.Event {
	return b.inbox
}

// Broadcast implements idrange.Transport.
func (b *Bus) Broadcast(ev idrange.Event) error {
	var data, err = idrange.EncodeEvent(ev)
	if err != nil {
		return err
	}

	var payload = base64.StdEncoding.EncodeToString(data)
	if len(payload) > maxPayload {
		return fmt.Errorf("failed to broadcast %s: %w (%d bytes)", ev.Kind(), ErrPayloadTooLarge, len(payload))
	}

	var ctx, cancel = context.WithTimeout(context.Background(), b.options.notifyTimeout)
	defer cancel()

	if err := b.queries.Notify(ctx, b.channel(), payload); err != nil {
		return fmt.Errorf("failed to broadcast %s: %w", ev.Kind(), err)
	}
	return nil
}

// Participants returns the ids of all live peers of the session.
func (b *Bus) Participants(ctx context.Context) ([]idrange.PeerID, error) {
	var peers, err = b.membership.LiveParticipants(ctx)
	if err != nil {
		return nil, err
	}

	var ids = make([]idrange.PeerID, len(peers))
	for i, peer := range peers {
		ids[i] = idrange.PeerID(peer)
	}
	return ids, nil
}

func (b *Bus) channel() string {
	return b.sessionID + "_events"
}

func (b *Bus) refreshParticipants(ctx context.Context) error {
	var count, err = b.membership.RemoteCount(ctx)
	if err != nil {
		return err
	}

	if previous := b.remote.Swap(int64(count)); previous != int64(count) {
		b.options.logger.Info("participants changed",
			"session_id", b.sessionID,
			"remote_participants", count,
			"previous", previous)
	}
	return nil
}

func (b *Bus) reportListenerEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		b.options.logger.Debug("listener connected", "channel", b.channel())
	case pq.ListenerEventDisconnected:
		b.options.logger.Warn("listener disconnected", "channel", b.channel(), "error", err)
	case pq.ListenerEventReconnected:
		b.options.logger.Warn("listener reconnected, events sent meanwhile are lost", "channel", b.channel())
	case pq.ListenerEventConnectionAttemptFailed:
		b.options.logger.Error("listener connection attempt failed", "channel", b.channel(), "error", err)
	}
}

// listenWorker decodes notifications into the inbox.
func (b *Bus) listenWorker(ctx context.Context) {
	defer b.workers.Done()

	var ticker = time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go func() {
				if err := b.listener.Ping(); err != nil {
					b.options.logger.Warn("listener ping failed", "error", err)
				}
			}()
		case n, ok := <-b.listener.Notify:
			if !ok {
				return
			}
			// nil after a reconnect
			if n == nil {
				continue
			}

			var ev, err = decodePayload(n.Extra)
			if err != nil {
				b.options.logger.Warn("dropping undecodable notification", "channel", n.Channel, "error", err)
				continue
			}
			if ev.Sender() == b.peer {
				continue
			}

			select {
			case b.inbox <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// heartbeatWorker periodically renews this peer's lease.
func (b *Bus) heartbeatWorker(ctx context.Context) {
	defer b.workers.Done()

	var ticker = time.NewTicker(b.options.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.membership.Heartbeat(ctx); err != nil {
				b.options.logger.Error("failed to renew lease", "error", err)
			}
		}
	}
}

// refreshParticipantsWorker periodically re-reads the live participant count.
func (b *Bus) refreshParticipantsWorker(ctx context.Context) {
	defer b.workers.Done()

	var ticker = time.NewTicker(b.options.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.refreshParticipants(ctx); err != nil {
				b.options.logger.Error("failed to refresh participants", "error", err)
			}
		}
	}
}

// cleanupExpiredWorker periodically removes leases of crashed peers.
func (b *Bus) cleanupExpiredWorker(ctx context.Context) {
	defer b.workers.Done()

	var ticker = time.NewTicker(b.options.leaseTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var deleted, err = b.membership.CleanupExpired(ctx)
			if err != nil {
				b.options.logger.Error("failed to cleanup expired participants", "error", err)
				continue
			}
			if deleted > 0 {
				b.options.logger.Info("removed expired participants", "count", deleted)
			}
		}
	}
}

func decodePayload(payload string) (idrange.Event, error) {
	var data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", idrange.ErrMalformedEvent, err)
	}
	return idrange.DecodeEvent(data)
}
