// Package bridge implements the Command/Event Bridge (spec §6): a
// single-producer command channel in, a deduplicated, bounded "pop one"
// event stream out, with an optional byte-wire wake signal for consumers
// that want to `select` rather than poll.
//
// Grounded on original_source/rust_module/src/bridge/{mod,models,transport}.rs
// (BRIDGE_QUEUE + SIGNAL_TX + send_to_python's enqueue-then-wake-byte
// pattern), generalized away from the PyO3/raw-fd specifics: the wake
// signal here is any io.Writer, and the primary transport is a local
// WebSocket endpoint (github.com/gorilla/websocket) a UI process dials
// into, carrying the same JSON tagged-union shapes on the wire.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Bridge owns the command inbox and the deduplicated event outbox.
type Bridge struct {
	commands chan Command
	events   chan Event

	dedupMu  sync.Mutex
	lastByKind map[EventKind]string

	wakeMu     sync.Mutex
	wake       []byte // a single pre-allocated wake byte, reused across writes
	wakeWriter writerFunc
}

// New returns a Bridge with a bounded command inbox and event outbox.
func New(commandBuffer, eventBuffer int) *Bridge {
	return &Bridge{
		commands:   make(chan Command, commandBuffer),
		events:     make(chan Event, eventBuffer),
		lastByKind: make(map[EventKind]string),
		wake:       []byte{1},
	}
}

// Commands returns the inbound command channel for the engine's
// single command-consumer loop to range over (spec §5).
func (b *Bridge) Commands() <-chan Command { return b.commands }

// PushCommand enqueues a command from a transport; used by Serve and
// directly by tests/CLI drivers.
func (b *Bridge) PushCommand(ctx context.Context, c Command) error {
	select {
	case b.commands <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit publishes an event, applying the deduplication rule of spec §6:
// for the listed kinds, a payload byte-identical to the last emitted for
// that kind is dropped.
func (b *Bridge) Emit(e Event) {
	if dedupedKinds[e.Type] {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			payload = nil
		}
		key := string(payload)

		b.dedupMu.Lock()
		last, seen := b.lastByKind[e.Type]
		if seen && last == key {
			b.dedupMu.Unlock()
			return
		}
		b.lastByKind[e.Type] = key
		b.dedupMu.Unlock()
	}

	select {
	case b.events <- e:
		b.signalWake()
	default:
		// outbox full: drop oldest to make room rather than block the
		// producer, matching a bounded queue's "pop one" contract.
		select {
		case <-b.events:
		default:
		}
		select {
		case b.events <- e:
			b.signalWake()
		default:
		}
	}
}

// PopEvent blocks until one event is available or ctx is cancelled.
func (b *Bridge) PopEvent(ctx context.Context) (Event, error) {
	select {
	case e := <-b.events:
		return e, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// SetWakeWriter installs the optional byte-wire side channel: one byte is
// written to w on every successful enqueue (spec §6's "Signalling").
func (b *Bridge) SetWakeWriter(w writerFunc) {
	b.wakeMu.Lock()
	defer b.wakeMu.Unlock()
	b.wakeWriter = w
}

type writerFunc func([]byte) (int, error)

func (b *Bridge) signalWake() {
	b.wakeMu.Lock()
	w := b.wakeWriter
	b.wakeMu.Unlock()
	if w == nil {
		return
	}
	_, _ = w(b.wake)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Serve runs a WebSocket endpoint at addr: incoming text messages are
// parsed as Commands and pushed to the inbox; every popped Event is
// written back as a text message. Serve blocks until ctx is cancelled.
func (b *Bridge) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("bridge: upgrade failed: %v", err)
			return
		}
		b.serveConn(ctx, conn)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("bridge: serve: %w", err)
		}
		return nil
	}
}

func (b *Bridge) serveConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			var cmd Command
			if err := json.Unmarshal(payload, &cmd); err != nil {
				continue
			}
			if err := b.PushCommand(connCtx, cmd); err != nil {
				return
			}
		}
	}()

	for {
		e, err := b.PopEvent(connCtx)
		if err != nil {
			return
		}
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}
}
