package livestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"
)

// Sync exchanges automerge sync messages with one peer over a websocket
// connection until the connection drops or ctx is cancelled. Both sides
// of a connection run the same pump. Received changes are merged into
// the document and fanned out to local subscribers.
func (s *CollabStore) Sync(ctx context.Context, conn *websocket.Conn, log *slog.Logger, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}

	s.mu.Lock()
	state := automerge.NewSyncState(s.doc)
	s.mu.Unlock()

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer conn.Close()
		for {
			if err := s.readAndMerge(conn, state); err != nil {
				log.Debug("live sync read loop ended", "err", err)
				return
			}
			if err := s.notifyMerged(); err != nil {
				log.Error("failed to fan out merged records", "err", err)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer conn.Close()

		if err := s.drainOutgoing(conn, state); err != nil {
			log.Debug("live sync write loop ended", "err", err)
			return
		}

		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := s.drainOutgoing(conn, state); err != nil {
					log.Debug("live sync write loop ended", "err", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	return nil
}

func (s *CollabStore) readAndMerge(conn *websocket.Conn, state *automerge.SyncState) error {
	mt, p, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	if mt != websocket.BinaryMessage {
		return nil
	}
	s.mu.Lock()
	_, err = state.ReceiveMessage(p)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to receive message: %w", err)
	}
	return nil
}

// drainOutgoing writes generated sync messages until the state has
// nothing more to send.
func (s *CollabStore) drainOutgoing(conn *websocket.Conn, state *automerge.SyncState) error {
	for {
		s.mu.Lock()
		msg, valid := state.GenerateMessage()
		s.mu.Unlock()
		if msg == nil {
			return nil
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, msg.Bytes()); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
		if !valid {
			return nil
		}
	}
}
