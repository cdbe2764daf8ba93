package realtime

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func TestConnectionSendAfterClose(t *testing.T) {
	conn, _ := dialPair(t, uuid.New())
	conn.Start()
	conn.Close(websocket.CloseNormalClosure, "bye")

	// Every send after close must fail cleanly, never panic.
	for i := 0; i < 256; i++ {
		assert.Error(t, conn.Send([]byte("late")))
	}
}

func TestConnectionSendCloseRace(t *testing.T) {
	// A room publish racing a disconnect must never bring the process down.
	for i := 0; i < 20; i++ {
		conn, _ := dialPair(t, uuid.New())
		conn.Start()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = conn.Send([]byte("payload"))
			}
		}()
		go func() {
			defer wg.Done()
			conn.Close(websocket.CloseGoingAway, "race")
		}()
		wg.Wait()
	}
}

func TestConnectionDoubleClose(t *testing.T) {
	conn, _ := dialPair(t, uuid.New())
	conn.Start()
	conn.Close(websocket.CloseNormalClosure, "first")
	conn.Close(websocket.CloseNormalClosure, "second")
}
