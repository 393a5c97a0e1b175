package pushchannel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

var upgrader = websocket.Upgrader{}

// echoServer upgrades connections, pushes every frame it receives on the
// inbound channel, and forwards frames from the outbound channel to clients.
func echoServer(t *testing.T, outbound <-chan Event, inbound chan<- Event) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for ev := range outbound {
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}()

		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			inbound <- ev
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestChannel_SubscribeReceivesEvents(t *testing.T) {
	outbound := make(chan Event, 1)
	inbound := make(chan Event, 1)
	srv := echoServer(t, outbound, inbound)

	d := &Dialer{BaseURL: srv.URL}
	ch := d.Connect(context.Background(), "")
	defer ch.Close()

	got := make(chan string, 1)
	ch.Subscribe("newMessage", func(data json.RawMessage) {
		got <- string(data)
	})

	waitFor(t, ch.Connected, "channel never connected")
	outbound <- Event{Name: "newMessage", Data: json.RawMessage(`{"_id":"m1"}`)}

	select {
	case payload := <-got:
		assert.JSONEq(t, `{"_id":"m1"}`, payload)
	case <-time.After(3 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestChannel_SubscribeReplacesHandler(t *testing.T) {
	outbound := make(chan Event, 2)
	inbound := make(chan Event, 1)
	srv := echoServer(t, outbound, inbound)

	d := &Dialer{BaseURL: srv.URL}
	ch := d.Connect(context.Background(), "")
	defer ch.Close()

	var stale, active int
	done := make(chan struct{}, 2)
	ch.Subscribe("newMessage", func(json.RawMessage) { stale++; done <- struct{}{} })
	ch.Subscribe("newMessage", func(json.RawMessage) { active++; done <- struct{}{} })

	waitFor(t, ch.Connected, "channel never connected")
	outbound <- Event{Name: "newMessage", Data: json.RawMessage(`{}`)}
	outbound <- Event{Name: "newMessage", Data: json.RawMessage(`{}`)}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("handler never invoked")
		}
	}

	// only the most recent subscription may be live
	assert.Equal(t, 0, stale)
	assert.Equal(t, 2, active)
}

func TestChannel_EmitReachesServer(t *testing.T) {
	outbound := make(chan Event)
	inbound := make(chan Event, 1)
	srv := echoServer(t, outbound, inbound)

	d := &Dialer{BaseURL: srv.URL}
	ch := d.Connect(context.Background(), "")
	defer ch.Close()

	waitFor(t, ch.Connected, "channel never connected")
	ch.Emit("joinRoom", "c1")

	select {
	case ev := <-inbound:
		assert.Equal(t, "joinRoom", ev.Name)
		assert.JSONEq(t, `"c1"`, string(ev.Data))
	case <-time.After(3 * time.Second):
		t.Fatal("server never received emitted event")
	}
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	outbound := make(chan Event)
	inbound := make(chan Event, 1)
	srv := echoServer(t, outbound, inbound)

	d := &Dialer{BaseURL: srv.URL}
	ch := d.Connect(context.Background(), "")
	waitFor(t, ch.Connected, "channel never connected")

	ch.Close()
	ch.Close() // second close must not panic

	// subscriptions were released; a late Subscribe is a no-op
	ch.Subscribe("newMessage", func(json.RawMessage) { t.Error("handler on closed channel") })
	ch.dispatch(Event{Name: "newMessage", Data: json.RawMessage(`{}`)})
}

func TestChannel_DegradesWhenUnreachable(t *testing.T) {
	d := &Dialer{
		BaseURL:          "http://127.0.0.1:1", // nothing listens here
		HandshakeTimeout: 100 * time.Millisecond,
		MaxReconnectWait: 100 * time.Millisecond,
	}

	// Connect must return immediately and never panic.
	ch := d.Connect(context.Background(), "support")
	defer ch.Close()

	assert.False(t, ch.Connected())

	// Emit on a dead channel is fire-and-forget and must not block.
	doneCh := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			ch.Emit("registerSupportUser", "u1")
		}
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a disconnected channel")
	}
}

func TestChannel_OnConnectFires(t *testing.T) {
	outbound := make(chan Event)
	inbound := make(chan Event, 1)
	srv := echoServer(t, outbound, inbound)

	d := &Dialer{BaseURL: srv.URL}
	ch := d.Connect(context.Background(), "")
	defer ch.Close()

	fired := make(chan struct{}, 1)
	ch.OnConnect(func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("connect callback never fired")
	}
}

func TestChannel_OnConnectAfterDialFiresImmediately(t *testing.T) {
	outbound := make(chan Event)
	inbound := make(chan Event, 1)
	srv := echoServer(t, outbound, inbound)

	d := &Dialer{BaseURL: srv.URL}
	ch := d.Connect(context.Background(), "support")
	defer ch.Close()

	// let the dial win the race against the consumer's wiring
	waitFor(t, ch.Connected, "channel never connected")

	// registering now must still announce the client; otherwise it stays
	// invisible to the server until an unrelated reconnect
	ch.OnConnect(func() { ch.Emit("registerSupportUser", "u1") })

	select {
	case ev := <-inbound:
		assert.Equal(t, "registerSupportUser", ev.Name)
		assert.JSONEq(t, `"u1"`, string(ev.Data))
	case <-time.After(3 * time.Second):
		t.Fatal("registration never reached the server")
	}
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "ws://api.local", endpointURL("http://api.local/", ""))
	assert.Equal(t, "wss://api.local/support", endpointURL("https://api.local", "support"))
	assert.True(t, strings.HasPrefix(endpointURL("ws://api.local", ""), "ws://"))
}
