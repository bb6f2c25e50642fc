package stomp_test

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"order-monitor/transport"
	"order-monitor/transport/stomp"
)

type frame struct {
	command string
	headers map[string]string
}

func readFrame(r *bufio.Reader) (frame, error) {
	raw, err := r.ReadString(0)
	if err != nil {
		return frame{}, err
	}
	raw = strings.TrimLeft(strings.TrimSuffix(raw, "\x00"), "\r\n")
	head, _, _ := strings.Cut(raw, "\n\n")
	lines := strings.Split(head, "\n")
	f := frame{command: strings.TrimSpace(lines[0]), headers: map[string]string{}}
	for _, l := range lines[1:] {
		if k, v, ok := strings.Cut(l, ":"); ok {
			f.headers[k] = strings.TrimSpace(v)
		}
	}
	return f, nil
}

// broker is a minimal STOMP 1.2 endpoint: it answers CONNECT and pushes one
// MESSAGE per SUBSCRIBE. With hangUp set it drops the socket after the first
// subscription.
func broker(t *testing.T, hangUp bool) *httptest.Server {
	t.Helper()
	srv := websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(ws *websocket.Conn) {
			r := bufio.NewReader(ws)
			n := 0
			for {
				f, err := readFrame(r)
				if err != nil {
					return
				}
				switch f.command {
				case "CONNECT", "STOMP":
					fmt.Fprint(ws, "CONNECTED\nversion:1.2\nheart-beat:0,0\nserver:test-broker\n\n\x00")
				case "SUBSCRIBE":
					n++
					body := fmt.Sprintf(`{"id": %d}`, n)
					fmt.Fprintf(ws, "MESSAGE\ndestination:%s\nmessage-id:%d\nsubscription:%s\ncontent-type:application/json\ncontent-length:%d\n\n%s\x00",
						f.headers["destination"], n, f.headers["id"], len(body), body)
					if hangUp {
						return
					}
				case "DISCONNECT":
					if id := f.headers["receipt"]; id != "" {
						fmt.Fprintf(ws, "RECEIPT\nreceipt-id:%s\n\n\x00", id)
					}
					return
				}
			}
		},
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(ts.URL, "http://") + "/ws"
}

func receive(t *testing.T, c transport.Conn) (transport.Message, bool) {
	t.Helper()
	select {
	case m, ok := <-c.Messages():
		return m, ok
	case <-time.After(3 * time.Second):
		t.Fatal("no message")
		return transport.Message{}, false
	}
}

func TestTransport_SubscribeAndReceive(t *testing.T) {
	ts := broker(t, false)
	tr := stomp.New(stomp.Options{URL: wsURL(ts)}, zap.NewNop())
	assert.Equal(t, "stomp", tr.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := tr.Dial(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.Subscribe("/topic/hoa-don-list"))
	m, ok := receive(t, conn)
	require.True(t, ok)
	assert.Equal(t, "/topic/hoa-don-list", m.Topic)
	assert.JSONEq(t, `{"id": 1}`, string(m.Payload))

	require.NoError(t, conn.Subscribe("/topic/khach-hang-update"))
	m, _ = receive(t, conn)
	assert.Equal(t, "/topic/khach-hang-update", m.Topic)

	require.NoError(t, conn.Close())
	for {
		if _, ok := receive(t, conn); !ok {
			break
		}
	}
	assert.ErrorIs(t, conn.Err(), transport.ErrClosed)
	assert.Error(t, conn.Subscribe("/topic/late"))
}

func TestTransport_ServerDropEndsStream(t *testing.T) {
	ts := broker(t, true)
	tr := stomp.New(stomp.Options{URL: wsURL(ts)}, zap.NewNop())

	conn, err := tr.Dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Subscribe("/topic/hoa-don-list"))

	for {
		if _, ok := receive(t, conn); !ok {
			break
		}
	}
	require.Error(t, conn.Err())
	assert.NotErrorIs(t, conn.Err(), transport.ErrClosed)
}

func TestTransport_DialErrors(t *testing.T) {
	_, err := stomp.New(stomp.Options{URL: "http://example.com/ws"}, nil).Dial(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ts := broker(t, false)
	_, err = stomp.New(stomp.Options{URL: wsURL(ts)}, nil).Dial(ctx)
	assert.Error(t, err)
}
