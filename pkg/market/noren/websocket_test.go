package noren

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageCarriesOnlyPresentFields(t *testing.T) {
	tick, ok, err := ParseMessage([]byte(`{"t":"tf","e":"NFO","tk":"43210","lp":"105.05","ft":"1760845500"}`))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "NFO", tick.Exchange)
	assert.Equal(t, "43210", tick.Token)
	require.NotNil(t, tick.LP)
	assert.Equal(t, 105.05, *tick.LP)
	assert.Nil(t, tick.BidPrice)
	assert.Nil(t, tick.AskPrice)
	assert.Equal(t, int64(1760845500), tick.FeedTime.Unix())
}

func TestParseMessageSkipsControlFrames(t *testing.T) {
	for _, frame := range []string{
		`{"t":"ck","s":"OK","uid":"FA1234"}`,
		`{"t":"h"}`,
		`{"t":"om","norenordno":"1"}`,
		`{"t":"tf","lp":"1"}`,
	} {
		_, ok, err := ParseMessage([]byte(frame))
		require.NoError(t, err, frame)
		assert.False(t, ok, frame)
	}

	_, _, err := ParseMessage([]byte(`{"t":"ck","s":"NOT_OK"}`))
	assert.Error(t, err)

	_, _, err = ParseMessage([]byte(`{"t":"tf","e":"NSE","tk":"1","lp":"abc"}`))
	assert.Error(t, err)
}

func TestStreamLoginSubscribeAndTicks(t *testing.T) {
	frames := make(chan map[string]string, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg map[string]string
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			frames <- msg
			switch msg["t"] {
			case "c":
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"t":"ck","s":"OK"}`))
			case "t":
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"t":"tk","e":"NSE","tk":"26000","lp":"25900.5","bp1":"25900","sp1":"25901"}`))
			}
		}
	}))
	defer srv.Close()

	client := NewStreamClient("ws"+strings.TrimPrefix(srv.URL, "http"), "FA1234", "", "sess")
	client.Heartbeat = 0

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Connect(ctx)
	require.NoError(t, err)
	defer stream.Close()

	login := <-frames
	assert.Equal(t, "c", login["t"])
	assert.Equal(t, "sess", login["susertoken"])
	assert.Equal(t, "FA1234", login["actid"])

	require.NoError(t, stream.Subscribe([]string{"NSE|26000"}))

	select {
	case tick := <-stream.Ticks():
		assert.Equal(t, "26000", tick.Token)
		require.NotNil(t, tick.BidPrice)
		assert.Equal(t, 25900.0, *tick.BidPrice)
	case <-ctx.Done():
		t.Fatal("no tick received")
	}

	stream.Close()
	select {
	case <-stream.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not close")
	}
}
