package wsengine

import (
	"context"
	"strings"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Test a message written in many fragments by the client is reassembled and echoed as one message.
func (suite *ServerFeaturesTestSuite) TestGorillaFragmentedMessage() {
	dialer := gorilla.Dialer{HandshakeTimeout: testWait, WriteBufferSize: 32}
	conn, res, err := dialer.Dial(suite.url("/echo"), nil)
	require.NoError(suite.T(), err)
	defer conn.Close()
	defer res.Body.Close()
	require.NoError(suite.T(), conn.SetReadDeadline(time.Now().Add(testWait)))
	msg := strings.Repeat("fragmented ", 32)
	// The writer flushes a continuation frame each time its buffer is full
	writer, err := conn.NextWriter(gorilla.TextMessage)
	require.NoError(suite.T(), err)
	for i := 0; i < 32; i++ {
		_, err = writer.Write([]byte("fragmented "))
		require.NoError(suite.T(), err)
	}
	require.NoError(suite.T(), writer.Close())
	typ, data, err := conn.ReadMessage()
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), gorilla.TextMessage, typ)
	require.Equal(suite.T(), msg, string(data))
}

// Test the server answers a ping with a pong carrying the same application data.
func (suite *ServerFeaturesTestSuite) TestGorillaPingPong() {
	conn, res, err := gorilla.DefaultDialer.Dial(suite.url("/echo"), nil)
	require.NoError(suite.T(), err)
	defer conn.Close()
	defer res.Body.Close()
	pongs := make(chan string, 1)
	conn.SetPongHandler(func(appData string) error {
		pongs <- appData
		return nil
	})
	require.NoError(suite.T(), conn.WriteControl(gorilla.PingMessage, []byte("are you there"), time.Now().Add(testWait)))
	// Control frames are only processed while reading
	require.NoError(suite.T(), conn.WriteMessage(gorilla.TextMessage, []byte("after ping")))
	require.NoError(suite.T(), conn.SetReadDeadline(time.Now().Add(testWait)))
	_, data, err := conn.ReadMessage()
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "after ping", string(data))
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	select {
	case appData := <-pongs:
		require.Equal(suite.T(), "are you there", appData)
	case <-ctx.Done():
		require.FailNow(suite.T(), "pong not received")
	}
}
