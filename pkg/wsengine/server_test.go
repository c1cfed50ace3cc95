package wsengine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gbdevw/gowsrt/pkg/wsframe"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"nhooyr.io/websocket"
)

/*************************************************************************************************/
/* TEST HANDLER                                                                                  */
/*************************************************************************************************/

// Handler used by integration tests:
//   - connections on /rooms/<name> join room <name>
//   - messages are echoed
//   - closes are recorded
type echoRoomsHandler struct {
	closes chan closeInfo
}

func newEchoRoomsHandler() *echoRoomsHandler {
	return &echoRoomsHandler{closes: make(chan closeInfo, 16)}
}

func (handler *echoRoomsHandler) OnConnect(ctx context.Context, conn *Connection, path string, header http.Header) error {
	if path == "/forbidden" {
		return fmt.Errorf("forbidden path")
	}
	if room, ok := strings.CutPrefix(path, "/rooms/"); ok {
		return conn.Join(room)
	}
	return nil
}

func (handler *echoRoomsHandler) OnMessage(ctx context.Context, conn *Connection, msg Message) {
	_ = conn.Send(msg)
}

func (handler *echoRoomsHandler) OnClose(ctx context.Context, conn *Connection, code wsframe.CloseCode, reason string) {
	handler.closes <- closeInfo{code: code, reason: reason}
}

func testServerOptions() *ServerConfigurationOptions {
	return NewServerConfigurationOptions().
		WithMaxMessageSizeBytes(4096).
		WithReadTimeoutMs(5).
		WithCloseGracePeriodMs(200).
		WithSchedulerWorkers(4).
		WithStopTimeoutMs(5000)
}

func newTestServer(t *testing.T, ctx context.Context, handler ConnectionHandler) *Server {
	srv, err := NewServer(ctx, &http.Server{Addr: "localhost:0"}, handler, nil, testServerOptions(), nil, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, srv)
	return srv
}

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used to test Server methods like Start, Stop, ...
type ServerMethodsTestSuite struct {
	suite.Suite
}

// Run ServerMethodsTestSuite test suite
func TestServerMethodsTestSuite(t *testing.T) {
	suite.Run(t, new(ServerMethodsTestSuite))
}

// Test suite used to test Server features like echo, rooms, close handshake, ...
type ServerFeaturesTestSuite struct {
	suite.Suite
	srv     *Server
	handler *echoRoomsHandler
}

// Run ServerFeaturesTestSuite test suite
func TestServerFeaturesTestSuite(t *testing.T) {
	suite.Run(t, new(ServerFeaturesTestSuite))
}

// ServerFeaturesTestSuite - Before all tests
func (suite *ServerFeaturesTestSuite) SetupSuite() {
	suite.handler = newEchoRoomsHandler()
	suite.srv = newTestServer(suite.T(), context.Background(), suite.handler)
	require.NoError(suite.T(), suite.srv.Start())
}

// ServerFeaturesTestSuite - After all tests
func (suite *ServerFeaturesTestSuite) TearDownSuite() {
	require.NoError(suite.T(), suite.srv.Stop())
}

// ServerFeaturesTestSuite - Before each test
func (suite *ServerFeaturesTestSuite) SetupTest() {
	// Drop closes recorded by previous tests
	for {
		select {
		case <-suite.handler.closes:
		default:
			return
		}
	}
}

func (suite *ServerFeaturesTestSuite) url(path string) string {
	return "ws://" + suite.srv.Addr() + path
}

// Wait until OnClose is called with the expected status. Closes of connections opened by other
// tests are skipped.
func (suite *ServerFeaturesTestSuite) expectClosed(expected closeInfo) {
	deadline := time.After(testWait)
	for {
		select {
		case info := <-suite.handler.closes:
			if info == expected {
				return
			}
		case <-deadline:
			require.FailNow(suite.T(), "OnClose not called", expected)
		}
	}
}

/*************************************************************************************************/
/* TEST SERVER METHODS                                                                           */
/*************************************************************************************************/

// # Description
//
// Test server Start/Stop methods. Test will succeed if server can start and then immediatly stop
// without any error, the client connection being closed with 1001.
func (suite *ServerMethodsTestSuite) TestServerStartAndStop() {
	srv := newTestServer(suite.T(), context.Background(), newEchoRoomsHandler())
	require.NoError(suite.T(), srv.Start())
	rootCtx := context.Background()
	conn, res, err := websocket.Dial(rootCtx, "ws://"+srv.Addr(), nil)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), res)
	require.Eventually(suite.T(), func() bool { return srv.ConnectionCount() == 1 }, testWait, 10*time.Millisecond)
	require.NoError(suite.T(), srv.Stop())
	_, _, err = conn.Read(rootCtx)
	require.Error(suite.T(), err)
	require.Equal(suite.T(), int(websocket.StatusGoingAway), int(websocket.CloseStatus(err)))
	require.Zero(suite.T(), srv.ConnectionCount())
}

// # Description
//
// Test server Start method. Test will succeed if server starts and then returns an error on
// second Start method call.
func (suite *ServerMethodsTestSuite) TestServerStartErrorAlreadyStarted() {
	srv := newTestServer(suite.T(), context.Background(), newEchoRoomsHandler())
	require.NoError(suite.T(), srv.Start())
	err := srv.Start()
	require.Error(suite.T(), err)
	require.ErrorAs(suite.T(), err, &ServerStartError{})
	require.NoError(suite.T(), srv.Stop())
}

// # Description
//
// Test server Start method. Test will succeed if server start returns an error when server
// context is Done.
func (suite *ServerMethodsTestSuite) TestServerStartErrorCtxDone() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv := newTestServer(suite.T(), ctx, newEchoRoomsHandler())
	require.Error(suite.T(), srv.Start())
}

// # Description
//
// Test server Start method. Test will succeed if server start returns an error when the
// address cannot be listened on.
func (suite *ServerMethodsTestSuite) TestServerStartErrorListen() {
	srv, err := NewServer(context.Background(), &http.Server{Addr: "localhost:-1"}, newEchoRoomsHandler(), nil, nil, nil, nil, nil)
	require.NoError(suite.T(), err)
	err = srv.Start()
	require.ErrorAs(suite.T(), err, &ServerStartError{})
}

// # Description
//
// Test server Stop method. Test will succeed if server stop returns an error when server context
// is Done.
func (suite *ServerMethodsTestSuite) TestServerStopErrorCtxDone() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv := newTestServer(suite.T(), ctx, newEchoRoomsHandler())
	require.Error(suite.T(), srv.Stop())
}

// # Description
//
// Test server Stop method. Test will succeed if server stop returns an error when method is
// called while server has not started.
func (suite *ServerMethodsTestSuite) TestServerStopErrorSrvNotStarted() {
	srv := newTestServer(suite.T(), context.Background(), newEchoRoomsHandler())
	require.Error(suite.T(), srv.Stop())
}

// # Description
//
// Test NewServer input checks.
func (suite *ServerMethodsTestSuite) TestNewServerErrors() {
	_, err := NewServer(context.Background(), nil, nil, nil, nil, nil, nil, nil)
	require.Error(suite.T(), err)
	_, err = NewServer(context.Background(), nil, newEchoRoomsHandler(), nil, NewServerConfigurationOptions().WithOutboxCapacity(0), nil, nil, nil)
	require.Error(suite.T(), err)
}

// # Description
//
// Test CloseConnections on a non-started server. Test will succeed if method completes without
// error.
func (suite *ServerMethodsTestSuite) TestCloseConnectionsOnNotStartedSrv() {
	srv := newTestServer(suite.T(), context.Background(), newEchoRoomsHandler())
	srv.CloseConnections(wsframe.CloseGoingAway, "")
}

/*************************************************************************************************/
/* TEST FEATURES                                                                                 */
/*************************************************************************************************/

// Test the handshake vector and the echo of text and binary messages.
func (suite *ServerFeaturesTestSuite) TestEcho() {
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	conn, res, err := websocket.Dial(ctx, suite.url("/echo"), nil)
	require.NoError(suite.T(), err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Equal(suite.T(), http.StatusSwitchingProtocols, res.StatusCode)
	require.NoError(suite.T(), conn.Write(ctx, websocket.MessageText, []byte("hello")))
	typ, data, err := conn.Read(ctx)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), websocket.MessageText, typ)
	require.Equal(suite.T(), "hello", string(data))
	require.NoError(suite.T(), conn.Write(ctx, websocket.MessageBinary, []byte{0x00, 0x01, 0xff}))
	typ, data, err = conn.Read(ctx)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), websocket.MessageBinary, typ)
	require.Equal(suite.T(), []byte{0x00, 0x01, 0xff}, data)
}

// Test a client initiated close handshake.
func (suite *ServerFeaturesTestSuite) TestClientClose() {
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, suite.url("/echo"), nil)
	require.NoError(suite.T(), err)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	suite.expectClosed(closeInfo{code: wsframe.CloseNormalClosure, reason: "bye"})
}

// Test a rejected connection is closed with 1008.
func (suite *ServerFeaturesTestSuite) TestRejected() {
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, suite.url("/forbidden"), nil)
	require.NoError(suite.T(), err)
	_, _, err = conn.Read(ctx)
	require.Equal(suite.T(), websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

// Test an oversized message is refused with 1009.
func (suite *ServerFeaturesTestSuite) TestMessageTooBig() {
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, suite.url("/echo"), nil)
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), conn.Write(ctx, websocket.MessageBinary, make([]byte, 8192)))
	_, _, err = conn.Read(ctx)
	require.Equal(suite.T(), websocket.StatusMessageTooBig, websocket.CloseStatus(err))
	suite.expectClosed(closeInfo{code: wsframe.CloseMessageTooBig, reason: "message too big"})
}

// Test a broadcast reaches every member of a room and rooms are pruned on disconnect.
func (suite *ServerFeaturesTestSuite) TestRoomBroadcast() {
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	first, _, err := websocket.Dial(ctx, suite.url("/rooms/lobby"), nil)
	require.NoError(suite.T(), err)
	defer first.Close(websocket.StatusNormalClosure, "")
	second, _, err := websocket.Dial(ctx, suite.url("/rooms/lobby"), nil)
	require.NoError(suite.T(), err)
	require.Eventually(suite.T(), func() bool { return suite.srv.Rooms().Size("lobby") == 2 }, testWait, 10*time.Millisecond)
	result, err := suite.srv.Broadcast(ctx, "lobby", Message{Type: TextMessage, Data: []byte("hello lobby")})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 2, result.Delivered)
	for _, conn := range []*websocket.Conn{first, second} {
		_, data, err := conn.Read(ctx)
		require.NoError(suite.T(), err)
		require.Equal(suite.T(), "hello lobby", string(data))
	}
	_ = second.Close(websocket.StatusNormalClosure, "")
	require.Eventually(suite.T(), func() bool { return suite.srv.Rooms().Size("lobby") == 1 }, testWait, 10*time.Millisecond)
}

// Test a non-upgrade request is rejected with 400.
func (suite *ServerFeaturesTestSuite) TestHandshakeRejected() {
	res, err := http.Get("http://" + suite.srv.Addr() + "/echo")
	require.NoError(suite.T(), err)
	defer res.Body.Close()
	require.Equal(suite.T(), http.StatusBadRequest, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(suite.T(), err)
	require.True(suite.T(), strings.HasPrefix(string(body), "Bad Request: "))
}

// Test a frame sent together with the upgrade request is not lost.
func (suite *ServerFeaturesTestSuite) TestFrameWithUpgradeRequest() {
	raw, err := net.DialTimeout("tcp", suite.srv.Addr(), testWait)
	require.NoError(suite.T(), err)
	defer raw.Close()
	require.NoError(suite.T(), raw.SetDeadline(time.Now().Add(testWait)))
	frame, err := wsframe.EncodeMasked(wsframe.OpText, true, []byte("eager"), [4]byte{9, 8, 7, 6})
	require.NoError(suite.T(), err)
	request := "GET /echo HTTP/1.1\r\n" +
		"Host: " + suite.srv.Addr() + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	_, err = raw.Write(append([]byte(request), frame...))
	require.NoError(suite.T(), err)
	reader := bufio.NewReader(raw)
	res, err := http.ReadResponse(reader, nil)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), http.StatusSwitchingProtocols, res.StatusCode)
	require.Equal(suite.T(), "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", res.Header.Get("Sec-WebSocket-Accept"))
	// Echo
	header := make([]byte, 2)
	_, err = io.ReadFull(reader, header)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), byte(0x81), header[0])
	require.Equal(suite.T(), byte(len("eager")), header[1])
	payload := make([]byte, len("eager"))
	_, err = io.ReadFull(reader, payload)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "eager", string(payload))
}

// Test CloseConnections closes every open connection with the provided status.
func (suite *ServerFeaturesTestSuite) TestCloseConnections() {
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, suite.url("/echo"), nil)
	require.NoError(suite.T(), err)
	require.Eventually(suite.T(), func() bool { return suite.srv.ConnectionCount() > 0 }, testWait, 10*time.Millisecond)
	suite.srv.CloseConnections(wsframe.CloseServiceRestart, "restart")
	_, _, err = conn.Read(ctx)
	require.Equal(suite.T(), websocket.StatusCode(1012), websocket.CloseStatus(err))
	suite.expectClosed(closeInfo{code: wsframe.CloseServiceRestart, reason: "restart"})
}
