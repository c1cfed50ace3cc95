package demochat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gbdevw/gowsrt/pkg/wsengine"
	"github.com/gbdevw/gowsrt/pkg/wsrooms"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/sugawarayuuta/sonnet"
)

/*************************************************************************************************/
/* TEST SUITE                                                                                    */
/*************************************************************************************************/

// Unit test suite for Application request handling
type ApplicationUnitTestSuite struct {
	suite.Suite
	app     *Application
	session *SessionMock
}

// Run ApplicationUnitTestSuite test suite
func TestApplicationUnitTestSuite(t *testing.T) {
	suite.Run(t, new(ApplicationUnitTestSuite))
}

// ApplicationUnitTestSuite - Before each test
func (suite *ApplicationUnitTestSuite) SetupTest() {
	suite.app = NewApplication(nil, nil)
	suite.session = NewSessionMock()
	suite.session.On("ID").Return("s1").Maybe()
	suite.session.On("SendText", mock.Anything).Return(nil).Maybe()
}

// Send a text request to the application
func (suite *ApplicationUnitTestSuite) request(text string) {
	suite.app.handleMessage(context.Background(), suite.session, wsengine.Message{Type: wsengine.TextMessage, Data: []byte(text)})
}

// Unmarshal the last text sent to the session into target
func (suite *ApplicationUnitTestSuite) lastSent(target interface{}) string {
	for i := len(suite.session.Calls) - 1; i >= 0; i-- {
		call := suite.session.Calls[i]
		if call.Method == "SendText" {
			text := call.Arguments.String(0)
			require.NoError(suite.T(), sonnet.Unmarshal([]byte(text), target))
			return text
		}
	}
	require.FailNow(suite.T(), "nothing sent")
	return ""
}

/*************************************************************************************************/
/* TESTS                                                                                         */
/*************************************************************************************************/

// Test accepted and refused paths.
func (suite *ApplicationUnitTestSuite) TestAccept() {
	require.NoError(suite.T(), suite.app.accept("s1", "/"))
	require.NoError(suite.T(), suite.app.accept("s1", "/chat"))
	require.Error(suite.T(), suite.app.accept("s1", "/admin"))
}

// Test a successful join.
func (suite *ApplicationUnitTestSuite) TestJoin() {
	suite.session.On("Join", "lobby").Return(nil)
	suite.request(`{"type":"join_request","reqId":"1","room":"lobby"}`)
	resp := new(JoinResponse)
	suite.lastSent(resp)
	require.Equal(suite.T(), MSG_TYPE_JOIN_RESPONSE, resp.MsgType)
	require.Equal(suite.T(), RESPONSE_STATUS_OK, resp.Status)
	require.Equal(suite.T(), "1", resp.ReqId)
	require.NotNil(suite.T(), resp.Data)
	require.Equal(suite.T(), "lobby", resp.Data.Room)
	require.Nil(suite.T(), resp.Err)
}

// Test a join on a full room.
func (suite *ApplicationUnitTestSuite) TestJoinRoomFull() {
	suite.session.On("Join", "lobby").Return(wsrooms.ErrRoomFull)
	suite.request(`{"type":"join_request","reqId":"2","room":"lobby"}`)
	resp := new(JoinResponse)
	suite.lastSent(resp)
	require.Equal(suite.T(), RESPONSE_STATUS_ERROR, resp.Status)
	require.NotNil(suite.T(), resp.Err)
	require.Equal(suite.T(), ERROR_ROOM_FULL, resp.Err.Code)
	require.Equal(suite.T(), "2", resp.Err.ReqId)
	require.Nil(suite.T(), resp.Data)
}

// Test leave with and without membership.
func (suite *ApplicationUnitTestSuite) TestLeave() {
	suite.session.On("Leave", "lobby").Return(true).Once()
	suite.request(`{"type":"leave_request","room":"lobby"}`)
	resp := new(LeaveResponse)
	suite.lastSent(resp)
	require.Equal(suite.T(), RESPONSE_STATUS_OK, resp.Status)
	require.Equal(suite.T(), "lobby", resp.Data.Room)

	suite.session.On("Leave", "lobby").Return(false).Once()
	suite.request(`{"type":"leave_request","room":"lobby"}`)
	resp = new(LeaveResponse)
	suite.lastSent(resp)
	require.Equal(suite.T(), RESPONSE_STATUS_ERROR, resp.Status)
	require.Equal(suite.T(), ERROR_NOT_JOINED, resp.Err.Code)
}

// Test say publishes a chat message to the other members of the room.
func (suite *ApplicationUnitTestSuite) TestSay() {
	suite.session.On("Rooms").Return([]string{"lobby"})
	isChat := mock.MatchedBy(func(msg wsengine.Message) bool {
		chat := new(Chat)
		if err := sonnet.Unmarshal(msg.Data, chat); err != nil {
			return false
		}
		return msg.Type == wsengine.TextMessage &&
			chat.MsgType == MSG_TYPE_CHAT &&
			chat.Room == "lobby" &&
			chat.From == "s1" &&
			chat.Text == "hello"
	})
	suite.session.On("Broadcast", mock.Anything, "lobby", isChat).Return(wsrooms.BroadcastResult{Delivered: 2, Failed: 1}, nil)
	suite.request(`{"type":"say_request","reqId":"3","room":"lobby","text":"hello"}`)
	resp := new(SayResponse)
	suite.lastSent(resp)
	require.Equal(suite.T(), RESPONSE_STATUS_OK, resp.Status)
	require.Equal(suite.T(), "3", resp.ReqId)
	require.Equal(suite.T(), &SayResponseData{Room: "lobby", Delivered: 2, Failed: 1}, resp.Data)
	suite.session.AssertExpectations(suite.T())
}

// Test say to a room which has not been joined.
func (suite *ApplicationUnitTestSuite) TestSayNotJoined() {
	suite.session.On("Rooms").Return([]string{"other"})
	suite.request(`{"type":"say_request","room":"lobby","text":"hello"}`)
	resp := new(SayResponse)
	suite.lastSent(resp)
	require.Equal(suite.T(), RESPONSE_STATUS_ERROR, resp.Status)
	require.Equal(suite.T(), ERROR_NOT_JOINED, resp.Err.Code)
	suite.session.AssertNotCalled(suite.T(), "Broadcast", mock.Anything, mock.Anything, mock.Anything)
}

// Test say when the broadcast fails.
func (suite *ApplicationUnitTestSuite) TestSayBroadcastError() {
	suite.session.On("Rooms").Return([]string{"lobby"})
	suite.session.On("Broadcast", mock.Anything, "lobby", mock.Anything).Return(wsrooms.BroadcastResult{}, fmt.Errorf("boom"))
	suite.request(`{"type":"say_request","room":"lobby","text":"hello"}`)
	resp := new(SayResponse)
	suite.lastSent(resp)
	require.Equal(suite.T(), RESPONSE_STATUS_ERROR, resp.Status)
	require.Equal(suite.T(), ERROR_INTERNAL, resp.Err.Code)
}

// Test echo and echo with a requested error.
func (suite *ApplicationUnitTestSuite) TestEcho() {
	suite.request(`{"type":"echo_request","reqId":"4","echo":"ping"}`)
	resp := new(EchoResponse)
	suite.lastSent(resp)
	require.Equal(suite.T(), RESPONSE_STATUS_OK, resp.Status)
	require.Equal(suite.T(), "ping", resp.Data.Echo)
	require.Equal(suite.T(), "4", resp.ReqId)

	suite.request(`{"type":"echo_request","reqId":"5","echo":"ping","err":true}`)
	resp = new(EchoResponse)
	suite.lastSent(resp)
	require.Equal(suite.T(), RESPONSE_STATUS_ERROR, resp.Status)
	require.Equal(suite.T(), ERROR_ECHO_ASKED_BY_CLIENT, resp.Err.Code)
	require.Nil(suite.T(), resp.Data)
}

// Test rooms lists the joined rooms and renders an empty list as [].
func (suite *ApplicationUnitTestSuite) TestRooms() {
	suite.session.On("Rooms").Return([]string{"a", "b"}).Once()
	suite.request(`{"type":"rooms_request","reqId":"6"}`)
	resp := new(RoomsResponse)
	suite.lastSent(resp)
	require.Equal(suite.T(), RESPONSE_STATUS_OK, resp.Status)
	require.Equal(suite.T(), []string{"a", "b"}, resp.Data.Rooms)

	suite.session.On("Rooms").Return([]string(nil)).Once()
	suite.request(`{"type":"rooms_request"}`)
	raw := suite.lastSent(new(RoomsResponse))
	require.Contains(suite.T(), raw, `"rooms":[]`)
}

// Test malformed, invalid and unknown requests are answered with an error message.
func (suite *ApplicationUnitTestSuite) TestBadRequests() {
	tests := []struct {
		name  string
		msg   wsengine.Message
		code  string
		reqId string
	}{
		{name: "binary", msg: wsengine.Message{Type: wsengine.BinaryMessage, Data: []byte{0x01}}, code: ERROR_BAD_REQUEST},
		{name: "not json", msg: wsengine.Message{Type: wsengine.TextMessage, Data: []byte("hello")}, code: ERROR_UNKNOWN_MESSAGE_TYPE},
		{name: "unknown type", msg: wsengine.Message{Type: wsengine.TextMessage, Data: []byte(`{"type":"dance"}`)}, code: ERROR_UNKNOWN_MESSAGE_TYPE},
		{name: "missing room", msg: wsengine.Message{Type: wsengine.TextMessage, Data: []byte(`{"type":"join_request","reqId":"7"}`)}, code: ERROR_BAD_REQUEST, reqId: "7"},
		{name: "missing text", msg: wsengine.Message{Type: wsengine.TextMessage, Data: []byte(`{"type":"say_request","room":"lobby"}`)}, code: ERROR_BAD_REQUEST},
	}
	for _, test := range tests {
		suite.Run(test.name, func() {
			suite.app.handleMessage(context.Background(), suite.session, test.msg)
			resp := new(ErrorMessage)
			suite.lastSent(resp)
			require.Equal(suite.T(), MSG_TYPE_ERROR, resp.MsgType)
			require.Equal(suite.T(), test.code, resp.Code)
			require.Equal(suite.T(), test.reqId, resp.ReqId)
		})
	}
}

// Test a failed write does not panic.
func TestApplicationWriteFailure(t *testing.T) {
	app := NewApplication(nil, nil)
	session := NewSessionMock()
	session.On("ID").Return("s1")
	session.On("SendText", mock.Anything).Return(wsengine.ErrConnectionClosed)
	app.handleMessage(context.Background(), session, wsengine.Message{Type: wsengine.TextMessage, Data: []byte(`{"type":"echo_request","echo":"x"}`)})
	session.AssertNumberOfCalls(t, "SendText", 1)
}

/*************************************************************************************************/
/* HEARTBEAT                                                                                     */
/*************************************************************************************************/

// Test a heartbeat is published to the heartbeat room.
func TestPublishHeartbeat(t *testing.T) {
	app := NewApplication(nil, nil)
	publisher := NewPublisherMock()
	isHeartbeat := mock.MatchedBy(func(msg wsengine.Message) bool {
		hb := new(Heartbeat)
		return sonnet.Unmarshal(msg.Data, hb) == nil && hb.MsgType == MSG_TYPE_HEARTBEAT && hb.Uptime != ""
	})
	publisher.On("Broadcast", mock.Anything, ROOM_HEARTBEAT, isHeartbeat).Return(wsrooms.BroadcastResult{Delivered: 3}, nil)
	result, err := app.publishHeartbeat(context.Background(), publisher, time.Now())
	require.NoError(t, err)
	require.Equal(t, 3, result.Delivered)
	publisher.AssertExpectations(t)
}

// Test RunHeartbeat publishes until its context is done.
func TestRunHeartbeat(t *testing.T) {
	app := NewApplication(nil, nil)
	publisher := NewPublisherMock()
	publisher.On("Broadcast", mock.Anything, ROOM_HEARTBEAT, mock.Anything).Return(wsrooms.BroadcastResult{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := app.RunHeartbeat(ctx, publisher, 10*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotEmpty(t, publisher.Calls)
}

// Test RunHeartbeat refuses a non-positive interval.
func TestRunHeartbeatBadInterval(t *testing.T) {
	app := NewApplication(nil, nil)
	require.Error(t, app.RunHeartbeat(context.Background(), NewPublisherMock(), 0))
}
