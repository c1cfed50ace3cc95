// Package demochat implements a small chat application on top of wsengine with the following
// features:
//   - join/leave named rooms
//   - say something to every other member of a room
//   - echo with optional user provided request ID. User can also request an error to be returned
//   - list the rooms joined by the caller
//   - heartbeat publications for the members of the heartbeat room
package demochat

// Constants used in messages
const (
	// Message type: error
	MSG_TYPE_ERROR = "error"
	// Message type: join - request
	MSG_TYPE_JOIN_REQUEST = "join_request"
	// Message type: join - response
	MSG_TYPE_JOIN_RESPONSE = "join_response"
	// Message type: leave - request
	MSG_TYPE_LEAVE_REQUEST = "leave_request"
	// Message type: leave - response
	MSG_TYPE_LEAVE_RESPONSE = "leave_response"
	// Message type: say - request
	MSG_TYPE_SAY_REQUEST = "say_request"
	// Message type: say - response
	MSG_TYPE_SAY_RESPONSE = "say_response"
	// Message type: echo - request
	MSG_TYPE_ECHO_REQUEST = "echo_request"
	// Message type: echo - response
	MSG_TYPE_ECHO_RESPONSE = "echo_response"
	// Message type: rooms - request
	MSG_TYPE_ROOMS_REQUEST = "rooms_request"
	// Message type: rooms - response
	MSG_TYPE_ROOMS_RESPONSE = "rooms_response"
	// Message type: chat publication
	MSG_TYPE_CHAT = "chat"
	// Message type: heartbeat publication
	MSG_TYPE_HEARTBEAT = "heartbeat"
	// Room for heartbeats
	ROOM_HEARTBEAT = "heartbeat"
	// Response status OK
	RESPONSE_STATUS_OK = "OK"
	// Response status for an error
	RESPONSE_STATUS_ERROR = "ERROR"
	// Error code used when the room has reached its maximum size
	ERROR_ROOM_FULL = "ROOM_FULL"
	// Error code used when client is not a member of the room it leaves or talks to
	ERROR_NOT_JOINED = "NOT_JOINED"
	// Error code used when client ask echo to return an error
	ERROR_ECHO_ASKED_BY_CLIENT = "ASKED_BY_CLIENT"
	// Error returned when a message could not be handled by the server (either unkown message type or message type is not there)
	ERROR_UNKNOWN_MESSAGE_TYPE = "UNKNOWN_MESSAGE_TYPE"
	// Error returned when a message could not be unmarshalled, is malformatted or is not valid
	ERROR_BAD_REQUEST = "BAD_REQUEST"
	// Error returned when the request could not be completed because of a server side problem
	ERROR_INTERNAL = "INTERNAL_ERROR"
)

// Paths accepted by the application
var acceptedPaths = map[string]struct{}{
	"/":     {},
	"/chat": {},
}

// Constants used for tracing purpose
const (
	demochat_instrumentation_id       = "DemoChat"
	demochat_span_handle              = demochat_instrumentation_id + ".Handle"
	demochat_span_attr_session_id     = "sessionId"
	demochat_span_attr_msg_type       = "type"
	demochat_span_join                = demochat_span_handle + ".Join"
	demochat_span_leave               = demochat_span_handle + ".Leave"
	demochat_span_say                 = demochat_span_handle + ".Say"
	demochat_span_echo                = demochat_span_handle + ".Echo"
	demochat_span_rooms               = demochat_span_handle + ".Rooms"
	demochat_span_attr_room           = "room"
	demochat_span_attr_req_id         = "reqId"
	demochat_span_attr_echo_err       = "returnError"
	demochat_span_attr_delivered      = "delivered"
	demochat_span_attr_failed         = "failed"
	demochat_span_heartbeat           = demochat_instrumentation_id + ".Heartbeat"
	demochat_span_write_response      = demochat_instrumentation_id + ".WriteResponse"
	demochat_span_attr_response_type  = "type"
	demochat_span_attr_response_state = "status"
)
