package demochat

/*****************************************************************************/
/* BASE STRUCTURES                                                           */
/*****************************************************************************/

// Base struct for a message exchanged between the chat server & client
type Message struct {
	// Mandatory message type indicator
	MsgType string `json:"type" validate:"required"`
}

// Structure that contains data of an error returned by the chat server
type ErrorMessageData struct {
	// Error message
	Message string `json:"message"`
	// Optional error code
	Code string `json:"code,omitempty"`
	// User provided ID for its request
	ReqId string `json:"reqId,omitempty"`
}

// Base structure for a request message from client
type Request struct {
	Message
	// User provided ID for the request. Used to match with response in a async. Request-Response pattern
	ReqId string `json:"reqId,omitempty" validate:"max=64"`
}

// Base structure for a response message from server
type Response struct {
	Message
	// User provided ID for its request
	ReqId string `json:"reqId,omitempty"`
	// Status code -> OK or ERROR
	Status string `json:"status"`
	// Optional error -> must be there if status is ERROR
	Err *ErrorMessageData `json:"error,omitempty"`
}

// Struct for a error message when no other response is applicable
type ErrorMessage struct {
	Message
	ErrorMessageData
}

/*****************************************************************************/
/* JOIN/LEAVE MESSAGES                                                       */
/*****************************************************************************/

// Join request message
type JoinRequest struct {
	Request
	// Room to join
	Room string `json:"room" validate:"required,max=64"`
}

// Data of a JoinResponse
type JoinResponseData struct {
	// Room client has joined
	Room string `json:"room"`
}

// Join response message
type JoinResponse struct {
	Response
	// Optional JoinResponse data
	Data *JoinResponseData `json:"data,omitempty"`
}

// Leave request message
type LeaveRequest struct {
	Request
	// Room to leave
	Room string `json:"room" validate:"required,max=64"`
}

// Data of a LeaveResponse
type LeaveResponseData struct {
	// Room client has left
	Room string `json:"room"`
}

// Leave response message
type LeaveResponse struct {
	Response
	// Optional LeaveResponse data
	Data *LeaveResponseData `json:"data,omitempty"`
}

/*****************************************************************************/
/* SAY MESSAGES                                                              */
/*****************************************************************************/

// Say request message: the text is published to every other member of the room
type SayRequest struct {
	Request
	// Target room. Client must have joined it.
	Room string `json:"room" validate:"required,max=64"`
	// Text to publish
	Text string `json:"text" validate:"required,max=4096"`
}

// Data of a SayResponse
type SayResponseData struct {
	// Target room
	Room string `json:"room"`
	// Number of members the text was delivered to
	Delivered int `json:"delivered"`
	// Number of members which could not receive the text
	Failed int `json:"failed"`
}

// Say response message
type SayResponse struct {
	Response
	Data *SayResponseData `json:"data,omitempty"`
}

/*****************************************************************************/
/* ECHO MESSAGES                                                             */
/*****************************************************************************/

// Echo request message
type EchoRequest struct {
	Request
	// Message to be echoed by server
	Echo string `json:"echo"`
	// If true, the server will have to return an error instead of an echo
	Err bool `json:"err,omitempty"`
}

// Data of a EchoResponse message
type EchoResponseData struct {
	// Echoed message
	Echo string `json:"echo"`
}

// EchoResponse message
type EchoResponse struct {
	Response
	Data *EchoResponseData `json:"data,omitempty"`
}

/*****************************************************************************/
/* ROOMS MESSAGES                                                            */
/*****************************************************************************/

// Rooms request message
type RoomsRequest struct {
	Request
}

// Data of a RoomsResponse message
type RoomsResponseData struct {
	// Rooms joined by the client, sorted
	Rooms []string `json:"rooms"`
}

// RoomsResponse message
type RoomsResponse struct {
	Response
	Data *RoomsResponseData `json:"data,omitempty"`
}

/*****************************************************************************/
/* PUBLICATIONS                                                              */
/*****************************************************************************/

// Chat publication received by the members of a room
type Chat struct {
	Message
	// Room the text was published to
	Room string `json:"room"`
	// ID of the publisher session
	From string `json:"from"`
	// Published text
	Text string `json:"text"`
	// Timestamp of the publication
	Timestamp string `json:"timestamp"`
}

// Heartbeat publication
type Heartbeat struct {
	Message
	// Timestamp of the heartbeat publication
	Timestamp string `json:"timestamp"`
	// Application uptime in seconds
	Uptime string `json:"uptime_seconds"`
}
