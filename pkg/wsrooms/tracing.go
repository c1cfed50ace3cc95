package wsrooms

// Constants used for tracing purpose.
const (
	// Package name used by lib. tracer
	pkgName = "wsrooms"
	// Package version
	pkgVersion = "0.0.0"

	// Namespace used by spans and attributes
	namespace = "wsrooms"

	// Name of span used to trace Broadcast and BroadcastExcept
	spanBroadcast = namespace + ".broadcast"

	// Attribute used to store the room name
	attrRoom = namespace + ".room"
	// Attribute used to store the broadcast payload length
	attrPayloadLength = namespace + ".payload.length"
	// Attribute used to count successful deliveries
	attrDelivered = namespace + ".delivered"
	// Attribute used to count failed deliveries
	attrFailed = namespace + ".failed"
	// Attribute used to count pruned members
	attrPruned = namespace + ".pruned"
)
