// Package signaling negotiates the WebRTC DataChannel that links an SDK
// port to a remote port bridge. Offers, answers and ICE candidates travel
// as JSON messages over a short-lived, PIN-protected WebSocket.
package signaling

// msgType identifies the kind of signaling message.
type msgType string

const (
	msgTypeOffer     msgType = "offer"
	msgTypeAnswer    msgType = "answer"
	msgTypeCandidate msgType = "candidate"
)

// message is the JSON structure exchanged over the WebSocket.
type message struct {
	Type      msgType `json:"type"`
	SDP       string  `json:"sdp,omitempty"`
	Candidate string  `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}
