package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/seacomm/internal/transport"
)

// receiver applies incoming signaling messages to the DataChannel.
type receiver struct {
	dc     *transport.DataChannel
	conn   *websocket.Conn
	sender *sender
}

// watch reads messages until the WebSocket fails or closes.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("reading signaling message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := r.dc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			if err := r.sender.sendAnswer(); err != nil {
				return err
			}

		case msgTypeAnswer:
			if err := r.dc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("parsing ICE candidate: %w", err)
			}
			if err := r.dc.AddICECandidate(init); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unexpected signaling message type %q", msg.Type)
		}
	}
}
