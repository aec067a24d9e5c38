package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/menta2k/image-search/pkg/indexer"
	"github.com/menta2k/image-search/pkg/types"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message types sent over the indexing socket
const (
	MsgProgress = "progress"
	MsgWarning  = "warning"
	MsgDone     = "done"
	MsgError    = "error"
)

// ProgressMessage is one frame of the indexing stream
type ProgressMessage struct {
	Type       string         `json:"type"`
	Index      int            `json:"index,omitempty"`
	Total      int            `json:"total,omitempty"`
	Filename   string         `json:"filename,omitempty"`
	Detections int            `json:"detections"`
	Message    string         `json:"message,omitempty"`
	Code       int            `json:"code,omitempty"`
	Result     *IndexResponse `json:"result,omitempty"`
}

func progressMessage(ev indexer.Event) ProgressMessage {
	msg := ProgressMessage{
		Type:       MsgProgress,
		Index:      ev.Index,
		Total:      ev.Total,
		Filename:   ev.Filename,
		Detections: ev.Detections,
		Message:    fmt.Sprintf("%s - %d object(s) found", ev.Filename, ev.Detections),
	}
	if ev.Err != nil {
		msg.Type = MsgWarning
		msg.Message = ev.Err.Error()
	}
	return msg
}

// handleIndexSocket runs one indexing run per connection. The client sends
// an IndexRequest as its first message and receives a progress frame per
// image followed by a done or error frame.
func (s *Server) handleIndexSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Error("websocket upgrade error", "error", err)
			return
		}
		defer conn.Close()

		var req IndexRequest
		if err := conn.ReadJSON(&req); err != nil {
			s.log.Warn("invalid index request", "error", err)
			s.sendError(conn, fmt.Errorf("%w: invalid request: %v", types.ErrInvalidInput, err))
			return
		}
		if strings.TrimSpace(req.Folder) == "" {
			s.sendError(conn, fmt.Errorf("%w: folder is required", types.ErrInvalidInput))
			return
		}

		// drain control frames; a vanished client only stops the stream
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		gone := false
		send := func(msg ProgressMessage) {
			if gone {
				return
			}
			select {
			case <-closed:
				gone = true
				return
			default:
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug("websocket write failed", "error", err)
				gone = true
			}
		}

		report, err := s.runIndex(req.Folder, req.Query, func(ev indexer.Event) {
			send(progressMessage(ev))
		})
		if err != nil {
			if !gone {
				s.sendError(conn, err)
			}
			return
		}

		resp := newIndexResponse(report)
		send(ProgressMessage{
			Type:    MsgDone,
			Message: fmt.Sprintf("Processed %d image(s). Results saved to %s", resp.Records, resp.StorePath),
			Result:  &resp,
		})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}
}

func (s *Server) sendError(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(ProgressMessage{
		Type:    MsgError,
		Code:    statusFor(err),
		Message: err.Error(),
	})
}
