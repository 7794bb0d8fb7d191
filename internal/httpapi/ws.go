package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsClipMeta optionally precedes a binary clip on the WebSocket.
type wsClipMeta struct {
	Filename string `json:"filename"`
	Language string `json:"language"`
}

// handleTranscribeWS accepts one complete clip per binary message and
// replies with one transcript or error per clip. A text message sets the
// filename and language for the next clip only.
func (r *Router) handleTranscribeWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err, "request_id", RequestID(req.Context()))
		return
	}
	defer conn.Close()

	logger := r.logger.With("request_id", RequestID(req.Context()))
	logger.Info("websocket connected", "remote", req.RemoteAddr)

	var meta wsClipMeta
	for {
		msgType, rd, err := conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		data, err := io.ReadAll(io.LimitReader(rd, r.cfg.MaxUploadBytes+1))
		if err != nil {
			logger.Warn("websocket read failed", "error", err)
			return
		}
		if int64(len(data)) > r.cfg.MaxUploadBytes {
			r.wsRejectTooLarge(conn, req)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			meta = wsClipMeta{}
			if err := json.Unmarshal(data, &meta); err != nil {
				if !r.wsWriteError(conn, req, badRequest("Invalid clip metadata.")) {
					return
				}
			}
		case websocket.BinaryMessage:
			clip := meta
			meta = wsClipMeta{}
			if len(data) == 0 {
				if !r.wsWriteError(conn, req, badRequest("Empty audio message.")) {
					return
				}
				continue
			}
			tr, err := r.transcribe(req.Context(), data, clip.Filename, clip.Language)
			if err != nil {
				if !r.wsWriteError(conn, req, err) {
					return
				}
				continue
			}
			if err := conn.WriteJSON(tr); err != nil {
				logger.Warn("websocket write failed", "error", err)
				return
			}
		}
	}
}

// wsWriteError sends the error body for err and reports whether the
// connection is still usable.
func (r *Router) wsWriteError(conn *websocket.Conn, req *http.Request, err error) bool {
	if req.Context().Err() != nil {
		return false
	}
	status, body := r.classify(err)
	r.logFailure(req, status, err)
	return conn.WriteJSON(body) == nil
}

// wsRejectTooLarge answers an over-limit message with the error body and a
// 1009 close frame. The rest of the message is never read.
func (r *Router) wsRejectTooLarge(conn *websocket.Conn, req *http.Request) {
	err := tooLarge(r.cfg.MaxUploadBytes)
	if !r.wsWriteError(conn, req, err) {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseMessageTooBig, err.Error())
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
