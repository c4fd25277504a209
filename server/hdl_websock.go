/******************************************************************************
 *
 *  Description :
 *
 *    Handler of websocket connections. Each binary frame carries exactly
 *    one request; the reply goes back as one binary frame. Shares the
 *    dispatcher with the raw TCP listener in session.go.
 *
 *****************************************************************************/

package main

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-im/parley/server/logs"
)

const (
	// Time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// Frames larger than any legal request are rejected outright.
	wsMaxFrameSize = 1 << 22
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Requests are not authenticated, same as the raw TCP listener.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWebSocket upgrades the connection and runs the frame loop until
// the peer goes away.
func serveWebSocket(wrt http.ResponseWriter, req *http.Request, disp *Dispatcher) {
	ws, err := upgrader.Upgrade(wrt, req, nil)
	if err != nil {
		logs.Err.Println("ws: failed to upgrade", req.RemoteAddr, err)
		return
	}

	sid := req.RemoteAddr
	statsInc("LiveSessions", 1)
	statsInc("TotalSessions", 1)
	defer func() {
		statsInc("LiveSessions", -1)
		ws.Close()
	}()

	ws.SetReadLimit(wsMaxFrameSize)
	logs.Info.Println("ws: session started", sid)

	for {
		mt, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logs.Err.Println("ws: read failed", sid, err)
			} else {
				logs.Info.Println("ws: session closed", sid)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			logs.Warn.Println("ws: dropping non-binary frame from", sid)
			continue
		}

		var reply bytes.Buffer
		if err := disp.Dispatch(bytes.NewReader(raw), &reply); err != nil {
			logs.Warn.Println("ws: malformed request from", sid, "-", err)
			return
		}

		ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := ws.WriteMessage(websocket.BinaryMessage, reply.Bytes()); err != nil {
			logs.Err.Println("ws: write failed", sid, err)
			return
		}
	}
}
