package protocol

import (
	"context"
	log "log/slog"
	"sync"

	ws "github.com/gorilla/websocket"
)

type WebSocket struct {
	conn *ws.Conn
	url  string

	writeMu sync.Mutex
	closeMu sync.Once
}

func DialWebSocket(ctx context.Context, url string) (*WebSocket, error) {
	log.Debug("init websocket protocol", "url", url)

	conn, _, err := ws.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	return &WebSocket{conn: conn, url: url}, nil
}

func (web *WebSocket) Write(payload []byte) error {
	log.Debug("Write ws", "msg", string(payload))

	web.writeMu.Lock()
	defer web.writeMu.Unlock()
	return web.conn.WriteMessage(ws.TextMessage, payload)
}

type WsIncomeKind uint

const (
	CONN_CLOSE WsIncomeKind = iota
	READ_FAILURE
	READ_OK
)

type Income struct {
	kind WsIncomeKind
	msg  []byte
	err  error
}

func (web *WebSocket) Read() Income {
	_, msg, err := web.conn.ReadMessage()
	if err != nil {
		if WsIsClosed(err) {
			return Income{kind: CONN_CLOSE, err: err}
		}
		return Income{kind: READ_FAILURE, err: err}
	}

	log.Debug("Read ws", "msg", string(msg))
	return Income{kind: READ_OK, msg: msg}
}

func (web *WebSocket) Close() {
	web.closeMu.Do(func() {
		web.writeMu.Lock()
		_ = web.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
		web.writeMu.Unlock()
		web.conn.Close()
	})
}

func WsIsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
