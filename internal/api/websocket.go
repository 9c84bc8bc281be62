package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"strategylab/internal/jobs"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream pushes a job's progress events over a WebSocket until the job
// finishes or is deleted. Events carry no result payload; clients fetch it
// with GET once the job is done.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	subID, events := s.jobs.SubscribeJob(id, 256)
	defer s.jobs.Unsubscribe(subID)

	job, err := s.jobs.Get(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "id", id, "error", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go readPump(conn, closed)

	if err := send(conn, jobs.Event{Type: "snapshot", Job: strip(job)}); err != nil || job.Status.Done() {
		closeNormal(conn)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			// Catch a terminal transition whose event never reached the buffer.
			if cur, err := s.jobs.Get(id); err != nil || cur.Status.Done() {
				evt := jobs.Event{Type: "deleted", Job: jobs.Job{ID: id}}
				if err == nil {
					evt = jobs.Event{Type: "finished", Job: strip(cur)}
				}
				_ = send(conn, evt)
				closeNormal(conn)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			evt.Job = strip(evt.Job)
			if err := send(conn, evt); err != nil {
				s.log.Debug("websocket write", "id", id, "error", err)
				return
			}
			if evt.Type == "deleted" || evt.Job.Status.Done() {
				closeNormal(conn)
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed, and
// closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func send(conn *websocket.Conn, evt jobs.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(evt)
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func strip(j jobs.Job) jobs.Job {
	j.Result = nil
	return j
}
