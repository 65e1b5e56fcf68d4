package api

import (
	"context"
	"net/http"
	"time"

	"StoryboardVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// watchClose cancels once the peer goes away. Incoming messages are ignored.
func watchClose(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// 会话进度 WebSocket 推送：先推送当前快照，之后每次变更推送最新快照
func (h *SessionHandler) ProgressWebSocket(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	go watchClose(conn, cancel)

	sub := s.Subscribe()
	defer sub.Close()

	if err := writeJSON(conn, s.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Ready():
			for {
				snap, ok := sub.Next()
				if !ok {
					break
				}
				if err := writeJSON(conn, snap); err != nil {
					return
				}
			}
		}
	}
}

type playerFrame struct {
	service.Frame

	gen int
}

// 播放器 WebSocket：按固定间隔推送当前应显示的图片，图片列表变化时从第一张重新开始
func (h *SessionHandler) PlayerWebSocket(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	go watchClose(conn, cancel)

	sub := s.Subscribe()
	defer sub.Close()

	frames := make(chan playerFrame)
	gen := 0
	stop := func() {}
	start := func(images []string) {
		stop()
		gen++
		var pctx context.Context
		pctx, stop = context.WithCancel(ctx)
		if len(images) == 0 {
			go func(g int) {
				select {
				case frames <- playerFrame{gen: g}:
				case <-pctx.Done():
				}
			}(gen)
			return
		}
		go h.Player.Run(pctx, images, func(g int) func(service.Frame) {
			return func(f service.Frame) {
				select {
				case frames <- playerFrame{Frame: f, gen: g}:
				case <-pctx.Done():
				}
			}
		}(gen))
	}
	defer func() { stop() }()

	images := s.Images()
	start(images)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Ready():
			latest := images
			for {
				snap, ok := sub.Next()
				if !ok {
					break
				}
				latest = snap.Images
			}
			if !sameImages(images, latest) {
				images = latest
				start(images)
			}
		case f := <-frames:
			if f.gen != gen {
				continue
			}
			if err := writeJSON(conn, f); err != nil {
				return
			}
		}
	}
}

func sameImages(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
