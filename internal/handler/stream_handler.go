package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/skillport/internal/authstate"
	"github.com/hitoshi/skillport/internal/metrics"
	"github.com/hitoshi/skillport/internal/middleware"
	"github.com/hitoshi/skillport/internal/model"
	"github.com/hitoshi/skillport/internal/policy"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	streamEventBuffer        = 16
)

// SessionSourceFactory はクライアントのセッショントークンに束縛されたセッションソースを生成する。
type SessionSourceFactory func(token string) authstate.SessionSource

// StreamHandler は認証状態をServer-Sent Eventsで配信するハンドラー。
// 接続ごとにauthstate.Storeをマウントし、切断時にアンマウントする。
type StreamHandler struct {
	sources   SessionSourceFactory
	profiles  authstate.ProfileResolver
	metrics   metrics.MetricsCollector
	heartbeat time.Duration
}

// NewStreamHandler はStreamHandlerを生成する。
func NewStreamHandler(sources SessionSourceFactory, profiles authstate.ProfileResolver, mc metrics.MetricsCollector) *StreamHandler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &StreamHandler{
		sources:   sources,
		profiles:  profiles,
		metrics:   mc,
		heartbeat: defaultHeartbeatInterval,
	}
}

// streamEvent はSSEで送る1イベント。
type streamEvent struct {
	name string
	data any
}

// navigateEvent はnavigateイベントのペイロード。
type navigateEvent struct {
	Path    string `json:"path"`
	Replace bool   `json:"replace"`
}

// streamClient は1接続分のNavigator、Notifier、Location。
// Storeの所有goroutineから呼ばれ、イベントを書き込みループへ渡す。
// navigateとnotifyの直前には、それを引き起こした状態を同じキューに積む。
type streamClient struct {
	ctx      context.Context
	events   chan streamEvent
	snapshot func() authstate.State

	mu   sync.Mutex
	path string
}

func (c *streamClient) Navigate(path string, replace bool) {
	c.mu.Lock()
	c.path = path
	c.mu.Unlock()
	c.sendAfterState(streamEvent{name: "navigate", data: navigateEvent{Path: path, Replace: replace}})
}

func (c *streamClient) Notify(n model.Notification) {
	c.sendAfterState(streamEvent{name: "notify", data: n})
}

func (c *streamClient) CurrentPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

func (c *streamClient) sendAfterState(ev streamEvent) {
	c.send(streamEvent{name: "state", data: c.snapshot()})
	c.send(ev)
}

func (c *streamClient) send(ev streamEvent) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// Stream は認証状態のイベントストリームを開始する。
// pathクエリはクライアントの現在地（パスとクエリ）。
// GET /auth/stream?path=/login%3Fredirect_uri%3D%252Feducator%252Fcourses
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	location := policy.SafeReturnPath(r.URL.Query().Get("path"))
	if location == "" {
		location = policy.LandingPath
	}

	ctx, cancel := context.WithCancel(r.Context())
	client := &streamClient{
		ctx:    ctx,
		events: make(chan streamEvent, streamEventBuffer),
		path:   location,
	}
	store := authstate.New(authstate.Deps{
		Source:    h.sources(middleware.SessionToken(r)),
		Resolver:  h.profiles,
		Navigator: client,
		Notifier:  client,
		Location:  client,
		Metrics:   h.metrics,
		Logger:    slog.Default().With(slog.String("component", "auth_stream")),
	})
	client.snapshot = store.Snapshot
	defer func() {
		cancel()
		store.Close()
	}()

	states, _ := store.Subscribe()

	rc := http.NewResponseController(w)
	// SSEはサーバーのWriteTimeoutの対象外とする
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Warn("streaming not supported", slog.String("error", err.Error()))
		return
	}

	store.Start(ctx)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	// 同じ状態はstatesとclient.eventsの両方から届くことがあるため、直前に書いた状態と同じなら送らない
	var last authstate.State
	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if st == last {
				continue
			}
			last = st
			err = writeEvent(w, streamEvent{name: "state", data: st})
		case ev := <-client.events:
			if st, ok := ev.data.(authstate.State); ok {
				if st == last {
					continue
				}
				last = st
			}
			err = writeEvent(w, ev)
		case <-ticker.C:
			_, err = fmt.Fprint(w, ": ping\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			slog.Debug("auth stream closed", slog.String("error", err.Error()))
			return
		}
	}
}

// writeEvent はSSE形式で1イベントを書き込む。
func writeEvent(w http.ResponseWriter, ev streamEvent) error {
	data, err := json.Marshal(ev.data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.name, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data)
	return err
}
