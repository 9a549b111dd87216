package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/DeSecurity/focused-life-hq/domain"
)

type flushRecorder struct{ *httptest.ResponseRecorder }

func (flushRecorder) Flush() {}

func TestUpdateBrokerNotifyReachesSubscriber(t *testing.T) {
	broker := NewUpdateBroker()
	ch := broker.subscribe("user1")

	broker.Notify("user1")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}

	broker.Notify("other-user")
	select {
	case <-ch:
		t.Fatal("received notification for another user")
	default:
	}

	broker.unsubscribe("user1", ch)
	broker.Notify("user1")
	select {
	case <-ch:
		t.Fatal("received notification after unsubscribe")
	default:
	}
}

func TestStreamBoardPushesSnapshotOnConnect(t *testing.T) {
	store := &mockStore{tasks: []domain.Task{{ID: "1", Title: "t", Status: domain.StatusTodo}}}
	broker := NewUpdateBroker()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	rec := flushRecorder{httptest.NewRecorder()}
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	c := e.NewContext(req, rec)
	handler := streamBoard(store, mockAuth{}, broker)

	errCh := make(chan error, 1)
	go func() { errCh <- handler(c) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") || !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("unexpected SSE framing: %q", body)
	}
	if !strings.Contains(body, `"id":"1"`) {
		t.Fatalf("expected task in snapshot, got %q", body)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", ct)
	}
}

func TestRunUpdateListenerForwardsEvents(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	broker := NewUpdateBroker()
	ch := broker.subscribe("user1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunUpdateListener(ctx, log.New(), rc, "board-updates", broker)
		close(done)
	}()
	// wait for subscription to start
	time.Sleep(50 * time.Millisecond)

	if err := rc.Publish(context.Background(), "board-updates", `{"userId":"user1","entityType":"task"}`).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification forwarded")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not exit")
	}
}
