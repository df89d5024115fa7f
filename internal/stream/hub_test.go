package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chillerhub/internal/models"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, _ := strconv.ParseInt(r.URL.Query().Get("org"), 10, 64)
		hub.ServeWS(w, r, orgID)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, org int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?org=" + strconv.FormatInt(org, 10)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func alertFor(org int64) *models.AlertEnvelope {
	event := &models.AlertEvent{
		ID:             9,
		OrganizationID: org,
		Severity:       models.SeverityWarning,
		MetricKey:      "power_kw",
		MetricValue:    120,
		Message:        "High power: power_kw 120.00 GT 100.00",
	}
	return models.NewAlertEnvelope(event, org, 10, "node-a").WithRule("High power", nil)
}

func TestHub_DeliversOnlyToOwnOrganization(t *testing.T) {
	hub, srv := startHub(t)
	mine := dial(t, srv, 1)
	other := dial(t, srv, 2)
	waitForClients(t, hub, 2)

	hub.PublishAlert(alertFor(1))

	mine.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := mine.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frame struct {
		Type    string       `json:"type"`
		Payload AlertPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	if frame.Type != "alert" || frame.Payload.Event.ID != 9 || frame.Payload.RuleName != "High power" {
		t.Errorf("frame = %+v", frame)
	}

	other.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("client of another organization received the alert")
	}
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, 1)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_PublishIgnoresEmptyEnvelope(t *testing.T) {
	hub := NewHub()
	hub.PublishAlert(nil)
	hub.PublishAlert(&models.AlertEnvelope{})
	if len(hub.broadcast) != 0 {
		t.Errorf("queued %d frames for empty envelopes", len(hub.broadcast))
	}
}

func TestHub_PublishDoesNotBlockWithoutRun(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(hub.broadcast)+10; i++ {
			hub.PublishAlert(alertFor(1))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishAlert blocked on a saturated hub")
	}
}
