package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozturkozgurm/overorunder/internal/billing"
	"github.com/ozturkozgurm/overorunder/internal/engine"
	"github.com/ozturkozgurm/overorunder/internal/entitlement"
	"github.com/ozturkozgurm/overorunder/internal/feed"
	"github.com/ozturkozgurm/overorunder/internal/models"
	"github.com/ozturkozgurm/overorunder/internal/signal"
	"github.com/ozturkozgurm/overorunder/internal/store"
	"github.com/ozturkozgurm/overorunder/internal/unlock"
)

type emptySource struct{}

func (emptySource) Fetch(ctx context.Context, dateKey string) ([]models.ContentItem, error) {
	return []models.ContentItem{{ID: "1"}}, nil
}

func startHub(t *testing.T) (*Hub, *engine.Engine, *billing.Memory) {
	t.Helper()

	pub, priv, err := billing.GenerateSigningKey()
	require.NoError(t, err)
	mem := billing.NewMemory(priv, nil)

	persist, err := store.New(t.TempDir())
	require.NoError(t, err)

	svc, err := entitlement.NewService(entitlement.Options{
		Billing:  mem,
		Verifier: entitlement.NewVerifierFromKey(pub),
		Store:    persist,
	})
	require.NoError(t, err)

	ledger := unlock.NewLedger(persist)
	pipeline := signal.NewPipeline(persist, time.Millisecond)
	e := engine.New(engine.Options{
		Store:        persist,
		Entitlements: svc,
		Ledger:       ledger,
		Pipeline:     pipeline,
		Assembler:    feed.NewAssembler(emptySource{}, ledger, pipeline),
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)

	hub := NewHub(e)
	go hub.Run(ctx)
	return hub, e, mem
}

func dial(t *testing.T, hub *Hub) *gws.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *gws.Conn, msgType string) Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed waiting for %q: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("message %q never arrived", msgType)
	return Message{}
}

func TestClientReceivesWelcomeSnapshot(t *testing.T) {
	hub, _, _ := startHub(t)
	conn := dial(t, hub)

	msg := readUntil(t, conn, "welcome")
	raw, err := json.Marshal(msg.Data)
	require.NoError(t, err)

	var decision models.AccessDecision
	require.NoError(t, json.Unmarshal(raw, &decision))
	assert.True(t, decision.TrialActive)
	assert.True(t, decision.CanSeeContent)
}

func TestEngineUpdatesReachClients(t *testing.T) {
	hub, _, mem := startHub(t)
	conn := dial(t, hub)
	readUntil(t, conn, "welcome")

	require.NoError(t, mem.Grant("haftalik_plan"))

	msg := readUntil(t, conn, string(engine.UpdateAccess))
	raw, err := json.Marshal(msg.Data)
	require.NoError(t, err)

	var update engine.Update
	require.NoError(t, json.Unmarshal(raw, &update))
	require.NotNil(t, update.Access)
	assert.True(t, update.Access.Premium)
}

func TestSignalBroadcast(t *testing.T) {
	hub, e, _ := startHub(t)
	conn := dial(t, hub)
	readUntil(t, conn, "welcome")

	inserted, err := e.Ingest(t.Context(), signal.Payload{
		MatchID: "m1", HomeTeam: "Home", AwayTeam: "Away", Prediction: "Over 2.5",
	})
	require.NoError(t, err)
	require.True(t, inserted)

	msg := readUntil(t, conn, string(engine.UpdateSignals))
	raw, err := json.Marshal(msg.Data)
	require.NoError(t, err)

	var update engine.Update
	require.NoError(t, json.Unmarshal(raw, &update))
	require.Len(t, update.Signals, 1)
	assert.Equal(t, "m1", update.Signals[0].ID)
}

func TestPingPong(t *testing.T) {
	hub, _, _ := startHub(t)
	conn := dial(t, hub)
	readUntil(t, conn, "welcome")

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	readUntil(t, conn, "pong")
}

func TestTrySendAfterShutdownDoesNotPanic(t *testing.T) {
	client := &Client{send: make(chan []byte, 1)}

	require.True(t, client.trySend([]byte("one")))
	client.shutdown()

	// The read side may still try to queue a pong while the hub is dropping
	// the client; that send must refuse instead of hitting a closed channel.
	assert.False(t, client.trySend([]byte("two")))
	assert.NotPanics(t, func() { client.shutdown() })
}

func TestSlowConsumerDroppedWithoutKillingBroadcast(t *testing.T) {
	hub, _, mem := startHub(t)

	slow := &Client{hub: hub, send: make(chan []byte), id: "slow"}
	hub.register <- slow

	conn := dial(t, hub)
	readUntil(t, conn, "welcome")

	require.NoError(t, mem.Grant("haftalik_plan"))

	// The healthy client still gets the update while the zero-buffer client
	// is dropped rather than blocking the delivery loop.
	readUntil(t, conn, string(engine.UpdateAccess))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return !hub.clients[slow]
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, slow.trySend([]byte("late")))
}

func TestClientCountTracksDisconnect(t *testing.T) {
	hub, _, _ := startHub(t)
	conn := dial(t, hub)
	readUntil(t, conn, "welcome")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}
