package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/gear6io/replicant/client"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/gear6io/replicant/server/config"
	"github.com/gear6io/replicant/server/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.LoadDefaultConfig()
	cfg.Network.Address = config.LOCALHOST_ADDRESS
	cfg.Network.Port = freeUDPPort(t)
	cfg.Metrics.Enabled = false
	cfg.Store.Path = filepath.Join(t.TempDir(), "replicant.db")
	return cfg
}

func TestNew(t *testing.T) {
	t.Run("invalid config is refused", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Game.MaxPlayers = 0

		_, err := New(cfg, zerolog.Nop())
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, config.ErrInvalidGameSettings))
	})

	t.Run("orphaned sessions are closed on startup", func(t *testing.T) {
		cfg := testConfig(t)
		ctx := context.Background()

		st, err := store.Open(ctx, cfg.Store, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, st.OpenSession(ctx, &store.Session{ID: "01ORPHAN", Address: "10.0.0.1:5000", Netmode: "client"}))
		require.NoError(t, st.Close())

		s, err := New(cfg, zerolog.Nop())
		require.NoError(t, err)
		defer s.Shutdown()

		session, err := s.Store().GetSession(ctx, "01ORPHAN")
		require.NoError(t, err)
		assert.Equal(t, store.SessionClosed, session.Status)
		assert.Equal(t, "server restarted", session.Reason)
	})
}

func TestServerLifecycle(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", cfg.Network.Port), s.Addr())

	status := s.GetStatus()
	assert.Equal(t, "server", status.Netmode)
	assert.Zero(t, status.Players)
	assert.Empty(t, status.Peers)

	require.Eventually(t, func() bool {
		return s.GetStatus().Address != ""
	}, 2*time.Second, 10*time.Millisecond, "tick loop never published a snapshot")

	require.NoError(t, s.Shutdown())
}

// handDriven binds s and connects a client without starting either run
// loop; step ticks both once
func handDriven(t *testing.T, cfg *config.Config) (*Server, *client.Client, func()) {
	t.Helper()

	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown() })
	require.NoError(t, s.bind())

	clientCfg := *cfg
	clientCfg.Network.SendInterval = 0
	clientCfg.Client.Server = s.Addr()
	clientCfg.Client.Name = "ada"
	c, err := client.New(&clientCfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Connect())

	step := func() {
		c.Tick(0)
		s.Tick(0, time.Now())
	}
	require.Eventually(t, func() bool {
		step()
		_, err := c.Controller()
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "client never received its controller")
	return s, c, step
}

func TestTickSendsCallsBetweenNetworkTicks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.NetworkRate = 1
	cfg.Network.SendInterval = time.Hour
	s, c, _ := handDriven(t, cfg)

	assert.False(t, s.network.CanSend())
	sent := s.network.Stats().DatagramsSent

	s.rules.Broadcast("between ticks")
	s.Tick(0, s.lastFull.Add(time.Millisecond))
	assert.Equal(t, sent+1, s.network.Stats().DatagramsSent, "an off-tick step still sends to the peer")

	controller, err := c.Controller()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		c.Tick(0)
		return slices.Contains(controller.Announcements(), "between ticks")
	}, 2*time.Second, 10*time.Millisecond, "announcement did not arrive before the next network tick")
}

func TestClientDisconnect(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.Timeout = time.Minute
	s, c, step := handDriven(t, cfg)

	t.Run("status reports the peer round trip", func(t *testing.T) {
		require.Eventually(t, func() bool {
			step()
			body, err := json.Marshal(s.GetStatus())
			if err != nil {
				return false
			}
			return gjson.GetBytes(body, "peers.0.rtt_ms").Float() > 0
		}, 3*time.Second, 10*time.Millisecond)
	})

	require.Equal(t, 1, s.rules.Count())
	c.Disconnect()

	require.Eventually(t, func() bool {
		s.Tick(0, time.Now())
		return s.rules.Count() == 0
	}, time.Second, 5*time.Millisecond, "player stayed until the timeout")
	assert.Empty(t, s.network.Interfaces())

	sessions, err := s.Store().RecentSessions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, store.SessionClosed, sessions[0].Status)
	assert.Equal(t, "disconnected", sessions[0].Reason)
}

func TestRouter(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer s.Shutdown()

	_, err = s.Store().AddBan(context.Background(), "10.0.0.9", "griefing", 0)
	require.NoError(t, err)

	router := s.Router()
	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	t.Run("health", func(t *testing.T) {
		rec := get("/health")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("status", func(t *testing.T) {
		rec := get("/status")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var status Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "server", status.Netmode)
		assert.NotNil(t, status.Peers)
	})

	t.Run("bans", func(t *testing.T) {
		rec := get("/bans")
		require.Equal(t, http.StatusOK, rec.Code)

		var bans []store.Ban
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bans))
		require.Len(t, bans, 1)
		assert.Equal(t, "10.0.0.9", bans[0].Host)
		assert.Equal(t, "griefing", bans[0].Reason)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := get("/metrics")
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "replicant_server_ticks_total")
		assert.Contains(t, body, "replicant_transport_bytes_sent_total")
	})

	t.Run("unknown paths", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get("/nope").Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = freeTCPPort(t)

	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown()

	resp, err := http.Get("http://" + cfg.GetMetricsAddress() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	t.Run("status over http", func(t *testing.T) {
		resp, err := http.Get("http://" + cfg.GetMetricsAddress() + "/status")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.True(t, gjson.ValidBytes(body))

		status := gjson.ParseBytes(body)
		assert.Equal(t, "server", status.Get("netmode").String())
		assert.Equal(t, int64(0), status.Get("players").Int())
		assert.True(t, status.Get("peers").IsArray())
		assert.True(t, status.Get("network").Exists())
	})
}
