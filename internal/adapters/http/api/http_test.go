package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keytempo/fanout/internal/adapters/transport"
	"github.com/keytempo/fanout/internal/domain/model"
)

type fakeService struct {
	mu           sync.Mutex
	deltas       []model.Delta
	updates      []model.Update
	activity     []string
	subscribed   []model.SubscriberRecord
	unsubscribed int
	broadcaster  *transport.Broadcaster
}

func newFakeService() *fakeService {
	return &fakeService{broadcaster: transport.New()}
}

func (f *fakeService) DispatchDelta(_ context.Context, d model.Delta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = append(f.deltas, d)
}

func (f *fakeService) DispatchUpdate(_ context.Context, u model.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
}

func (f *fakeService) RecordActivity(_ context.Context, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = append(f.activity, userID)
}

func (f *fakeService) Subscribe(ctx context.Context, rec model.SubscriberRecord) (string, *transport.Subscription) {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, rec)
	f.mu.Unlock()
	return "conn-1", f.broadcaster.Subscribe(ctx, rec.Topic)
}

func (f *fakeService) Unsubscribe(ctx context.Context, _ string, sub *transport.Subscription) {
	f.broadcaster.Unsubscribe(ctx, sub)
	f.mu.Lock()
	f.unsubscribed++
	f.mu.Unlock()
}

func (f *fakeService) GetStats() map[string]interface{} {
	return map[string]interface{}{"running": true, "connections": 0}
}

func (f *fakeService) lastSubscribed() (model.SubscriberRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subscribed) == 0 {
		return model.SubscriberRecord{}, false
	}
	return f.subscribed[len(f.subscribed)-1], true
}

func newTestServer(t *testing.T, svc *fakeService, opts ...ServerOption) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(svc, svc, opts...).Router(context.Background()))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandlePostDelta(t *testing.T) {
	svc := newFakeService()
	srv := newTestServer(t, svc)

	t.Run("accepts a valid delta", func(t *testing.T) {
		body := `{
			"mode": "race", "timeframe": "daily", "language": "en",
			"version": 7, "timestamp": "2026-08-30T12:00:00Z",
			"changes": [{"user_id": "u1", "new_rank": 1, "change_type": "new"}],
			"removed": ["gone"], "top_n": 10
		}`
		resp, err := http.Post(srv.URL+"/deltas", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		require.Len(t, svc.deltas, 1)
		d := svc.deltas[0]
		assert.Equal(t, model.Topic{Mode: "race", Timeframe: "daily", Language: "en"}, d.Topic)
		assert.Equal(t, int64(7), d.Version)
		assert.Equal(t, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), d.Timestamp.UTC())
		assert.Equal(t, []string{"gone"}, d.Removed)
		require.Len(t, d.Changes, 1)
		assert.Equal(t, "u1", d.Changes[0].UserID)
	})

	t.Run("defaults the timestamp when absent", func(t *testing.T) {
		body := `{"mode": "race", "timeframe": "daily", "language": "en", "changes": []}`
		resp, err := http.Post(srv.URL+"/deltas", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.WithinDuration(t, time.Now(), svc.deltas[len(svc.deltas)-1].Timestamp, time.Minute)
	})

	rejects := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing mode", `{"timeframe": "daily", "language": "en"}`},
		{"missing timeframe", `{"mode": "race", "language": "en"}`},
		{"missing language", `{"mode": "race", "timeframe": "daily"}`},
		{"change without user_id", `{"mode": "race", "timeframe": "daily", "language": "en", "changes": [{"new_rank": 1}]}`},
		{"duplicate user_id", `{"mode": "race", "timeframe": "daily", "language": "en", "changes": [{"user_id": "u1", "new_rank": 1}, {"user_id": "u1", "new_rank": 2}]}`},
		{"bad timestamp", `{"mode": "race", "timeframe": "daily", "language": "en", "timestamp": "yesterday"}`},
	}
	for _, tc := range rejects {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			before := len(svc.deltas)
			resp, err := http.Post(srv.URL+"/deltas", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Len(t, svc.deltas, before)

			var e errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.Equal(t, "bad_request", e.Code)
		})
	}
}

func TestHandlePostUpdate(t *testing.T) {
	svc := newFakeService()
	srv := newTestServer(t, svc)

	t.Run("accepts a valid update", func(t *testing.T) {
		body := `{"mode": "race", "timeframe": "weekly", "language": "de",
			"change": {"user_id": "u9", "new_rank": 3, "change_type": "improved"}, "top_n": 25}`
		resp, err := http.Post(srv.URL+"/updates", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		require.Len(t, svc.updates, 1)
		u := svc.updates[0]
		assert.Equal(t, "u9", u.Change.UserID)
		assert.Equal(t, 25, u.TopN)
		assert.False(t, u.Timestamp.IsZero())
	})

	t.Run("rejects an update without a change user", func(t *testing.T) {
		body := `{"mode": "race", "timeframe": "weekly", "language": "de", "change": {"new_rank": 3}}`
		resp, err := http.Post(srv.URL+"/updates", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Len(t, svc.updates, 1)
	})
}

func TestHandlePostActivity(t *testing.T) {
	svc := newFakeService()
	srv := newTestServer(t, svc)

	t.Run("records activity", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/activity", "application/json", strings.NewReader(`{"user_id": "alice"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, []string{"alice"}, svc.activity)
	})

	t.Run("rejects a blank user_id", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/activity", "application/json", strings.NewReader(`{"user_id": "  "}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Len(t, svc.activity, 1)
	})
}

func TestHandleStatsAndHealth(t *testing.T) {
	svc := newFakeService()
	srv := newTestServer(t, svc)

	t.Run("stats", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/stats")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var stats map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
		assert.Equal(t, true, stats["running"])
	})

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var health map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, "ok", health["status"])
	})

	t.Run("metrics endpoint is exposed", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestIngestRateLimit(t *testing.T) {
	svc := newFakeService()
	srv := newTestServer(t, svc, WithIngestLimit(1, 1))

	body := `{"mode": "race", "timeframe": "daily", "language": "en"}`
	first, err := http.Post(srv.URL+"/deltas", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusAccepted, first.StatusCode)

	second, err := http.Post(srv.URL+"/deltas", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	var e errorResponse
	require.NoError(t, json.NewDecoder(second.Body).Decode(&e))
	assert.Equal(t, "rate_limited", e.Code)
}

func TestHandleSubscribe(t *testing.T) {
	t.Run("rejects a stream without mode or language", func(t *testing.T) {
		svc := newFakeService()
		srv := newTestServer(t, svc)

		resp, err := http.Get(srv.URL + "/subscribe?mode=race")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Empty(t, svc.subscribed)
	})

	t.Run("streams routed updates as SSE", func(t *testing.T) {
		svc := newFakeService()
		srv := newTestServer(t, svc)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			srv.URL+"/subscribe?mode=race&timeframe=daily&language=en&user_id=alice", nil)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		rec, ok := svc.lastSubscribed()
		require.True(t, ok)
		assert.Equal(t, "alice", rec.UserID)
		assert.Equal(t, model.TierPassive, rec.Tier)
		assert.Equal(t, model.Topic{Mode: "race", Timeframe: "daily", Language: "en"}, rec.Topic)

		svc.broadcaster.Broadcast(context.Background(), model.Update{
			Topic:  model.Topic{Mode: "race", Timeframe: "daily", Language: "en"},
			Change: model.Change{UserID: "u1", NewRank: 2},
		})

		scanner := bufio.NewScanner(resp.Body)
		var payload string
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				payload = strings.TrimPrefix(line, "data: ")
				break
			}
		}
		require.NotEmpty(t, payload)

		var u model.Update
		require.NoError(t, json.Unmarshal([]byte(payload), &u))
		assert.Equal(t, "u1", u.Change.UserID)
	})

	t.Run("anonymous streams default to the wildcard timeframe and observer tier", func(t *testing.T) {
		svc := newFakeService()
		srv := newTestServer(t, svc)

		ctx, cancel := context.WithCancel(context.Background())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			srv.URL+"/subscribe?mode=race&language=en", nil)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		rec, ok := svc.lastSubscribed()
		require.True(t, ok)
		assert.True(t, rec.Anonymous())
		assert.Equal(t, model.TierObserver, rec.Tier)
		assert.Equal(t, model.TimeframeAll, rec.Topic.Timeframe)

		cancel()
		resp.Body.Close()
	})
}
