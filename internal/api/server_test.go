package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeminer/freeminer-sub007/internal/auth"
	"github.com/freeminer/freeminer-sub007/internal/config"
	"github.com/freeminer/freeminer-sub007/internal/diagnostics"
	"github.com/freeminer/freeminer-sub007/internal/eventbus"
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
	"github.com/freeminer/freeminer-sub007/internal/world"
	"github.com/freeminer/freeminer-sub007/internal/world/object"
)

type testObject struct {
	object.BaseObject
}

func (o *testObject) Type() object.Type                 { return object.TypeEntity }
func (o *testObject) Step(float64, bool)                {}
func (o *testObject) GetStaticData() voxel.StaticObject { return voxel.StaticObject{} }
func (o *testObject) IsStaticAllowed() bool             { return false }

func newTestServer(t *testing.T, bus eventbus.EventBus) (*Server, *world.Environment) {
	t.Helper()
	env := world.NewEnvironment(world.Options{
		Simulation:  config.Default().Simulation,
		Diagnostics: diagnostics.New(),
		Seed:        1,
	})
	require.NoError(t, env.LoadMeta(context.Background()))
	return NewServer(Config{Env: env, Bus: bus}), env
}

func getJSON(t *testing.T, s *Server, path string) (int, GenericResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp GenericResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStatusAndObjects(t *testing.T) {
	s, env := newTestServer(t, nil)
	obj := &testObject{}
	obj.SetBasePosition(vec.V3f{15, 25, 35})
	id := env.AddActiveObject(obj)
	require.NotZero(t, id)

	code, resp := getJSON(t, s, "/api/v1/status")
	require.Equal(t, http.StatusOK, code)
	status, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, status, "environment")
	assert.Contains(t, status, "server")

	code, resp = getJSON(t, s, "/api/v1/objects")
	require.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 1, data["total"])
	objects := data["objects"].([]interface{})
	first := objects[0].(map[string]interface{})
	assert.EqualValues(t, id, first["id"])
	assert.Equal(t, []interface{}{1.5, 2.5, 3.5}, first["pos"], "позиция отдается в нодах")
}

func TestActiveBlocksAndDiagnostics(t *testing.T) {
	s, env := newTestServer(t, nil)
	env.Diagnostics().SetCollisionProblems()

	code, resp := getJSON(t, s, "/api/v1/blocks/active")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, resp.Data.(map[string]interface{})["total"])

	code, resp = getJSON(t, s, "/api/v1/diagnostics")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["collision_problems"])
}

func TestEndpointsWithoutEnvironment(t *testing.T) {
	s := NewServer(Config{})
	code, resp := getJSON(t, s, "/api/v1/objects")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Success)

	code, _ = getJSON(t, s, "/ws/events")
	assert.Equal(t, http.StatusServiceUnavailable, code, "без шины поток событий недоступен")
}

func TestTokenAuth(t *testing.T) {
	tm, err := auth.NewTokenManager("", time.Minute)
	require.NoError(t, err)
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)

	s := NewServer(Config{Auth: auth.NewAuthenticator(tm, "admin", hash)})

	code, _ := getJSON(t, s, "/api/v1/status")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = getJSON(t, s, "/health")
	assert.Equal(t, http.StatusOK, code, "health доступен без токена")

	login := func(body string) (int, GenericResponse) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		s.Handler().ServeHTTP(rec, req)
		var resp GenericResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return rec.Code, resp
	}

	code, _ = login(`{"user":"admin","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = login(`{"user":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := login(`{"user":"admin","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, code)
	token := resp.Data.(map[string]interface{})["token"].(string)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	getJSON(t, s, "/health")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin_api_http_request_duration_seconds")
}

func TestEventStream(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	defer bus.Close()
	s, _ := newTestServer(t, bus)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?types=block_activated"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Подписка появляется после апгрейда, поэтому публикуем до получения
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				for _, typ := range []string{world.EventObjectMessage, world.EventBlockActivated} {
					ev, err := eventbus.NewEnvelope("env", typ, world.BlockActivatedEvent{X: 1, Y: 2, Z: 3, DTimeS: 5})
					if err == nil {
						_ = bus.Publish(context.Background(), ev)
					}
				}
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var got streamEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, world.EventBlockActivated, got.Type, "фильтр types пропускает только запрошенные события")
	assert.Equal(t, "env", got.Source)
	assert.NotNil(t, got.Data)
}
