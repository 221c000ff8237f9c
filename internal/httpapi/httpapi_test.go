package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacylights/lacylightsd/internal/pubsub"
	"github.com/lacylights/lacylightsd/internal/service"
	"github.com/lacylights/lacylightsd/internal/universe"
)

func newTestRouter() (http.Handler, *universe.Store) {
	store := universe.NewStore(nil)
	svc := service.New(store, pubsub.New())
	return NewRouter(svc, pubsub.New(), Config{CORSOrigin: "*"}), store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestRouter()
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetDmxUniverseMissing(t *testing.T) {
	h, _ := newTestRouter()
	rec := doJSON(t, h, http.MethodGet, "/api/v1/universes/0/1/dmx", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UNIVERSE_MISSING", body.Code)
}

func TestHandleRegisterThenGetDmx(t *testing.T) {
	h, _ := newTestRouter()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/universes/0/1/register", registerRequest{
		ClientID: "client-a",
		Action:   "REGISTER",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/universes/0/1/dmx", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []byte `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, 512)
}

func TestHandleUpdateDmxThenGet(t *testing.T) {
	h, _ := newTestRouter()

	doJSON(t, h, http.MethodPost, "/api/v1/universes/0/2/register", registerRequest{
		ClientID: "client-a",
		Action:   "REGISTER",
	})

	rec := doJSON(t, h, http.MethodPut, "/api/v1/universes/0/2/dmx", updateDmxRequest{
		ClientID: "client-a",
		Data:     []byte{9, 8, 7},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/universes/0/2/dmx", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []byte `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []byte{9, 8, 7}, body.Data[:3])
}

func TestHandleRegisterInvalidAction(t *testing.T) {
	h, _ := newTestRouter()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/universes/0/3/register", registerRequest{
		ClientID: "client-a",
		Action:   "BOGUS",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSetNameUniverseMissing(t *testing.T) {
	h, _ := newTestRouter()
	rec := doJSON(t, h, http.MethodPut, "/api/v1/universes/0/4/name", setNameRequest{Name: "Main Stage"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSetNameRenames(t *testing.T) {
	h, store := newTestRouter()
	store.GetOrCreate(universe.ID{Net: 0, Num: 5})

	rec := doJSON(t, h, http.MethodPut, "/api/v1/universes/0/5/name", setNameRequest{Name: "Main Stage"})
	require.Equal(t, http.StatusOK, rec.Code)

	u, ok := store.Get(universe.ID{Net: 0, Num: 5})
	require.True(t, ok)
	assert.Equal(t, "Main Stage", u.Name())
}

func TestHandleSetMergeModeInvalidMode(t *testing.T) {
	h, store := newTestRouter()
	store.GetOrCreate(universe.ID{Net: 0, Num: 6})

	rec := doJSON(t, h, http.MethodPut, "/api/v1/universes/0/6/merge-mode", setMergeModeRequest{Mode: "XTP"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSetMergeModeAccepted(t *testing.T) {
	h, store := newTestRouter()
	store.GetOrCreate(universe.ID{Net: 0, Num: 7})

	rec := doJSON(t, h, http.MethodPut, "/api/v1/universes/0/7/merge-mode", setMergeModeRequest{Mode: "LTP"})
	require.Equal(t, http.StatusOK, rec.Code)

	u, ok := store.Get(universe.ID{Net: 0, Num: 7})
	require.True(t, ok)
	assert.Equal(t, universe.LTP, u.MergeMode())
}

func TestUniverseIDFromRequestBadSegment(t *testing.T) {
	h, _ := newTestRouter()
	rec := doJSON(t, h, http.MethodGet, "/api/v1/universes/abc/1/dmx", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
