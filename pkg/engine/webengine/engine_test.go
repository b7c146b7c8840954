package webengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tonkeeper/walletbridge/pkg/engine"
	"github.com/tonkeeper/walletbridge/pkg/storage"
)

func newTestEngine(t *testing.T, store storage.Store) (*Engine, *websocket.Conn) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "walletkit.js")
	require.NoError(t, os.WriteFile(path, []byte("// bundle"), 0o600))

	e := New(zap.NewNop(), Config{BundlePath: path, Store: store, PingInterval: time.Minute})
	t.Cleanup(func() { e.Close() })
	require.NoError(t, e.Initialize(context.Background()))

	server := httptest.NewServer(e.Handler())
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return e, conn
}

func TestEngine_InitializeMissingBundle(t *testing.T) {
	e := New(zap.NewNop(), Config{BundlePath: filepath.Join(t.TempDir(), "nope.js")})
	t.Cleanup(func() { e.Close() })

	var initErr *engine.InitError
	require.ErrorAs(t, e.Initialize(context.Background()), &initErr)
}

func TestEngine_InvokeDeliversEvaluateFrame(t *testing.T) {
	e, conn := newTestEngine(t, nil)

	invokeErr := make(chan error, 1)
	go func() {
		invokeErr <- e.Invoke(context.Background(), "abc-123", "getWallets", nil)
	}()

	var frame evaluateFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "evaluate", frame.Kind)
	require.Equal(t, `window.walletkitDispatch("abc-123", "getWallets", null)`, frame.Script)
	require.NoError(t, <-invokeErr)

	// the host posts the response back as a plain text frame
	response := `{"kind":"response","id":"abc-123","result":[]}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(response)))
	select {
	case msg := <-e.Messages():
		require.JSONEq(t, response, msg)
	case <-time.After(time.Second):
		t.Fatal("response never reached the message stream")
	}
}

func TestEngine_InvokeEscapesParams(t *testing.T) {
	e, conn := newTestEngine(t, nil)

	go e.Invoke(context.Background(), "id-1", "init", []byte(`{"network":"testnet"}`))

	var frame evaluateFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, `window.walletkitDispatch("id-1", "init", "{\"network\":\"testnet\"}")`, frame.Script)
}

func TestEngine_InvokeWithoutHostTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walletkit.js")
	require.NoError(t, os.WriteFile(path, []byte("// bundle"), 0o600))
	e := New(zap.NewNop(), Config{BundlePath: path})
	t.Cleanup(func() { e.Close() })
	require.NoError(t, e.Initialize(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.Invoke(ctx, "id", "getWallets", nil), context.DeadlineExceeded)
}

func TestEngine_StorageFrames(t *testing.T) {
	store := storage.NewMemoryStore()
	_, conn := newTestEngine(t, store)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"kind": "storage", "op": "set", "key": "wallet", "value": "EQabc", "callId": "1",
	}))
	var result storageResultFrame
	require.NoError(t, conn.ReadJSON(&result))
	require.Equal(t, "storage-result", result.Kind)
	require.Equal(t, "1", result.CallID)
	require.Empty(t, result.Error)

	value, ok := store.Get("wallet")
	require.True(t, ok)
	require.Equal(t, "EQabc", value)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"kind": "storage", "op": "get", "key": "wallet", "callId": "2",
	}))
	require.NoError(t, conn.ReadJSON(&result))
	require.Equal(t, "EQabc", result.Value)
	require.True(t, result.Found)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"kind": "storage", "op": "get", "key": "missing", "callId": "3",
	}))
	var missing storageResultFrame
	require.NoError(t, conn.ReadJSON(&missing))
	require.False(t, missing.Found)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"kind": "storage", "op": "explode", "callId": "4",
	}))
	var unknown storageResultFrame
	require.NoError(t, conn.ReadJSON(&unknown))
	require.NotEmpty(t, unknown.Error)
}

func TestEngine_ClosedEngineRejectsInvokes(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Close())
	require.ErrorIs(t, e.Invoke(context.Background(), "id", "getWallets", nil), engine.ErrClosed)
}

func TestEngine_BundleHandler(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	rec := httptest.NewRecorder()
	e.BundleHandler()(rec, httptest.NewRequest(http.MethodGet, "/walletkit.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "// bundle", rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Type"), "javascript")
}
