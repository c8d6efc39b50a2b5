package cmdapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gloudx/lexicaloro/registry"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	reg := registry.New(registry.Config{DocumentsPath: t.TempDir()}, nil)
	s := New(reg, nil, nil)
	mux := http.NewServeMux()
	s.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, s
}

func postJSON(t *testing.T, url string, body any) Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestLoadDocumentCreatesAndSetsCurrent(t *testing.T) {
	srv, _ := newTestServer(t)
	out := postJSON(t, srv.URL+"/cmd/load_document", map[string]any{"doc_id": "doc-1"})
	require.True(t, out.Success)
	data := out.Data.(map[string]any)
	require.Equal(t, "doc-1", data["container_id"])
	require.NotNil(t, data["lexical_state"])
}

func TestAppendParagraphUsesCurrentDocumentWhenOmitted(t *testing.T) {
	srv, _ := newTestServer(t)
	postJSON(t, srv.URL+"/cmd/load_document", map[string]any{"doc_id": "doc-1"})

	out := postJSON(t, srv.URL+"/cmd/append_paragraph", map[string]any{"text": "hello"})
	require.True(t, out.Success)
	data := out.Data.(map[string]any)
	require.Equal(t, "doc-1", data["doc_id"])
	require.Equal(t, "hello", data["text"])
}

func TestAppendParagraphWithoutCurrentDocumentFails(t *testing.T) {
	srv, _ := newTestServer(t)
	out := postJSON(t, srv.URL+"/cmd/append_paragraph", map[string]any{"text": "hello"})
	require.False(t, out.Success)
}

func TestInsertParagraphExplicitDocID(t *testing.T) {
	srv, _ := newTestServer(t)
	out := postJSON(t, srv.URL+"/cmd/insert_paragraph", map[string]any{"index": 1, "text": "x", "doc_id": "doc-2"})
	require.True(t, out.Success)
	data := out.Data.(map[string]any)
	require.Equal(t, "doc-2", data["doc_id"])
}

type fakeBroadcaster struct {
	calls []string
}

func (f *fakeBroadcaster) Broadcast(docID string, data map[string]any) {
	f.calls = append(f.calls, docID)
}

func TestAppendParagraphBroadcastsThroughHub(t *testing.T) {
	reg := registry.New(registry.Config{DocumentsPath: t.TempDir()}, nil)
	fb := &fakeBroadcaster{}
	s := New(reg, fb, nil)
	mux := http.NewServeMux()
	s.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	postJSON(t, srv.URL+"/cmd/load_document", map[string]any{"doc_id": "doc-1"})
	out := postJSON(t, srv.URL+"/cmd/append_paragraph", map[string]any{"text": "hello"})
	require.True(t, out.Success)

	require.Equal(t, []string{"doc-1"}, fb.calls)
}

func TestGetDocumentInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	postJSON(t, srv.URL+"/cmd/load_document", map[string]any{"doc_id": "doc-1"})

	resp, err := http.Get(srv.URL + "/cmd/get_document_info?doc_id=doc-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success)
	data := out.Data.(map[string]any)
	require.Equal(t, "doc-1", data["doc_id"])
	require.NotNil(t, data["block_types"])
}
