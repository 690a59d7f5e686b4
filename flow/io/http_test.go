package io_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/core"
	flowio "github.com/lguimbarda/reactive-flow/flow/io"
)

func newServer(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/lines", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "alpha\nbeta\ngamma")
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Method", r.Method)
		fmt.Fprint(w, r.URL.Query().Get("v"))
	})
	mux.HandleFunc("/missing", http.NotFound)

	srv := httptest.NewServer(mux)
	client := srv.Client()
	t.Cleanup(srv.Close)
	t.Cleanup(client.CloseIdleConnections)
	return srv, client
}

func TestGetLines(t *testing.T) {
	srv, client := newServer(t)

	lines, res, err := runSource(t, flowio.GetLines(client, srv.URL+"/lines"))
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta", "gamma"}, lines)
	require.EqualValues(t, len("alpha\nbeta\ngamma"), res.Count)
}

func TestGetBytesStatusError(t *testing.T) {
	srv, client := newServer(t)

	_, _, err := runSource(t, flowio.GetBytes(client, srv.URL+"/missing", 16))
	var statusErr *flowio.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestRequest(t *testing.T) {
	srv, client := newServer(t)

	got, err := flow.Slice(testContext(t), flowio.Request(client, http.MethodPost, srv.URL+"/echo?v=hi", strings.NewReader("body")))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, http.StatusOK, got[0].StatusCode)
	require.Equal(t, http.MethodPost, got[0].Header.Get("X-Method"))
	require.Equal(t, "hi", string(got[0].Body))

	// Non-2xx responses are emitted as is.
	got, err = flow.Slice(testContext(t), flowio.Get(client, srv.URL+"/missing"))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, got[0].StatusCode)
}

func TestGetEach(t *testing.T) {
	srv, client := newServer(t)
	urls := []string{srv.URL + "/echo?v=1", "http://[::1]:namedport", srv.URL + "/echo?v=3"}

	_, err := flow.Slice(testContext(t), flow.Via(flow.FromSlice(urls), flowio.GetEach(client)))
	require.Error(t, err)

	got, err := flow.Slice(testContext(t), flow.Via(flow.FromSlice(urls), flowio.GetEach(client).WithSupervision(core.ResumingDecider)))
	require.NoError(t, err)
	bodies := make([]string, len(got))
	for i, r := range got {
		bodies[i] = string(r.Body)
	}
	require.Equal(t, []string{"1", "3"}, bodies)
}
