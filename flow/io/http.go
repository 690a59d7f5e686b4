package io

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError fails the streaming HTTP sources on a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Get creates a Source emitting the response of a single GET request.
func Get(client *http.Client, url string) core.Source[Response, core.NotUsed] {
	return Request(client, http.MethodGet, url, nil)
}

// Request creates a Source performing one request on materialization and
// emitting its response, whatever the status. body is sent as is and must
// not be shared between materializations.
func Request(client *http.Client, method, url string, body io.Reader) core.Source[Response, core.NotUsed] {
	return core.SourceStage("httpRequest", func(_ core.Attributes, out core.Outlet[Response]) (*core.Logic, core.NotUsed) {
		l := core.NewSourceLogic(out)
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				resp, err := do(l.Context(), client, method, url, body)
				if err != nil {
					l.FailStage(err)
					return
				}
				core.Push(l, out, resp)
				l.Complete(out)
			},
		})
		return l, core.NotUsed{}
	}).Async()
}

// GetEach creates a Flow performing a GET request for every URL. A failed
// request is a fault handed to the decider; on Resume or Restart the URL is
// dropped.
func GetEach(client *http.Client) core.Flow[string, Response, core.NotUsed] {
	return core.FlowStage("httpGetEach", func(_ core.Attributes, in core.Inlet[string], out core.Outlet[Response]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				resp, err := do(l.Context(), client, http.MethodGet, core.Grab(l, in), nil)
				if err != nil {
					if l.Supervise(err, nil) {
						l.Pull(in)
					}
					return
				}
				core.Push(l, out, resp)
			},
		}, core.PullOnDemand(l, in))
		return l
	}).Async()
}

// GetBytes creates a Source streaming the body of a GET request in chunks of
// at most chunkSize bytes. A non-2xx status fails the stream with a
// *StatusError.
func GetBytes(client *http.Client, url string, chunkSize int) core.Source[[]byte, *core.Future[IOResult]] {
	return readerSource("httpBody", func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
		}
		return resp.Body, nil
	}, chunkSize)
}

// GetLines creates a Source emitting the lines of a GET response body.
func GetLines(client *http.Client, url string) core.Source[string, *core.Future[IOResult]] {
	return core.Via(GetBytes(client, url, DefaultChunkSize), Lines(DefaultMaxLineLength), core.KeepLeft[*core.Future[IOResult], core.NotUsed])
}

func do(ctx context.Context, client *http.Client, method, url string, body io.Reader) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Response{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	return Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}
