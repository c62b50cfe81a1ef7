package transport

import (
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/globalsched/scheduler/cmn"
	"github.com/globalsched/scheduler/obs"
	"github.com/globalsched/scheduler/sched"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := cmn.DefaultConfig(2)
	cfg.RebalanceMinTotalLoad = 1000000
	store, err := obs.Open(time.Minute)
	if err != nil {
		t.Fatalf("open observability store: %v", err)
	}
	return NewServer(sched.New(cfg), store)
}

func doRequest(s *Server, method, path string, body []byte) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	ctx.Request.SetBody(body)
	s.handler(ctx)
	return ctx
}

func TestRouteEndpointReturnsAWorker(t *testing.T) {
	s := newTestServer(t)
	ctx := doRequest(s, fasthttp.MethodPost, "/route", []byte(`{"tokens":[1,2,3]}`))
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
}

func TestRouteEndpointRejectsEmptyTokens(t *testing.T) {
	s := newTestServer(t)
	ctx := doRequest(s, fasthttp.MethodPost, "/route", []byte(`{"tokens":[]}`))
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", ctx.Response.StatusCode())
	}
}

func TestFinishEndpointRoundTripsThroughObservability(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, fasthttp.MethodPost, "/route", []byte(`{"tokens":[1,2,3],"request_id":"req-1"}`))
	ctx := doRequest(s, fasthttp.MethodPost, "/finish", []byte(`{"tokens":[1,2,3],"request_id":"req-1","worker":0,"ttft":0.02,"output_len":5}`))
	if ctx.Response.StatusCode() != fasthttp.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}

	list := doRequest(s, fasthttp.MethodGet, "/observability", nil)
	if list.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200 listing observability records, got %d", list.Response.StatusCode())
	}
}

func TestUnknownObservabilityIDReturns404(t *testing.T) {
	s := newTestServer(t)
	ctx := doRequest(s, fasthttp.MethodGet, "/observability/does-not-exist", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", ctx.Response.StatusCode())
	}
}
