// Package transport is the scheduler's external HTTP surface: a thin
// fasthttp binding exposing route/finish as JSON endpoints, plus a read
// path over the observability store. It is a collaborator, not part of
// the routing core (spec.md section 1) — everything here translates
// wire requests into sched.Scheduler calls and back, nothing here makes a
// placement decision itself.
package transport

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/globalsched/scheduler/cmn"
	"github.com/globalsched/scheduler/obs"
	"github.com/globalsched/scheduler/sched"
	"github.com/globalsched/scheduler/tree"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Server binds a sched.Scheduler and an obs.Store to HTTP handlers.
type Server struct {
	scheduler *sched.Scheduler
	records   *obs.Store
	fast      *fasthttp.Server
}

func NewServer(scheduler *sched.Scheduler, records *obs.Store) *Server {
	s := &Server{scheduler: scheduler, records: records}
	s.fast = &fasthttp.Server{
		Handler: s.handler,
		Name:    "globalsched-routerd",
	}
	return s
}

// ListenAndServe blocks serving HTTP on addr until stop is closed.
func (s *Server) ListenAndServe(addr string, stop <-chan struct{}) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.fast.ListenAndServe(addr) }()
	select {
	case err := <-errCh:
		return err
	case <-stop:
		return s.fast.Shutdown()
	}
}

func (s *Server) handler(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/route":
		s.handleRoute(ctx)
	case "/finish":
		s.handleFinish(ctx)
	case "/observability":
		s.handleListObservability(ctx)
	default:
		s.handleGetObservability(ctx)
	}
}

type routeRequest struct {
	Tokens          []uint32 `json:"tokens"`
	RequestID       string   `json:"request_id"`
	PreferredWorker *int     `json:"preferred_worker,omitempty"`
}

type routeResponse struct {
	Worker    int    `json:"worker"`
	RequestID string `json:"request_id"`
}

func (s *Server) handleRoute(ctx *fasthttp.RequestCtx) {
	if !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}
	var req routeRequest
	if err := jsonAPI.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}

	seq := make(tree.TokenSeq, len(req.Tokens))
	for i, t := range req.Tokens {
		seq[i] = tree.Token(t)
	}
	var preferred *tree.WorkerId
	if req.PreferredWorker != nil {
		w := tree.WorkerId(*req.PreferredWorker)
		preferred = &w
	}

	worker, requestID, err := s.scheduler.Route(seq, req.RequestID, preferred)
	if err != nil {
		writeErr(ctx, err)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, routeResponse{Worker: int(worker), RequestID: requestID})
}

type finishRequest struct {
	Tokens    []uint32 `json:"tokens"`
	RequestID string   `json:"request_id"`
	Worker    int      `json:"worker"`
	TTFT      float64  `json:"ttft"`
	OutputLen int      `json:"output_len"`
	Text      string   `json:"text,omitempty"`
}

func (s *Server) handleFinish(ctx *fasthttp.RequestCtx) {
	if !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}
	var req finishRequest
	if err := jsonAPI.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}

	seq := make(tree.TokenSeq, len(req.Tokens))
	for i, t := range req.Tokens {
		seq[i] = tree.Token(t)
	}

	if err := s.scheduler.Finish(seq, req.RequestID, tree.WorkerId(req.Worker), req.TTFT, req.OutputLen); err != nil {
		writeErr(ctx, err)
		return
	}

	if s.records != nil {
		rec := obs.NewRecord(req.RequestID, req.Worker, req.TTFT, req.Text)
		if err := s.records.Put(rec); err != nil {
			writeError(ctx, fasthttp.StatusInternalServerError, err)
			return
		}
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Server) handleListObservability(ctx *fasthttp.RequestCtx) {
	if s.records == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	all, err := s.records.List()
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, all)
}

func (s *Server) handleGetObservability(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	const prefix = "/observability/"
	if s.records == nil || len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	id := path[len(prefix):]
	rec, ok, err := s.records.Get(id)
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, err)
		return
	}
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, rec)
}

func writeErr(ctx *fasthttp.RequestCtx, err error) {
	if cmn.IsInvalidInput(err) {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	writeError(ctx, fasthttp.StatusInternalServerError, err)
}

func writeError(ctx *fasthttp.RequestCtx, status int, err error) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := jsonAPI.Marshal(map[string]string{"error": err.Error()})
	ctx.SetBody(body)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	body, err := jsonAPI.Marshal(v)
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, err)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
