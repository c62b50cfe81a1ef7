// Command loadgen fires synthetic route/finish traffic at a routerd
// instance and reports progress on a terminal progress bar, in the
// style of the teacher's own bench/aisloader.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	fuzz "github.com/google/gofuzz"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"
	"github.com/valyala/fasthttp"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"
	"golang.org/x/sync/semaphore"

	"github.com/globalsched/scheduler/cmn"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	app := cli.NewApp()
	app.Name = "loadgen"
	app.Usage = "synthetic traffic generator for routerd"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "target", Usage: "routerd base URL", Value: "http://127.0.0.1:8080"},
		cli.IntFlag{Name: "requests", Usage: "total number of requests to fire", Value: 1000},
		cli.IntFlag{Name: "concurrency", Usage: "number of simulated concurrent clients", Value: 16},
		cli.IntFlag{Name: "prefixes", Usage: "number of distinct token prefixes to draw from", Value: 50},
		cli.DurationFlag{Name: "timeout", Usage: "how long to wait for in-flight requests to drain", Value: 30 * time.Second},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	target := c.String("target")
	total := c.Int("requests")
	concurrency := c.Int("concurrency")
	numPrefixes := c.Int("prefixes")
	timeout := c.Duration("timeout")

	prefixes := genPrefixes(numPrefixes)

	p := mpb.New(mpb.WithWidth(64))
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("loadgen", decor.WC{W: len("loadgen") + 2, C: decor.DSyncWidthR}),
			decor.CountersNoUnit("%d/%d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(decor.Percentage(decor.WCSyncWidth)),
	)

	tg := cmn.NewTimeoutGroup()
	tg.Add(total)

	sem := semaphore.NewWeighted(int64(concurrency))
	ctx := context.Background()
	client := &fasthttp.Client{}

	for i := 0; i < total; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		go func(i int) {
			defer func() { sem.Release(1); tg.Done(); bar.Increment() }()
			fireOne(client, target, prefixes[i%len(prefixes)])
		}(i)
	}

	if tg.WaitTimeout(timeout) {
		fmt.Fprintln(os.Stderr, "loadgen: timed out waiting for in-flight requests to drain")
	}
	p.Wait()
	return nil
}

func genPrefixes(n int) [][]uint32 {
	f := fuzz.New().NilChance(0).NumElements(4, 64)
	out := make([][]uint32, n)
	for i := range out {
		var tokens []uint32
		f.Fuzz(&tokens)
		if len(tokens) == 0 {
			tokens = []uint32{uint32(i)}
		}
		out[i] = tokens
	}
	return out
}

type routeReq struct {
	Tokens []uint32 `json:"tokens"`
}

type routeResp struct {
	Worker    int    `json:"worker"`
	RequestID string `json:"request_id"`
}

type finishReq struct {
	Tokens    []uint32 `json:"tokens"`
	RequestID string   `json:"request_id"`
	Worker    int      `json:"worker"`
	TTFT      float64  `json:"ttft"`
	OutputLen int      `json:"output_len"`
}

func fireOne(client *fasthttp.Client, target string, tokens []uint32) {
	start := time.Now()

	reqBody, _ := jsonAPI.Marshal(routeReq{Tokens: tokens})
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(target + "/route")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(reqBody)

	if err := client.Do(req, resp); err != nil {
		return
	}
	var rr routeResp
	if err := jsonAPI.Unmarshal(resp.Body(), &rr); err != nil {
		return
	}

	ttft := time.Since(start).Seconds()
	outputLen := 16 + rand.Intn(512)

	finBody, _ := jsonAPI.Marshal(finishReq{
		Tokens:    tokens,
		RequestID: rr.RequestID,
		Worker:    rr.Worker,
		TTFT:      ttft,
		OutputLen: outputLen,
	})

	finReq := fasthttp.AcquireRequest()
	finResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(finReq)
	defer fasthttp.ReleaseResponse(finResp)

	finReq.SetRequestURI(target + "/finish")
	finReq.Header.SetMethod(fasthttp.MethodPost)
	finReq.Header.SetContentType("application/json")
	finReq.SetBody(finBody)
	_ = client.Do(finReq, finResp)
}
