// Package stress exposes an HTTP-triggered load harness for the spatial
// index. A run is asynchronous: the trigger request returns immediately and
// the results are pushed through the configured callback.
package stress

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	eihwazhttp "github.com/aukilabs/eihwaz/http"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

type Options struct {
	Endpoint   string
	SendResult func(context.Context, Results) error
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

func HandleStressTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			eihwazhttp.InternalServerError(w, errors.New("reading body failed").Wrap(err))
			return
		}

		var req Request
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				eihwazhttp.BadRequest(w, eihwazhttp.ErrBadRequest)
				return
			}
		}

		go func() {
			defer func() {
				// if context is of testContext
				// cancel context on exit to signal function exited
				// this is used for testing
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			res, err := RunStressTest(ctx, RunStressTestOptions{
				Endpoint:    opts.Endpoint,
				EntityCount: req.EntityCount,
				QueryCount:  req.QueryCount,
				QueryRadius: req.QueryRadius,
				Seed:        req.Seed,
				Timeout:     req.Timeout,
			})
			if err != nil {
				logs.Warn(err)
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("endpoint", opts.Endpoint).
					Warn(errors.New("sending stress test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}
