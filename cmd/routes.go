package main

import (
	"context"
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
	"go.uber.org/zap"

	"repairBack/internal/repair"
)

type application struct {
	logger    *zap.SugaredLogger
	jwtSecret []byte
	admins    []int64
}

func (app *application) routes(ctx context.Context, deps *repair.Deps) (http.Handler, error) {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders)
	adminAuthMiddleware := alice.New(makeResponseJSON, app.adminOnly)
	publicMiddleware := alice.New(makeResponseJSON)

	mux := pat.New()
	mux.Get("/healthz", publicMiddleware.ThenFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))

	if err := repair.RegisterRepairRoutes(ctx, mux, adminAuthMiddleware, publicMiddleware, deps); err != nil {
		return nil, err
	}
	return standardMiddleware.Then(mux), nil
}
