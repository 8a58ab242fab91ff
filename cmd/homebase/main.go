// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Command homebase serves the site's JSON API
//
// All configuration is read from the environment, see site.Service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core/logger"
	"github.com/relabs-tech/homebase/site"
)

func main() {
	service, err := site.ServiceFromEnvironment()
	if err != nil {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))
	rlog := logger.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := mux.NewRouter()
	_, closer, err := service.Build(ctx, router)
	if err != nil {
		rlog.WithError(err).Fatalln("cannot build site")
	}
	defer closer()

	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(rlog), handlers.PrintRecoveryStack(true))
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(service.Port),
		Handler:           recovery(handlers.ProxyHeaders(router)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		rlog.Infoln("listen on port", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rlog.WithError(err).Errorln("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	rlog.Infoln("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rlog.WithError(err).Errorln("forced shutdown")
	}
}
