// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arqdb/schemadeploy/pkg/adapter/restful/gin"
	"github.com/arqdb/schemadeploy/pkg/adapter/restful/gin/routes"
)

// serve registers the schemadeploy v1 HTTP surface on a fresh gin
// engine and runs it on w.cfg.Gin.Addr until it returns an error.
// Workers are not started here; each one is spawned lazily by
// w.supervisor.Worker the first time a request names its project.
func serve(_ context.Context, w *wiring) error {
	e := gin.New(gin.SlogLogger(slog.Default()), gin.Recovery())
	routes.Register(e, w.supervisor, w.migrations)
	if err := e.Run(w.cfg.Gin.Addr); err != nil {
		return fmt.Errorf("running gin engine: %w", err)
	}
	return nil
}
