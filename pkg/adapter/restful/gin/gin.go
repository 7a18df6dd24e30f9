package gin

import (
	"log/slog"

	ginslog "github.com/FabienMht/ginslog/logger"
	"github.com/gin-gonic/gin"
)

type HandlerFunc = gin.HandlerFunc
type Engine = gin.Engine

func New(middlewares ...HandlerFunc) *Engine {
	e := gin.New()
	e.Use(middlewares...)
	return e
}

// SlogLogger returns a request-logging middleware that writes through
// logger instead of gin's own default logger, so every request line
// lands on the same slog.Handler as pkg/core/log's application logs.
func SlogLogger(logger *slog.Logger) HandlerFunc {
	return ginslog.New(logger)
}

func Recovery() HandlerFunc {
	return gin.Recovery()
}
