// Command txserver runs the HTTP admin surface over the transaction coordinator: one gin route
// per lifecycle operation, authenticated with an Okta bearer token, documented with swagger,
// in the shape of a typical restapi/main package.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/cache"
	"github.com/sop-txmanager/dynatx/cmd/txserver/docs"
	"github.com/sop-txmanager/dynatx/internal/backend"
	"github.com/sop-txmanager/dynatx/keyresolver"
	"github.com/sop-txmanager/dynatx/txapi"
)

// @title dynatx admin API
// @version 1.0
// @BasePath /api/v1
// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	dynatx.ConfigureLogging()

	cfg, err := backend.LoadConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	client, err := backend.NewClient(cfg)
	if err != nil {
		slog.Error("construct store client", "error", err)
		os.Exit(1)
	}

	schemaCache := cache.NewClient(cfg.RedisOptions)
	resolver := keyresolver.New(client, schemaCache)

	txapi.Configure(client, resolver, cfg)
	registerRoutes()

	router := gin.Default()
	docs.SwaggerInfo.Host = os.Getenv("DYNATX_HOST")
	docs.SwaggerInfo.BasePath = "/api/v1"

	v1 := router.Group("/api/v1")
	{
		for _, rm := range txapi.RestMethods() {
			mount(v1, rm)
		}
	}
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
	router.GET("/healthz", func(c *gin.Context) {
		if err := schemaCache.Ping(c.Request.Context()); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	addr := os.Getenv("DYNATX_LISTEN_ADDR")
	if addr == "" {
		addr = "localhost:8080"
	}
	if err := router.Run(addr); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func mount(g *gin.RouterGroup, rm txapi.RestMethod) {
	h := txapi.RequireAuth(rm.Handler)
	switch rm.Verb {
	case txapi.GET:
		g.GET(rm.Path, h)
	case txapi.POST:
		g.POST(rm.Path, h)
	case txapi.PUT:
		g.PUT(rm.Path, h)
	case txapi.PATCH:
		g.PATCH(rm.Path, h)
	case txapi.DELETE:
		g.DELETE(rm.Path, h)
	default:
		panic(fmt.Sprintf("txserver: HTTP verb %d not supported", rm.Verb))
	}
}

func registerRoutes() {
	must(txapi.RegisterMethod(txapi.POST, "/tx", txapi.BeginTx))
	must(txapi.RegisterMethod(txapi.POST, "/tx/:id/item", txapi.GetTxItem))
	must(txapi.RegisterMethod(txapi.PUT, "/tx/:id/item", txapi.PutTxItem))
	must(txapi.RegisterMethod(txapi.PATCH, "/tx/:id/item", txapi.UpdateTxItem))
	must(txapi.RegisterMethod(txapi.DELETE, "/tx/:id/item", txapi.DeleteTxItem))
	must(txapi.RegisterMethod(txapi.POST, "/tx/:id/commit", txapi.CommitTx))
	must(txapi.RegisterMethod(txapi.POST, "/tx/:id/rollback", txapi.RollbackTx))
	must(txapi.RegisterMethod(txapi.POST, "/sweep", txapi.Sweep))
	must(txapi.RegisterMethod(txapi.POST, "/gc", txapi.CollectGarbage))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

