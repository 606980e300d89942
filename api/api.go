// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

// Package api exposes the operational HTTP surface of the connection
// manager.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mcpgate/mcpgate/mcp"
	"github.com/mcpgate/mcpgate/metrics"
)

const requestIDHeader = "X-Request-ID"

// API represents the HTTP API functionality of the service.
type API struct {
	manager        *mcp.ClientManager
	metricsHandler http.Handler
	log            logrus.FieldLogger
}

// New creates a new API instance.
func New(manager *mcp.ClientManager, metricsService metrics.Metrics, log logrus.FieldLogger) *API {
	var metricsHandler http.Handler
	if metricsService != nil {
		metricsHandler = promhttp.HandlerFor(metricsService.GetRegistry(), promhttp.HandlerOpts{})
	}
	return &API{
		manager:        manager,
		metricsHandler: metricsHandler,
		log:            log,
	}
}

// Router builds the gin engine with all routes registered.
func (a *API) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(a.requestIDMiddleware())

	v1 := router.Group("/api/v1")
	users := v1.Group("/users/:userID")
	users.GET("/status", a.handleGetStatuses)
	users.GET("/tools", a.handleGetTools)
	users.POST("/connect", a.handleConnect)
	users.POST("/disconnect", a.handleDisconnect)

	if a.metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(a.metricsHandler))
	}

	return router
}

func (a *API) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		c.Next()

		if len(c.Errors) > 0 {
			a.log.WithFields(logrus.Fields{
				"requestID": requestID,
				"path":      c.FullPath(),
				"status":    c.Writer.Status(),
			}).Error(c.Errors.String())
		}
	}
}

func (a *API) handleGetStatuses(c *gin.Context) {
	userID := c.Param("userID")

	statuses, err := a.manager.GetServerStatuses(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to probe servers"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"servers": statuses})
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (a *API) handleGetTools(c *gin.Context) {
	userID := c.Param("userID")

	tools, err := a.manager.GetToolsForUser(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tools"})
		return
	}

	infos := make([]toolInfo, 0, len(tools))
	for _, tool := range tools {
		infos = append(infos, toolInfo{Name: tool.Name, Description: tool.Description})
	}
	c.JSON(http.StatusOK, gin.H{"tools": infos})
}

func (a *API) handleConnect(c *gin.Context) {
	userID := c.Param("userID")

	conns, err := a.manager.EnsureConnections(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to connect"})
		return
	}

	servers := make([]string, 0, len(conns))
	for _, conn := range conns {
		servers = append(servers, conn.ServerName())
	}
	c.JSON(http.StatusOK, gin.H{"connected": servers})
}

func (a *API) handleDisconnect(c *gin.Context) {
	a.manager.DisconnectUser(c.Param("userID"))
	c.Status(http.StatusNoContent)
}
