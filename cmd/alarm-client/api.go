// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/client"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/model"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/path"
	"github.com/united-manufacturing-hub/alarm-client/pkg/kafka"
)

type itemView struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Leaf     bool       `json:"leaf"`
	Severity string     `json:"severity"`
	Children []itemView `json:"children,omitempty"`

	Reported string `json:"reported,omitempty"`

	PV             string     `json:"pv,omitempty"`
	Description    string     `json:"description,omitempty"`
	Enabled        *bool      `json:"enabled,omitempty"`
	Message        string     `json:"message,omitempty"`
	Value          string     `json:"value,omitempty"`
	CurrentMessage string     `json:"current_message,omitempty"`
	Time           *time.Time `json:"time,omitempty"`
}

type treeView struct {
	Alive         bool     `json:"alive"`
	Maintenance   bool     `json:"maintenance"`
	DisableNotify bool     `json:"disable_notify"`
	Root          itemView `json:"root"`
}

type addRequest struct {
	Parent      string `json:"parent"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type modeRequest struct {
	Maintenance bool `json:"maintenance"`
}

type notifyRequest struct {
	Disable bool `json:"disable"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// viewOf renders node and depth levels of descendants. A negative depth
// renders the whole subtree.
func viewOf(node *model.Node, depth int) itemView {
	view := itemView{
		Name:     node.Name(),
		Path:     node.PathName(),
		Leaf:     node.IsLeaf(),
		Severity: node.Severity().String(),
	}
	if config, ok := node.LeafConfig(); ok {
		view.PV = config.PV
		view.Description = config.Description
		enabled := config.Enabled
		view.Enabled = &enabled
	}
	if state, ok := node.LeafState(); ok {
		view.Message = state.Message
		view.Value = state.Value
		view.CurrentMessage = state.CurrentMessage
		if !state.Time.IsZero() {
			t := state.Time
			view.Time = &t
		}
	} else if reported := node.ReportedSeverity(); reported != model.SeverityOK {
		view.Reported = reported.String()
	}
	if depth != 0 {
		for _, child := range node.Children() {
			view.Children = append(view.Children, viewOf(child, depth-1))
		}
	}
	return view
}

type api struct {
	client *client.Client
}

func newRouter(c *client.Client) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Logs all requests, like a combined access and error log.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	// Logs all panic to error log
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "online")
	})

	a := &api{client: c}
	v1 := router.Group("/api/v1")
	{
		v1.GET("/tree", a.getTree)
		v1.GET("/items/*path", a.getItem)
		v1.DELETE("/items/*path", a.removeItem)
		v1.POST("/components", a.addComponent)
		v1.POST("/leaves", a.addLeaf)
		v1.POST("/acknowledge/*path", a.acknowledge)
		v1.POST("/unacknowledge/*path", a.unacknowledge)
		v1.PUT("/mode", a.setMode)
		v1.PUT("/notify", a.setNotify)
	}
	return router
}

func writeJSON(ctx *gin.Context, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		zap.S().Errorf("Cannot encode response: %s", err)
		ctx.Status(http.StatusInternalServerError)
		return
	}
	ctx.Data(status, "application/json; charset=utf-8", data)
}

func readJSON(ctx *gin.Context, v any) bool {
	data, err := ctx.GetRawData()
	if err == nil {
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		writeJSON(ctx, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// handleError maps errors of the write path to HTTP status codes.
func handleError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	var transportErr *kafka.TransportError
	switch {
	case errors.Is(err, path.ErrInvalidPath):
		status = http.StatusBadRequest
	case errors.As(err, &transportErr):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		zap.S().Errorw("Internal server error", "error", err)
	} else {
		zap.S().Infow("Rejected request", "status", status, "error", err)
	}
	writeJSON(ctx, status, errorResponse{Error: err.Error()})
}

func itemPath(ctx *gin.Context) string {
	return strings.TrimPrefix(ctx.Param("path"), "/")
}

func (a *api) getTree(ctx *gin.Context) {
	writeJSON(ctx, http.StatusOK, treeView{
		Alive:         a.client.IsServerAlive(),
		Maintenance:   a.client.IsMaintenanceMode(),
		DisableNotify: a.client.IsDisableNotify(),
		Root:          viewOf(a.client.Root(), -1),
	})
}

func (a *api) getItem(ctx *gin.Context) {
	node, err := a.client.FindNode(itemPath(ctx))
	if err != nil {
		handleError(ctx, err)
		return
	}
	if node == nil {
		writeJSON(ctx, http.StatusNotFound, errorResponse{Error: "no item at " + itemPath(ctx)})
		return
	}
	writeJSON(ctx, http.StatusOK, viewOf(node, 1))
}

func (a *api) removeItem(ctx *gin.Context) {
	if err := a.client.RemovePath(ctx.Request.Context(), itemPath(ctx)); err != nil {
		handleError(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

func (a *api) addComponent(ctx *gin.Context) {
	var request addRequest
	if !readJSON(ctx, &request) {
		return
	}
	if err := a.client.AddComponent(ctx.Request.Context(), request.Parent, request.Name); err != nil {
		handleError(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

func (a *api) addLeaf(ctx *gin.Context) {
	var request addRequest
	if !readJSON(ctx, &request) {
		return
	}
	p, err := path.Make(request.Parent, request.Name)
	if err != nil {
		handleError(ctx, err)
		return
	}
	leaf := model.NewLeaf(request.Name)
	config := model.DefaultLeafConfig(request.Name)
	config.Description = request.Description
	leaf.SetLeafConfig(config)
	if err := a.client.SendItemConfigurationUpdate(ctx.Request.Context(), p, leaf); err != nil {
		handleError(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

func (a *api) acknowledge(ctx *gin.Context) {
	if err := a.client.Acknowledge(ctx.Request.Context(), itemPath(ctx)); err != nil {
		handleError(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

func (a *api) unacknowledge(ctx *gin.Context) {
	if err := a.client.Unacknowledge(ctx.Request.Context(), itemPath(ctx)); err != nil {
		handleError(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

func (a *api) setMode(ctx *gin.Context) {
	var request modeRequest
	if !readJSON(ctx, &request) {
		return
	}
	if err := a.client.SetMode(ctx.Request.Context(), request.Maintenance); err != nil {
		handleError(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

func (a *api) setNotify(ctx *gin.Context) {
	var request notifyRequest
	if !readJSON(ctx, &request) {
		return
	}
	if err := a.client.SetNotify(ctx.Request.Context(), request.Disable); err != nil {
		handleError(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}
