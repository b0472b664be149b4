package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/winshell/internal/dispatch"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/winshell/internal/shell"
)

type createWindowRequest struct {
	Parent   *types.WindowHandle `json:"parent"`
	InitData json.RawMessage     `json:"initData"`
}

type selectItemRequest struct {
	ItemID string `json:"itemId" binding:"required"`
}

type popupResponse struct {
	Handle types.MenuHandle      `json:"handle"`
	Menu   types.MenuDescription `json:"menu"`
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"windows": len(s.shell.Windows()),
		"menus":   s.shell.MenuCount(),
		"metrics": s.metrics.Snapshot(),
	}
	if s.bridge != nil {
		resp["connections"] = len(s.bridge.Connections())
		resp["hosted"] = s.bridge.HasHost()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listWindows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"windows": s.shell.Windows()})
}

func (s *Server) getWindow(c *gin.Context) {
	handle, ok := windowParam(c)
	if !ok {
		return
	}
	info, found := s.shell.Window(handle)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": shell.ErrUnknownWindow.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) createWindow(c *gin.Context) {
	var req createWindowRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	parent := types.InvalidWindowHandle
	if req.Parent != nil {
		parent = *req.Parent
	}
	var initData any
	if len(req.InitData) > 0 {
		initData = req.InitData
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	handle, err := s.shell.CreateWindow(ctx, parent, initData)
	if err != nil {
		s.fail(c, "create window", err)
		return
	}
	s.logger.Info("window created", zap.Int64("handle", int64(handle)), zap.Int64("parent", int64(parent)))
	c.JSON(http.StatusCreated, gin.H{"handle": handle})
}

func (s *Server) requestClose(c *gin.Context) {
	handle, ok := windowParam(c)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.shell.RequestClose(ctx, handle); err != nil {
		s.fail(c, "request close", err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) getPopup(c *gin.Context) {
	handle, ok := windowParam(c)
	if !ok {
		return
	}
	menu, tracking := s.shell.ActivePopup(handle)
	if !tracking {
		c.JSON(http.StatusNotFound, gin.H{"error": shell.ErrNoPopup.Error()})
		return
	}
	desc, _ := s.shell.Menu(menu)
	c.JSON(http.StatusOK, popupResponse{Handle: menu, Menu: desc})
}

func (s *Server) selectPopupItem(c *gin.Context) {
	handle, ok := windowParam(c)
	if !ok {
		return
	}
	var req selectItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.shell.SelectPopupItem(ctx, handle, req.ItemID); err != nil {
		s.fail(c, "select popup item", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) dismissPopup(c *gin.Context) {
	handle, ok := windowParam(c)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.shell.DismissPopup(ctx, handle); err != nil {
		s.fail(c, "dismiss popup", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), s.timeout)
}

// fail maps shell and dispatch errors onto status codes.
func (s *Server) fail(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, shell.ErrUnknownWindow), errors.Is(err, shell.ErrNoPopup):
		status = http.StatusNotFound
	case errors.Is(err, shell.ErrUnknownItem):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		switch dispatch.KindOf(err) {
		case dispatch.KindInvalidTarget:
			status = http.StatusNotFound
		case dispatch.KindNotAvailable:
			status = http.StatusServiceUnavailable
		case dispatch.KindCanceled:
			status = http.StatusGatewayTimeout
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn(op+" failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func windowParam(c *gin.Context) (types.WindowHandle, bool) {
	n, err := strconv.ParseInt(c.Param("handle"), 10, 64)
	if err != nil || !types.WindowHandle(n).IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window handle"})
		return types.InvalidWindowHandle, false
	}
	return types.WindowHandle(n), true
}
