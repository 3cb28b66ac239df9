package api

import (
	models "CapTrack/internal/domain/models"
	"CapTrack/internal/usecase"
	xhttp "CapTrack/pkg/http"
	xlogger "CapTrack/pkg/logger"

	"github.com/labstack/echo/v4"
)

// CapacityEchoHandler implements Echo-based HTTP handlers following Clean Architecture.
type CapacityEchoHandler struct {
	logger *xlogger.Logger
	uc     *usecase.CapacityReportUseCase
}

func NewCapacityEchoHandler(logger *xlogger.Logger, uc *usecase.CapacityReportUseCase) *CapacityEchoHandler {
	return &CapacityEchoHandler{logger: logger, uc: uc}
}

func (h *CapacityEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/capacity")
	g.GET("", h.Report)
	g.GET("/history", h.History)
	g.GET("/bottlenecks", h.Bottlenecks)
}

func (h *CapacityEchoHandler) Report(c echo.Context) error {
	res, err := h.uc.Report(c.Request().Context())
	if err != nil {
		h.logger.Error("capacity report usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

func (h *CapacityEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.uc.History(c.Request().Context(), usecase.HistoryParams{
		From:  req.From,
		To:    req.To,
		Limit: req.Limit,
	})
	if err != nil {
		h.logger.Error("capacity history usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *CapacityEchoHandler) Bottlenecks(c echo.Context) error {
	req := &models.BottlenecksRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.uc.Bottlenecks(c.Request().Context(), req.Top)
	if err != nil {
		h.logger.Error("capacity bottlenecks usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}
