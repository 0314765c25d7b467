package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// errorResponse 返回错误响应
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

// errorResponseWithDetail 返回带详情的错误响应
func errorResponseWithDetail(c *gin.Context, code int, message string, detail interface{}) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
		"detail":  detail,
	})
}

// successResponse 返回成功响应
func successResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, gin.H{
		"success": true,
		"data":    data,
	})
}

// notFoundResponse 返回 404 响应
func notFoundResponse(c *gin.Context, resource string) {
	errorResponse(c, http.StatusNotFound, resource+" not found")
}

// badRequestResponse 返回 400 响应
func badRequestResponse(c *gin.Context, message string) {
	errorResponse(c, http.StatusBadRequest, message)
}

// internalErrorResponse 返回 500 响应
func internalErrorResponse(c *gin.Context, err error) {
	errorResponseWithDetail(c, http.StatusInternalServerError, "internal server error", err.Error())
}
