/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package apiutils holds the shared gin response helpers: every handler
// answers errors through AbortWithApiError so the wire shape stays the
// same across Scout and Worker.
package apiutils

import (
	"errors"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
)

// ErrResponse is the failure envelope written on every non-2xx answer.
type ErrResponse struct {
	Status       string `json:"status"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func convertToErrResponse(err error) (int, *ErrResponse) {
	var apiErr *commonerrors.ApiError
	if !errors.As(err, &apiErr) {
		apiErr = commonerrors.NewInternalError(err.Error())
	}
	return apiErr.HttpCode, &ErrResponse{
		Status:       "error",
		ErrorCode:    apiErr.ErrorCode,
		ErrorMessage: apiErr.ErrorMessage,
	}
}

// AbortWithApiError logs the error and aborts the request with the error's
// HTTP status. Unknown errors are answered as internal errors.
func AbortWithApiError(c *gin.Context, err error) {
	klog.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	httpCode, rsp := convertToErrResponse(err)
	c.AbortWithStatusJSON(httpCode, rsp)
}
