/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package worker

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mac923/offpeak-controller/pkg/apiutils"
)

type handleFunc func(c *gin.Context) (interface{}, error)

// handle runs fn and renders its result: errors go through the shared error
// envelope, successes honor any status a handler already set on the writer.
func handle(c *gin.Context, fn handleFunc) {
	response, err := fn(c)
	if err != nil {
		apiutils.AbortWithApiError(c, err)
		return
	}

	code := http.StatusOK
	if status := c.Writer.Status(); status != 0 && status != http.StatusOK {
		code = status
	}
	switch rsp := response.(type) {
	case []byte:
		c.Data(code, "application/json", rsp)
	case string:
		c.String(code, rsp)
	default:
		c.JSON(code, response)
	}
}
