/*
 * Copyright © AMD. 2025-2026. All rights reserved.
 */

package httpclient

import (
	"context"
	"net/http"
	"strconv"
)

// Interface is the outbound HTTP capability shared by every component that
// talks to an external collaborator.
type Interface interface {
	Get(ctx context.Context, url string, headers ...string) (*Result, error)
	Post(ctx context.Context, url string, body interface{}, headers ...string) (*Result, error)
	Put(ctx context.Context, url string, body interface{}, headers ...string) (*Result, error)
	Delete(ctx context.Context, url string, headers ...string) (*Result, error)
	Do(req *http.Request) (*Result, error)
}

type Result struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

func (r *Result) IsSuccess() bool {
	return r != nil && r.StatusCode/100 == 2
}

func (r *Result) String() string {
	return "http code: " + strconv.Itoa(r.StatusCode) + ", body: " + string(r.Body)
}
