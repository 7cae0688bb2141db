/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package jobs

import (
	"context"
	"net/http"
	"testing"
	"time"

	"gotest.tools/assert"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/utils/httpclient"
	"github.com/mac923/offpeak-controller/pkg/utils/json"
)

// fakeInvoker keeps jobs by name and mimics the invoker's conflict and
// not-found answers.
type fakeInvoker struct {
	jobs    map[string]*jobSpec
	creates int
	deletes int
	// ignoreDeletes makes the next n deletes answer 404, to exercise the
	// create-conflict path
	ignoreDeletes int
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{jobs: map[string]*jobSpec{}}
}

func (f *fakeInvoker) Get(ctx context.Context, url string, headers ...string) (*httpclient.Result, error) {
	return &httpclient.Result{StatusCode: http.StatusOK}, nil
}

func (f *fakeInvoker) Post(ctx context.Context, url string, body interface{}, headers ...string) (*httpclient.Result, error) {
	f.creates++
	spec := &jobSpec{}
	if err := json.Unmarshal(body.([]byte), spec); err != nil {
		return &httpclient.Result{StatusCode: http.StatusBadRequest}, nil
	}
	if _, exists := f.jobs[spec.Name]; exists {
		return &httpclient.Result{StatusCode: http.StatusConflict}, nil
	}
	f.jobs[spec.Name] = spec
	return &httpclient.Result{StatusCode: http.StatusOK}, nil
}

func (f *fakeInvoker) Put(ctx context.Context, url string, body interface{}, headers ...string) (*httpclient.Result, error) {
	return &httpclient.Result{StatusCode: http.StatusOK}, nil
}

func (f *fakeInvoker) Delete(ctx context.Context, url string, headers ...string) (*httpclient.Result, error) {
	f.deletes++
	if f.ignoreDeletes > 0 {
		f.ignoreDeletes--
		return &httpclient.Result{StatusCode: http.StatusNotFound}, nil
	}
	for name := range f.jobs {
		if url == config.GetSchedulerUrl()+"/jobs/"+name {
			delete(f.jobs, name)
			return &httpclient.Result{StatusCode: http.StatusOK}, nil
		}
	}
	return &httpclient.Result{StatusCode: http.StatusNotFound}, nil
}

func (f *fakeInvoker) Do(req *http.Request) (*httpclient.Result, error) {
	return &httpclient.Result{StatusCode: http.StatusOK}, nil
}

func newTestRegistrar(t *testing.T) (*Registrar, *fakeInvoker) {
	t.Helper()
	config.SetValue("scheduler.url", "http://invoker.local")
	config.SetValue("worker.service_url", "http://worker.local")
	invoker := newFakeInvoker()
	r := NewRegistrar()
	r.http = invoker
	r.sleep = func(time.Duration) {}
	return r, invoker
}

func TestRegisterCreatesSingleFireJob(t *testing.T) {
	r, invoker := newTestRegistrar(t)
	triggerAt := time.Date(2025, 3, 14, 1, 0, 0, 0, config.GetHomeLocation())

	err := r.Register(context.Background(), "special-charging-special_3_20250314_0800",
		triggerAt, "/send-special-schedule", map[string]string{"session_id": "special_3_20250314_0800"})
	assert.NilError(t, err)

	job := invoker.jobs["special-charging-special_3_20250314_0800"]
	assert.Assert(t, job != nil)
	assert.Equal(t, job.Schedule, "0 1 14 3 *")
	assert.Equal(t, job.Target.Uri, "http://worker.local/send-special-schedule")
	assert.Equal(t, job.Target.HttpMethod, http.MethodPost)
}

func TestRegisterReplacesExistingJob(t *testing.T) {
	r, invoker := newTestRegistrar(t)
	ctx := context.Background()
	loc := config.GetHomeLocation()

	assert.NilError(t, r.Register(ctx, "special-cleanup-s1",
		time.Date(2025, 3, 14, 6, 13, 0, 0, loc), "/cleanup-single-session", nil))
	assert.NilError(t, r.Register(ctx, "special-cleanup-s1",
		time.Date(2025, 3, 14, 7, 0, 0, 0, loc), "/cleanup-single-session", nil))

	// exactly one job with the latest parameters
	assert.Equal(t, len(invoker.jobs), 1)
	assert.Equal(t, invoker.jobs["special-cleanup-s1"].Schedule, "0 7 14 3 *")
}

func TestDeleteMissingJob(t *testing.T) {
	r, _ := newTestRegistrar(t)
	err := r.Delete(context.Background(), "never-registered")
	assert.Equal(t, commonerrors.IsNotFound(err), true)
}

func TestRegisterConflictRetriesOnce(t *testing.T) {
	r, invoker := newTestRegistrar(t)
	ctx := context.Background()
	loc := config.GetHomeLocation()

	// the initial delete misses the job, so the create conflicts and the
	// registrar must delete-and-retry
	invoker.jobs["racy"] = &jobSpec{Name: "racy", Schedule: "0 0 1 1 *"}
	invoker.ignoreDeletes = 1

	assert.NilError(t, r.Register(ctx, "racy",
		time.Date(2025, 3, 14, 1, 0, 0, 0, loc), "/send-special-schedule", nil))
	assert.Equal(t, len(invoker.jobs), 1)
	assert.Equal(t, invoker.jobs["racy"].Schedule, "0 1 14 3 *")
}
