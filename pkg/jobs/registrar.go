/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package jobs talks to the external cron-style invoker that fires one-shot
// callbacks into the Worker. Jobs are idempotent by name: registering an
// existing name replaces it.
package jobs

import (
	"context"
	"net/http"
	"time"

	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/utils/httpclient"
	"github.com/mac923/offpeak-controller/pkg/utils/json"
	"github.com/mac923/offpeak-controller/pkg/utils/timeutil"
)

// replaceSettle lets the invoker finish a delete before the re-create.
const replaceSettle = time.Second

// jobTarget is the HTTP callback the invoker fires.
type jobTarget struct {
	Uri        string      `json:"uri"`
	HttpMethod string      `json:"http_method"`
	Body       interface{} `json:"body,omitempty"`
	// AuthToken authenticates the callback against the Worker.
	AuthToken string `json:"auth_token,omitempty"`
}

// jobSpec is one single-fire job. Schedule is a standard cron line with the
// day-of-week wildcarded, evaluated in TimeZone.
type jobSpec struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	TimeZone string    `json:"time_zone"`
	Target   jobTarget `json:"http_target"`
}

// Registrar creates and deletes one-shot jobs on the external invoker.
type Registrar struct {
	http httpclient.Interface

	// sleep is swapped in tests
	sleep func(d time.Duration)
}

// NewRegistrar builds a registrar against the configured invoker.
func NewRegistrar() *Registrar {
	return &Registrar{
		http:  httpclient.NewHttpClient(),
		sleep: time.Sleep,
	}
}

func (r *Registrar) jobUrl(name string) string {
	return config.GetSchedulerUrl() + "/jobs/" + name
}

// Register creates or replaces the named job: an existing job is deleted
// first, and after a short settle the new one is created. The trigger time
// is encoded as a single-fire cron line in the invoker's local time zone.
func (r *Registrar) Register(ctx context.Context, name string, triggerAt time.Time,
	endpoint string, payload interface{}) error {
	loc := config.GetHomeLocation()
	spec, err := timeutil.CronSingleFire(triggerAt.In(loc))
	if err != nil {
		return commonerrors.NewBadRequest("bad trigger time for job " + name).WithError(err)
	}

	if err := r.Delete(ctx, name); err == nil {
		r.sleep(replaceSettle)
	}

	job := &jobSpec{
		Name:     name,
		Schedule: spec,
		TimeZone: config.GetSchedulerLocation(),
		Target: jobTarget{
			Uri:        config.GetWorkerServiceUrl() + endpoint,
			HttpMethod: http.MethodPost,
			Body:       payload,
			AuthToken:  config.GetWorkerAuthToken(),
		},
	}
	result, err := r.http.Post(ctx, config.GetSchedulerUrl()+"/jobs", json.MarshalSilently(job),
		"Content-Type", "application/json")
	if err != nil {
		return commonerrors.NewInternalError("job create failed").WithError(err)
	}
	if result.StatusCode == http.StatusConflict {
		// lost a race against a concurrent register: replace once more
		if err := r.Delete(ctx, name); err != nil {
			return commonerrors.NewJobAlreadyExists(name).WithError(err)
		}
		r.sleep(replaceSettle)
		result, err = r.http.Post(ctx, config.GetSchedulerUrl()+"/jobs", json.MarshalSilently(job),
			"Content-Type", "application/json")
		if err != nil {
			return commonerrors.NewInternalError("job create retry failed").WithError(err)
		}
	}
	if !result.IsSuccess() {
		return commonerrors.NewInternalError("job create rejected: " + result.String())
	}
	klog.Infof("job %s registered, fires at %s", name, triggerAt.In(loc).Format("2006-01-02 15:04"))
	return nil
}

// Delete removes the named job. A missing job is not an error.
func (r *Registrar) Delete(ctx context.Context, name string) error {
	result, err := r.http.Delete(ctx, r.jobUrl(name))
	if err != nil {
		return commonerrors.NewInternalError("job delete failed").WithError(err)
	}
	if result.StatusCode == http.StatusNotFound {
		return commonerrors.NewJobNotFound(name)
	}
	if !result.IsSuccess() {
		return commonerrors.NewInternalError("job delete rejected: " + result.String())
	}
	return nil
}
