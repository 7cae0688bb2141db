/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package planner

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/mac923/offpeak-controller/pkg/config"
	commonerrors "github.com/mac923/offpeak-controller/pkg/errors"
	"github.com/mac923/offpeak-controller/pkg/utils/httpclient"
	"github.com/mac923/offpeak-controller/pkg/utils/json"
)

// Sheet column names as the users see them.
const (
	colStatus    = "Status"
	colDate      = "Data"
	colTime      = "Godzina"
	colTarget    = "Docelowy %"
	statusActive = "ACTIVE"
)

const (
	minTargetPercent = 50
	maxTargetPercent = 100
)

// Need is one validated spreadsheet row: reach TargetPercent by Deadline.
// Row is the 1-based sheet row (header is row 1).
type Need struct {
	Row           int
	TargetPercent int
	Deadline      time.Time
}

// SheetSource lists the pending charging needs users declared.
type SheetSource interface {
	FetchNeeds(ctx context.Context) ([]Need, error)
}

// SheetClient reads the spreadsheet collaborator over its REST facade. Rows
// arrive as JSON objects keyed by column name.
type SheetClient struct {
	http httpclient.Interface
}

// NewSheetClient builds a client for the configured sheet.
func NewSheetClient() *SheetClient {
	return &SheetClient{http: httpclient.NewHttpClient()}
}

// FetchNeeds returns every ACTIVE row with a parseable future deadline and a
// target in [50,100]. Malformed rows are skipped with a warning, never fatal.
func (s *SheetClient) FetchNeeds(ctx context.Context) ([]Need, error) {
	endpoint := config.GetSheetUrl() + "?tab=" + url.QueryEscape(config.GetSheetTab())
	result, err := s.http.Get(ctx, endpoint)
	if err != nil {
		return nil, commonerrors.NewInternalError("sheet unreachable").WithError(err)
	}
	if !result.IsSuccess() {
		return nil, commonerrors.NewInternalError("sheet error: " + result.String())
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(result.Body, &rows); err != nil {
		return nil, commonerrors.NewInternalError("sheet answer unreadable").WithError(err)
	}

	now := time.Now().In(config.GetHomeLocation())
	var needs []Need
	for i, row := range rows {
		// data starts at sheet row 2, below the header
		sheetRow := i + 2
		need, err := parseRow(sheetRow, row, now)
		if err != nil {
			klog.Warningf("skipping sheet row %d: %v", sheetRow, err)
			continue
		}
		if need != nil {
			needs = append(needs, *need)
		}
	}
	klog.Infof("sheet has %d active charging needs", len(needs))
	return needs, nil
}

// parseRow validates one row. A nil, nil return means the row is fine but
// not actionable (inactive or already past).
func parseRow(sheetRow int, row map[string]interface{}, now time.Time) (*Need, error) {
	status, _ := row[colStatus].(string)
	if !strings.EqualFold(strings.TrimSpace(status), statusActive) {
		return nil, nil
	}

	date, _ := row[colDate].(string)
	clock, _ := row[colTime].(string)
	deadline, err := parseLocalDeadline(date, clock)
	if err != nil {
		return nil, commonerrors.NewSheetRowMalformed(
			fmt.Sprintf("row %d: bad deadline %q %q", sheetRow, date, clock)).WithError(err)
	}
	if !deadline.After(now) {
		klog.Infof("sheet row %d deadline %s already passed", sheetRow, deadline.Format("2006-01-02 15:04"))
		return nil, nil
	}

	target, err := parseTarget(row[colTarget])
	if err != nil {
		return nil, commonerrors.NewSheetRowMalformed(fmt.Sprintf("row %d: %v", sheetRow, err))
	}

	return &Need{Row: sheetRow, TargetPercent: target, Deadline: deadline}, nil
}

func parseLocalDeadline(date, clock string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04",
		strings.TrimSpace(date)+" "+strings.TrimSpace(clock), config.GetHomeLocation())
}

func parseTarget(raw interface{}) (int, error) {
	var target int
	switch v := raw.(type) {
	case float64:
		target = int(v)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "%"))
		if err != nil {
			return 0, fmt.Errorf("bad target %q", v)
		}
		target = parsed
	default:
		return 0, fmt.Errorf("missing target")
	}
	if target < minTargetPercent || target > maxTargetPercent {
		return 0, fmt.Errorf("target %d outside [%d,%d]", target, minTargetPercent, maxTargetPercent)
	}
	return target, nil
}
