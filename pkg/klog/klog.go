/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package klog points k8s.io/klog/v2 at a rotating log file for the scout
// and worker binaries. Output also goes to stderr so container logs stay
// useful.
package klog

import (
	"flag"
	"strconv"

	"k8s.io/klog/v2"
)

// Init routes klog to logfilePath, capped at maxSizeMB megabytes per file.
// Called before config loading so even startup failures reach the log.
func Init(logfilePath string, maxSizeMB int) error {
	klog.InitFlags(nil)
	settings := [][2]string{
		{"log_file", logfilePath},
		{"alsologtostderr", "true"},
		{"logtostderr", "false"},
		{"skip_log_headers", "true"},
	}
	if maxSizeMB > 0 {
		settings = append(settings, [2]string{"log_file_max_size", strconv.Itoa(maxSizeMB)})
	}
	for _, s := range settings {
		if err := flag.Set(s[0], s[1]); err != nil {
			return err
		}
	}
	flag.Parse()
	return nil
}
