// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *Config
		shouldErr bool
	}{
		{
			name: "valid config",
			cfg: &Config{
				MaxConcurrentDocs: 10,
				MaxWorkersPerDoc:  2,
				WorkerTimeout:     5 * time.Second,
				ParsingMode:       BestEffort,
			},
			shouldErr: false,
		},
		{
			name: "invalid MaxConcurrentDocs (too low)",
			cfg: &Config{
				MaxConcurrentDocs: 0,
				MaxWorkersPerDoc:  2,
				WorkerTimeout:     5 * time.Second,
				ParsingMode:       BestEffort,
			},
			shouldErr: true,
		},
		{
			name: "invalid MaxWorkersPerDoc (too low)",
			cfg: &Config{
				MaxConcurrentDocs: 10,
				MaxWorkersPerDoc:  0,
				WorkerTimeout:     5 * time.Second,
				ParsingMode:       Strict,
			},
			shouldErr: true,
		},
		{
			name: "missing WorkerTimeout",
			cfg: &Config{
				MaxConcurrentDocs: 10,
				MaxWorkersPerDoc:  2,
				WorkerTimeout:     0,
				ParsingMode:       BestEffort,
			},
			shouldErr: true,
		},
		{
			name: "invalid ParsingMode",
			cfg: &Config{
				MaxConcurrentDocs: 10,
				MaxWorkersPerDoc:  2,
				WorkerTimeout:     5 * time.Second,
				ParsingMode:       "invalid-mode",
			},
			shouldErr: true,
		},
		{
			name: "negative MaxDecodedBytes",
			cfg: &Config{
				MaxConcurrentDocs: 10,
				MaxWorkersPerDoc:  2,
				WorkerTimeout:     5 * time.Second,
				ParsingMode:       BestEffort,
				MaxDecodedBytes:   -1,
			},
			shouldErr: true,
		},
		{
			name:      "default config is valid",
			cfg:       NewDefaultConfig(),
			shouldErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.shouldErr {
				assert.Error(t, err, "expected validation error")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}
