// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfproc

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cmlburnett/pdfproc/logger"
)

type ParsingMode string

const (
	Strict     ParsingMode = "strict"
	BestEffort ParsingMode = "best-effort"
)

type Config struct {
	MaxConcurrentDocs int           `validate:"min=1,max=10"`
	MaxWorkersPerDoc  int           `validate:"min=1,max=50"`
	WorkerTimeout     time.Duration `validate:"required"`
	ParsingMode       ParsingMode   `validate:"oneof=strict best-effort"`
	// MaxDecodedBytes caps the output of a single stream decode. Zero
	// means no cap.
	MaxDecodedBytes int64 `validate:"min=0"`
	DebugOn         bool
	Logger          logger.LogFunc
}

func NewDefaultConfig() *Config {
	return &Config{
		MaxConcurrentDocs: 5,
		MaxWorkersPerDoc:  4,
		WorkerTimeout:     5 * time.Second,
		ParsingMode:       BestEffort,
		MaxDecodedBytes:   0,
		DebugOn:           false,
	}
}

func (cfg *Config) Validate() error {
	logger.Debug("Validating Config Object")
	validate := validator.New()
	return validate.Struct(cfg)
}
