// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build tools

// Package tools pins the versions of the formatters run over this module.
// Install them with:
//
//	go generate -tags tools ./tools
package tools

//go:generate go install mvdan.cc/gofumpt

import (
	_ "mvdan.cc/gofumpt"
)
