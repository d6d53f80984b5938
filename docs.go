// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// oidcrp is an OpenID Connect relying party for net/http applications.
//
// The middleware package installs login, callback and logout routes, keeps
// the authenticated user in an encrypted session and exposes it to handlers
// through an AuthContext. The config package validates the options, the
// session package provides cookie, memory and redis session stores, and the
// oidc package is the protocol client used underneath.
//
// See examples/webapp for a complete application.
package oidcrp
