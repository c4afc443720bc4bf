// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides a callback (in the form of an
http.HandlerFunc) for handling the provider's redirect at the end of a Solid
OIDC authorization code flow.
*/
package callback
