// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
storage is a package for persisting per-session state of a Solid OIDC client.

A session's state is a flat record of string fields (issuer, tokens, WebID,
login flag).  Every record lives in one of two backends: a "secure" backend for
secret material like tokens, and an "insecure" one for everything else.  A
Utility stores each record as one JSON object under the key
"solidClientAuthenticationUser:<session id>" of the chosen KeyValue backend.

Writes merge fields into the existing record, so concurrent writes for the same
session are last-write-wins on a per-field basis.
*/
package storage
