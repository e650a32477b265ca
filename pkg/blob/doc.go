// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package blob implements a reference blob service on top of the ingress
// request and response model.
//
// Routes:
//
//	POST    /                 store the body, answer 201 with Location /<id>
//	GET     /<id>             blob content with Content-Type and X-Blob-Size
//	GET     /<id>/BlobInfo    blob properties only
//	HEAD    /<id>             GET without content
//	DELETE  /<id>             remove the blob, answer 202
//	OPTIONS *                 answer 200 with Allow
//
// POST bodies are either the raw blob or a multipart/form-data body whose
// "blob" part is the blob. X-Service-Id is required; X-Blob-Size, when
// present, must match the blob length.
//
// The Service blocks while it reads request content, so it runs behind
// handler.Async.
package blob
