// SPDX-License-Identifier: MPL-2.0

// Package httpapi exposes the faultlab service over HTTP.
//
// Every response is a JSON envelope. Successful calls carry
// {"success": true, ...result fields}; failures carry
// {"success": false, "error": <message>, "kind": <failure kind>} with an
// HTTP status derived from the kind. A websocket terminal at
// /api/sessions/{id}/terminal runs each received text frame as a command
// line and replies with its output.
package httpapi
