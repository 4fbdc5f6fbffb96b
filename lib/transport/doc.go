// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries credential deliveries over unix sockets.
//
// The wire protocol is a stream of CBOR maps, each with a "type"
// field, on one persistent connection per session:
//
//	client → endpoint   hello   {endpoint}
//	endpoint → client   welcome {ok, error}
//	client → endpoint   deliver {request_id, mode, username, secret, otp, entry_title, entry_id, sealed}
//	endpoint → client   status  {request_id, status, error}
//
// A refused welcome fails the connect. Deliver frames may be in flight
// concurrently; status frames are matched by request ID and may arrive
// in any order. A status of zero is success. An error string in a
// status frame means the endpoint could not process the delivery at
// all, for example a sealed field it could not open.
//
// When the registry lists an age recipient for the endpoint, the
// secret and one-time code travel sealed to it (see package sealed).
//
// [SocketTransport] is the client side and implements
// delivery.Transport. [Server] is the endpoint side for helper services
// written in Go.
package transport
