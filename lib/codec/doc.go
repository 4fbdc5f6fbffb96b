// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds courier's single CBOR configuration.
//
// Every frame that crosses the delivery socket (handshake, deliveries,
// status replies) is encoded here, so the client and the endpoint
// listener agree byte for byte. The encoder uses Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer encoding,
// no indefinite-length items.
//
// Types that implement encoding.TextMarshaler (destination.ID, for
// example) are written as CBOR text strings, and decoded back through
// UnmarshalText.
//
// For buffers:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Frames are written to the socket as single Marshal results and read
// back with a stream decoder:
//
//	decoder := codec.NewDecoder(conn)
package codec
