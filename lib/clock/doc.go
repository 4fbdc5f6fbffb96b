// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source injected into courier components.
//
// Production code takes a [Clock] instead of calling time.Now or
// time.After directly. [Real] forwards to the time package. [Fake]
// stands still until the test calls Advance, which makes wait timeouts
// deterministic:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client := delivery.New(delivery.Config{Clock: fake, ...})
//	go func() { result, err = client.SubmitWait(ctx, ...) }()
//	fake.WaitForTimers(1)
//	fake.Advance(10 * time.Second)
package clock
