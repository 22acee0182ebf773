// Package fake provides an in-process implementation of enforcement.Adapter
// for tests and for running without an OS helper (enforcement.driver: fake).
//
// The adapter is state-based rather than expectation-based: it remembers
// what is blocked, counts calls, and exposes helpers for common scenarios.
//
// # Scripting failures
//
//	adapter := fake.New()
//
//	// The next two Block calls fail, the third succeeds.
//	adapter.FailBlock(errors.New("helper busy"), errors.New("helper busy"))
//
//	// Block waits until released or until its context ends.
//	release := adapter.HoldBlock()
//	defer release()
//
// # Reporting attempts
//
//	adapter.Emit("com.example.video", time.Now())
//
// Emit delivers synchronously to every subscriber registered through
// SubscribeAttempts.
package fake
