/*
Package tracing records lightweight spans for cross-window calls.

# Overview

Every dispatched call gets a span. The trace id travels with the call
envelope, so a call made by a handler while serving another call joins the
caller's trace even when the two run in different execution contexts. HTTP
requests are traced by a gin middleware using the X-Trace-ID and X-Span-ID
headers.

Finished spans are handed to a buffered collector that logs them at debug
level. When the buffer is full spans are dropped with a warning rather than
blocking the caller.

# Usage

	tracer := tracing.New("winshell", logger)
	defer tracer.Close()

	span, ctx := tracer.StartSpan(ctx, "window-manager.show")
	span.SetTag("target", "3")
	defer tracer.Finish(span)
*/
package tracing
