// Package concurrency provides the kernel's ASYNC-offload executor and
// the timer wheel backing Timeout/LinkTimeout, both driven off the
// dispatch package's opcode loop rather than a network poller.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency
