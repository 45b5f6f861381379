// Package workflow runs the stock replenishment state machine.
//
//	pending → approved → shipped → received
//	pending → rejected
//	pending | approved → cancelled
//
// Each transition commits synchronously under the table lock, then hands a
// notification to the Notifier on a tracked goroutine. Dispatch failures are
// logged and counted, never returned: the committed transition stands.
package workflow
