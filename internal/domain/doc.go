// Package domain defines the core domain types and interfaces.
//
// notification.go holds the routed event record, stock_request.go the
// replenishment workflow aggregate, delivery.go the dispatch result, and
// ports.go the contracts implemented by the broadcast engine and adapters.
// No I/O lives here.
package domain
