// Package exchange provides REST clients and pair analyzers for the
// supported spot exchanges.
//
// Each exchange is a (Client, Analyzer) pair behind two small interfaces.
// Clients translate generic operations into exchange-specific HTTP calls
// and hand payloads back as opaque JSON; only the matching Analyzer and
// the client's own trade parser understand the wire shapes. Consumers
// stay free of exchange-name branching.
package exchange
