// Package model defines shared data types used across the monitor.
//
// Conventions:
//   - Monetary values: shopspring decimal, computed once at parse time
//   - Trade timestamps: int64 milliseconds since Unix epoch
//   - Trade identity: the (exchange, native id) pair; the 63-bit storage id
//     derived from it is a storage-key convenience, never an equality key
package model
