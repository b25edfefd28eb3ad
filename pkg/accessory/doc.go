// Package accessory implements the HAP-BLE accessory server.
//
// The server owns the accessory identity, the pairing store, the Pair
// Resume cache and the timer service. Every BLE connection gets a Conn
// holding its security session, its link session and one procedure engine
// per addressed characteristic. The GATT layer feeds writes and reads to
// the Conn; everything else happens through the timers.
//
// # Built-in characteristics
//
// The server binds the Pairing service: Pair Verify and Pair Resume run
// through a per-connection handshake, Add/Remove/List Pairings through a
// per-connection pairings procedure. Pair Setup is not supported and
// answers with an Unavailable error. Protocol Information procedures are
// handled by the procedure engine.
//
// # Concurrency
//
// One mutex serializes GATT callbacks and timer expiries, so the core runs
// as a single logical thread. Application callbacks run with that mutex
// held and must not call back into the server.
package accessory
