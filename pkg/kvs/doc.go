// Package kvs implements the accessory key-value store: small binary records
// addressed by a domain and a key, plus the fixed-width records the BLE
// transport keeps in the configuration domain.
//
// Two stores are provided. Memory keeps records in process memory and is
// used by tests and the self-test command. File keeps the same data in a
// single CBOR document that is rewritten atomically on every mutation.
package kvs
