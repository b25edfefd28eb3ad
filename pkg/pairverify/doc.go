// Package pairverify implements the HAP Pair Verify handshake and its BLE
// Pair Resume shortcut.
//
// The accessory side is driven by a Handshake bound to one session: each
// GATT or HTTP write of the Pair Verify characteristic is passed to
// HandleWrite and the following read is answered by HandleRead.
//
// Message flow (full verify):
//
//	Controller                         Accessory
//	    |------ M1 (State, PublicKey) ------>|
//	    |<-- M2 (State, PublicKey, Encr.) ---|
//	    |------ M3 (State, Encr.) ---------->|
//	    |<----- M4 (State) ------------------|
//
// Pair Resume replaces M2 to M4 with a single Resume Response carrying a
// fresh session ID, keyed from the secret cached by an earlier verify.
//
// Controller implements the other side for tests and tooling.
package pairverify
