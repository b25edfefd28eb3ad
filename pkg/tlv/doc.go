// Package tlv implements the TLV8 encoding used by HAP pairing payloads and
// BLE PDU bodies.
//
// Each item is a 1-byte type, a 1-byte length and up to 255 value bytes.
// Values longer than 255 bytes are split into consecutive fragments of the
// same type; every fragment except the last carries exactly 255 bytes.
// Readers merge such fragments back into one value. Two distinct items of
// the same type must therefore be separated by an item of another type,
// conventionally a zero-length separator.
package tlv
