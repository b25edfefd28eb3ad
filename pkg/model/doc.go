// Package model describes the attribute database an accessory exposes:
// accessories contain services, services contain characteristics, and
// every attribute is addressed by an instance ID (IID).
//
// The model carries only what the secure transports need to enforce
// access control and answer signature reads: HAP type UUIDs, value
// formats, permission properties and the application read/write
// handlers. Characteristic business logic lives behind those handlers.
//
// Attribute hierarchy:
//
//	Accessory (AID 1)
//	├── Service 0x3E Accessory Information (IID 1)
//	│   ├── Characteristic 0x14 Identify (IID 2)
//	│   └── ...
//	├── Service 0xA2 Protocol Information (IID 16)
//	│   ├── Characteristic 0xA5 Service Signature (IID 17)
//	│   └── Characteristic 0x37 Version (IID 18)
//	└── Service 0x55 Pairing (IID 32)
//	    ├── Characteristic 0x4C Pair Setup
//	    ├── Characteristic 0x4E Pair Verify
//	    ├── Characteristic 0x4F Pairing Features
//	    └── Characteristic 0x50 Pairing Pairings
package model
