// Package hap holds the vocabulary shared by every protocol layer of the
// accessory core: the error taxonomy and the transport type a session runs on.
//
// Packages wrap the sentinels declared here with fmt.Errorf("%w: ...") so
// callers can classify failures with errors.Is regardless of which layer
// produced them.
package hap
