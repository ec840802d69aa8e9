// Package protocol owns the DELPHY wire vocabulary.
//
// Ownership boundary:
// - packet type, response code, and control code enumerations
// - sync word and fixed header geometry
// - codec limits shared by frame, payload, and command
//
// Subpackages:
// - frame: header encode/decode (strict)
// - payload: typed payload dispatch (permissive)
// - tlv: ordered parameter primitives for command bodies
// - command: caller intent -> frame bytes
// - legacy: 16-byte test-harness format, kept isolated
// - session: transport session lifecycle
package protocol
