// Package session owns the point-to-point link to the DELPHY instrument.
//
// A Link moves frame bytes; a Session owns the connected flag and the
// per-connection identity (session id, start time, packet id counter).
// Only Session mutates connected. Link readers queue frames and nothing
// else.
package session
