// Package pulse implements the command codec for the TELLIE LED pulser protocol.
//
// The device speaks a single-byte command protocol: every operation is introduced by
// one ASCII command byte, optionally followed by raw payload bytes, and the device
// echoes the command bytes (never the payload) back on the line. This package converts
// validated physical-unit values (pulse height, pulse width, pulse number, pulse delay,
// trigger delay, fibre delay) into the exact byte sequences the device expects together
// with the literal echo it is contractually required to return.
//
// All encoders are pure functions of their input; transport and session sequencing live
// in the tellie package.
package pulse
