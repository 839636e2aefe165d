// Package tellie drives a TELLIE LED pulser over a serial link using its
// single-byte command protocol.
//
// TELLIE (Timing and Embedded LED Light Injection Entity) is a multi-channel
// optical calibration source: each fibre-coupled LED channel fires trains of
// light pulses whose height, width, count, spacing and delay are configured
// through one-byte commands on a serial line.
//
// # Protocol Overview
//
// The protocol is strictly synchronous and command/echo oriented:
//
//   - Every command is introduced by one ASCII command byte, optionally followed
//     by raw payload bytes.
//   - After each complete command the device echoes the command bytes (never the
//     payload bytes) back on the line. Reading and verifying that echo is the
//     only acknowledgement mechanism the device offers.
//   - While a pulse train is running the device accepts no ordinary commands;
//     it emits a single end-of-sequence byte ('K') when the train finishes.
//
// The Device type is the public entry point. It owns the firing state machine,
// caches the last value written for each parameter to suppress redundant wire
// traffic, and sequences the pulse package codec output through the transport
// session. See [New] and [Device.Open].
//
// # Relationship to pulse Package
//
// The pulse package holds the protocol byte table and the pure parameter codec;
// this package owns everything stateful: the serial port, the echo discipline
// and its desynchronization recovery, and the Idle/Firing state machine.
package tellie
