// Package cli is the vitalink command-line client.
//
// Most commands drive the local daemon through its loopback control
// service: unlock and lock a profile, start and stop the LAN servers,
// run a pairing session with a terminal QR code, and manage paired
// devices and cross-profile grants.
//
// The device subcommands play the other side. They pair with a desktop
// from a payload string or a picture of its QR code, store the resulting
// credentials owner-readable on disk, and keep the rotating token current.
//
// Commands are built with cobra; see NewRootCommand and Execute.
package cli
