// Package dataplane sends and receives raw Ethernet frames on numbered
// test ports.
//
// The Dataplane interface is what the broadcast checks run against. The
// Linux implementation (Raw) opens one AF_PACKET socket per port and feeds
// received frames into a single bounded queue; other implementations (the
// switch simulator) live in their own packages.
package dataplane
