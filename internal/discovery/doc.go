// Package discovery is a placeholder for AES67 session announcement
// (SAP/SDP) and device discovery (mDNS/SSO), which spec.md's Non-goals
// explicitly exclude from this engine. Audyn always takes its AES67
// source address, port, and format from explicit configuration.
//
// This file exists only to document the boundary: nothing in this
// package is implemented, and nothing in internal/rtp depends on it.
package discovery
