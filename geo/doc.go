// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package geo resolves the origin of an inbound socket connection:
// remote IP, geographic hints, client version, and trace context.
//
// The portal usually sits behind a load balancer that injects
// x-forwarded-for and x-geo-location-* headers. When the geo headers
// carry a region but no city or coordinates, Resolve falls back to a
// static per-region centroid — coarse coordinates are more useful than
// none for fleet-distribution dashboards.
//
// Nothing in this package performs network lookups; resolution is a
// pure function of the request metadata.
package geo
