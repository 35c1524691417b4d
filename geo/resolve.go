// Copyright 2026 The Relaymesh Authors
// SPDX-License-Identifier: Apache-2.0

package geo

import (
	"net/http"
	"net/netip"
	"strconv"
	"strings"
)

// Header names injected by the load balancer in front of the portal.
const (
	headerForwardedFor = "X-Forwarded-For"
	headerRegion       = "X-Geo-Location-Region"
	headerCity         = "X-Geo-Location-City"
	headerCoordinates  = "X-Geo-Location-Coordinates"
	headerTraceParent  = "Traceparent"
)

// Origin describes where a socket connection came from. Produced once
// per connection during the handshake and recorded on the principal.
type Origin struct {
	// RemoteIP is the connecting peer's address: the first
	// x-forwarded-for entry when present, otherwise the socket peer
	// address. Invalid (zero) if neither could be parsed.
	RemoteIP netip.Addr

	// Region and City are the upstream geo annotations, empty when
	// the corresponding header is absent.
	Region string
	City   string

	// Lat and Lon are valid only when HasCoordinates is true. They
	// come from the coordinates header when present, or from the
	// per-region centroid table when only a region is known.
	Lat            float64
	Lon            float64
	HasCoordinates bool

	// UserAgent is the raw User-Agent header.
	UserAgent string

	// Version is the connlib version extracted from the user agent,
	// empty when the agent string does not carry one.
	Version string

	// TraceParent is the W3C trace-context header, propagated
	// verbatim so a connect event can be correlated with the request
	// that caused it.
	TraceParent string
}

// Resolve extracts the connection origin from an upgrade request.
// remoteAddr is the transport peer address in "ip:port" form (as in
// http.Request.RemoteAddr); it is only consulted when no forwarding
// header is present.
func Resolve(remoteAddr string, header http.Header) Origin {
	origin := Origin{
		Region:      header.Get(headerRegion),
		City:        header.Get(headerCity),
		UserAgent:   header.Get("User-Agent"),
		TraceParent: header.Get(headerTraceParent),
	}
	origin.Version = ConnlibVersion(origin.UserAgent)
	origin.RemoteIP = remoteIP(remoteAddr, header)

	if lat, lon, ok := parseCoordinates(header.Get(headerCoordinates)); ok {
		origin.Lat, origin.Lon, origin.HasCoordinates = lat, lon, true
	} else if origin.City == "" && origin.Region != "" {
		if lat, lon, ok := RegionCentroid(origin.Region); ok {
			origin.Lat, origin.Lon, origin.HasCoordinates = lat, lon, true
		}
	}

	return origin
}

// remoteIP applies the proxy-header precedence: the first
// x-forwarded-for entry wins over the raw peer address.
func remoteIP(remoteAddr string, header http.Header) netip.Addr {
	if forwarded := header.Get(headerForwardedFor); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.Unmap()
		}
	}

	if addrPort, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return addrPort.Addr().Unmap()
	}
	// Peer addresses without a port show up in tests and unix-socket
	// fronted deployments.
	if addr, err := netip.ParseAddr(remoteAddr); err == nil {
		return addr.Unmap()
	}
	return netip.Addr{}
}

// parseCoordinates parses the "lat,lon" coordinates header.
func parseCoordinates(value string) (lat, lon float64, ok bool) {
	latText, lonText, found := strings.Cut(value, ",")
	if !found {
		return 0, 0, false
	}
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(lonText), 64)
	if latErr != nil || lonErr != nil {
		return 0, 0, false
	}
	return lat, lon, true
}
