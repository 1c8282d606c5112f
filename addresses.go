package proxyproto

import (
	"bytes"
	"net"
)

const (
	// addressLengthIPv4 address block is 2*4 + 2*2 = 12 bytes.
	addressLengthIPv4 = 12
	// addressLengthIPv6 address block is 2*16 + 2*2 = 36 bytes.
	addressLengthIPv6 = 36
	// addressLengthUnix address block is 2*108 = 216 bytes.
	addressLengthUnix = 216

	unixPathLength = addressLengthUnix / 2
)

// Addresses is the source and destination of a v1 header: IPv4, IPv6 or Unknown.
type Addresses interface {
	// Protocol is the canonical protocol token of the v1 line.
	Protocol() string

	appendV1([]byte) []byte
}

// V2Addresses is the address block of a v2 header: Unspec, IPv4, IPv6 or Unix.
type V2Addresses interface {
	HeaderWriter

	AddressFamily() AddressFamily
}

// IPv4 holds the source and destination IPv4 addresses and ports of a header.
type IPv4 struct {
	SourceAddress      [4]byte
	DestinationAddress [4]byte
	SourcePort         uint16
	DestinationPort    uint16
}

// IPv6 holds the source and destination IPv6 addresses and ports of a header.
type IPv6 struct {
	SourceAddress      [16]byte
	DestinationAddress [16]byte
	SourcePort         uint16
	DestinationPort    uint16
}

// Unix holds the source and destination socket paths of a v2 header,
// null-padded to 108 bytes each.
type Unix struct {
	Source      [108]byte
	Destination [108]byte
}

// Unspec is the empty address block of a v2 header.
type Unspec struct{}

// Unknown is the addressless variant of a v1 header.
type Unknown struct{}

func NewIPv4(src, dst [4]byte, srcPort, dstPort uint16) IPv4 {
	return IPv4{
		SourceAddress:      src,
		DestinationAddress: dst,
		SourcePort:         srcPort,
		DestinationPort:    dstPort,
	}
}

func NewIPv6(src, dst [16]byte, srcPort, dstPort uint16) IPv6 {
	return IPv6{
		SourceAddress:      src,
		DestinationAddress: dst,
		SourcePort:         srcPort,
		DestinationPort:    dstPort,
	}
}

// NewUnix pads each path with zero bytes, truncating at 108 bytes.
func NewUnix(src, dst string) Unix {
	var u Unix
	copy(u.Source[:], src)
	copy(u.Destination[:], dst)
	return u
}

func (a IPv4) Protocol() string    { return TCP4 }
func (a IPv6) Protocol() string    { return TCP6 }
func (a Unknown) Protocol() string { return UNKNOWN }

func (a IPv4) AddressFamily() AddressFamily { return AF_INET }
func (a IPv6) AddressFamily() AddressFamily { return AF_INET6 }
func (a Unix) AddressFamily() AddressFamily { return AF_UNIX }
func (a Unspec) AddressFamily() AddressFamily {
	return AF_UNSPEC
}

// SourcePath is the source path without the zero padding.
func (a Unix) SourcePath() string {
	return unixPath(a.Source[:])
}

// DestinationPath is the destination path without the zero padding.
func (a Unix) DestinationPath() string {
	return unixPath(a.Destination[:])
}

func unixPath(path []byte) string {
	if i := bytes.IndexByte(path, 0); i >= 0 {
		return string(path[:i])
	}
	return string(path)
}

// addressBytes is the byte length of the family's v2 address block.
func (af AddressFamily) addressBytes() int {
	switch af {
	case AF_INET:
		return addressLengthIPv4
	case AF_INET6:
		return addressLengthIPv6
	case AF_UNIX:
		return addressLengthUnix
	}
	return 0
}

// AddressesFromAddrs derives v1 addresses from a pair of socket addresses.
// Anything but a pair of TCP addresses of the same family maps to Unknown.
func AddressesFromAddrs(src, dst net.Addr) Addresses {
	srcTCP, srcOK := src.(*net.TCPAddr)
	dstTCP, dstOK := dst.(*net.TCPAddr)
	if !srcOK || !dstOK {
		return Unknown{}
	}

	switch a := ipAddresses(srcTCP.IP, dstTCP.IP, srcTCP.Port, dstTCP.Port).(type) {
	case IPv4:
		return a
	case IPv6:
		return a
	}
	return Unknown{}
}

// V2AddressesFromAddrs derives a v2 address block from a pair of socket
// addresses. A pair of mixed type or family maps to Unspec.
func V2AddressesFromAddrs(src, dst net.Addr) V2Addresses {
	switch srcType := src.(type) {
	case *net.TCPAddr:
		dstType, ok := dst.(*net.TCPAddr)
		if !ok {
			return Unspec{}
		}
		return ipAddresses(srcType.IP, dstType.IP, srcType.Port, dstType.Port)

	case *net.UDPAddr:
		dstType, ok := dst.(*net.UDPAddr)
		if !ok {
			return Unspec{}
		}
		return ipAddresses(srcType.IP, dstType.IP, srcType.Port, dstType.Port)

	case *net.UnixAddr:
		dstType, ok := dst.(*net.UnixAddr)
		if !ok {
			return Unspec{}
		}
		return NewUnix(srcType.Name, dstType.Name)
	}
	return Unspec{}
}

// ipAddresses maps a pair of IPs of the same family to its address block;
// a mixed pair maps to Unspec.
func ipAddresses(srcIP, dstIP net.IP, srcPort, dstPort int) V2Addresses {
	src4, dst4 := srcIP.To4(), dstIP.To4()
	if src4 != nil && dst4 != nil {
		var s, d [4]byte
		copy(s[:], src4)
		copy(d[:], dst4)
		return NewIPv4(s, d, uint16(srcPort), uint16(dstPort))
	}
	if src4 != nil || dst4 != nil {
		return Unspec{}
	}

	if src16, dst16 := srcIP.To16(), dstIP.To16(); src16 != nil && dst16 != nil {
		var s, d [16]byte
		copy(s[:], src16)
		copy(d[:], dst16)
		return NewIPv6(s, d, uint16(srcPort), uint16(dstPort))
	}
	return Unspec{}
}

// netAddrs converts a v2 address block back into socket addresses.
// Unspec yields a nil pair.
func netAddrs(addresses V2Addresses, tp TransportProtocol) (src, dst net.Addr) {
	switch a := addresses.(type) {
	case IPv4:
		return ipNetAddrs(net.IP(a.SourceAddress[:]), net.IP(a.DestinationAddress[:]),
			a.SourcePort, a.DestinationPort, tp)

	case IPv6:
		return ipNetAddrs(net.IP(a.SourceAddress[:]), net.IP(a.DestinationAddress[:]),
			a.SourcePort, a.DestinationPort, tp)

	case Unix:
		network := "unix"
		if tp == SOCK_DGRAM {
			network = "unixgram"
		}
		src = &net.UnixAddr{Net: network, Name: a.SourcePath()}
		dst = &net.UnixAddr{Net: network, Name: a.DestinationPath()}
		return src, dst
	}
	return nil, nil
}

func ipNetAddrs(srcIP, dstIP net.IP, srcPort, dstPort uint16, tp TransportProtocol) (src, dst net.Addr) {
	if tp == SOCK_DGRAM {
		src = &net.UDPAddr{IP: srcIP, Port: int(srcPort)}
		dst = &net.UDPAddr{IP: dstIP, Port: int(dstPort)}
		return src, dst
	}
	src = &net.TCPAddr{IP: srcIP, Port: int(srcPort)}
	dst = &net.TCPAddr{IP: dstIP, Port: int(dstPort)}
	return src, dst
}

// v1NetAddrs converts v1 addresses back into TCP socket addresses.
// Unknown yields a nil pair.
func v1NetAddrs(addresses Addresses) (src, dst net.Addr) {
	switch a := addresses.(type) {
	case IPv4:
		return netAddrs(a, SOCK_STREAM)
	case IPv6:
		return netAddrs(a, SOCK_STREAM)
	}
	return nil, nil
}
