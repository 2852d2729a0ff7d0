package socket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Addr converts a resolved UDP address into the form the kernel wants.
func Addr(x *net.UDPAddr) unix.Sockaddr {
	if ip4 := x.IP.To4(); ip4 != nil {
		res := &unix.SockaddrInet4{
			Port: x.Port,
		}
		copy(res.Addr[:], ip4)
		return res
	}
	res := &unix.SockaddrInet6{
		Port: x.Port,
	}
	copy(res.Addr[:], x.IP.To16())
	return res
}

func AddrToString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("%s:%d", ip, v.Port)
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip, v.Port)
	case *unix.SockaddrUnix:
		return v.Name
	default:
		panic(fmt.Errorf("unsupported address type %T", v))
	}
}

func family(sa unix.Sockaddr) int {
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

// Dial creates a datagram socket connected to the given endpoint and
// returns its fd together with the resolved remote address.
func Dial(network, endpoint string) (int, unix.Sockaddr, error) {
	addr, err := net.ResolveUDPAddr(network, endpoint)
	if err != nil {
		return -1, nil, fmt.Errorf("resolve addr: %w", err)
	}

	remote := Addr(addr)
	fd, err := unix.Socket(family(remote), unix.SOCK_DGRAM, 0)
	if err != nil {
		return -1, nil, fmt.Errorf("socket: %w", err)
	}

	if err = unix.Connect(fd, remote); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("connect: %w", err)
	}
	return fd, remote, nil
}

// Listen creates a datagram socket bound to the given local endpoint.
// Use LocalAddr to learn the actual address after binding to port 0.
func Listen(network, endpoint string) (int, error) {
	addr, err := net.ResolveUDPAddr(network, endpoint)
	if err != nil {
		return -1, fmt.Errorf("resolve addr: %w", err)
	}

	local := Addr(addr)
	fd, err := unix.Socket(family(local), unix.SOCK_DGRAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err = unix.Bind(fd, local); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	return fd, nil
}

// LocalAddr reports the address a socket is actually bound to.
func LocalAddr(fd int) (unix.Sockaddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return sa, nil
}
