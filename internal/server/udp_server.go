package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sys/unix"

	"github.com/jroosing/loadants/internal/pool"
)

// Socket buffer sizes for high throughput (4MB each).
const (
	socketRecvBufferSize = 4 * 1024 * 1024
	socketSendBufferSize = 4 * 1024 * 1024

	// maxIncomingDNSMessageSize bounds the per-packet buffer; EDNS0 allows
	// UDP payloads up to 65535 bytes even though typical responses are
	// far smaller.
	maxIncomingDNSMessageSize = 65535
)

// DefaultWorkersPerSocket is the default number of worker goroutines per UDP socket.
const DefaultWorkersPerSocket = 1024

// bufferPool reduces allocations for incoming UDP packets.
var bufferPool = pool.New(func() *[]byte {
	buf := make([]byte, maxIncomingDNSMessageSize)
	return &buf
})

// UDPServer handles DNS queries over UDP.
//
// Features:
//   - Multiple sockets with SO_REUSEPORT for kernel-level load balancing
//   - Fixed worker pool per socket (no goroutine spawn per packet)
//   - Buffer pooling to reduce GC pressure under load
//   - Non-blocking receive path (drops packets if workers are busy)
//   - EDNS-aware response truncation via miekg/dns
//   - Graceful shutdown with timeout
type UDPServer struct {
	Logger           *slog.Logger
	Handler          *QueryHandler
	WorkersPerSocket int

	conns []*net.UDPConn
	wg    sync.WaitGroup
}

type packet struct {
	bufPtr *[]byte
	n      int
	peer   *net.UDPAddr
}

// Run starts the UDP server with multiple sockets using SO_REUSEPORT, one
// per CPU core, each with its own fixed pool of worker goroutines.
func (s *UDPServer) Run(ctx context.Context, addr string) error {
	if s.WorkersPerSocket <= 0 {
		s.WorkersPerSocket = DefaultWorkersPerSocket
	}

	socketCount := runtime.NumCPU()
	s.conns = make([]*net.UDPConn, 0, socketCount)

	for range socketCount {
		conn, err := listenReusePort(addr)
		if err != nil {
			for _, c := range s.conns {
				_ = c.Close()
			}
			return err
		}

		_ = conn.SetReadBuffer(socketRecvBufferSize)
		_ = conn.SetWriteBuffer(socketSendBufferSize)

		s.conns = append(s.conns, conn)

		packetCh := make(chan packet, s.WorkersPerSocket*2)
		c := conn
		ch := packetCh

		s.wg.Add(1 + s.WorkersPerSocket)
		go func() {
			defer s.wg.Done()
			s.recvLoop(ctx, c, ch)
		}()
		for range s.WorkersPerSocket {
			go func() {
				defer s.wg.Done()
				s.workerLoop(ctx, c, ch)
			}()
		}
	}

	<-ctx.Done()
	return s.Stop(5 * time.Second)
}

func (s *UDPServer) recvLoop(ctx context.Context, conn *net.UDPConn, out chan<- packet) {
	for {
		bufPtr := bufferPool.Get()
		buf := *bufPtr

		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			bufferPool.Put(bufPtr)
			return
		}

		select {
		case out <- packet{bufPtr, n, peer}:
		default:
			bufferPool.Put(bufPtr)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *UDPServer) workerLoop(ctx context.Context, conn *net.UDPConn, in <-chan packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			s.handlePacket(ctx, conn, pkt)
		}
	}
}

func (s *UDPServer) handlePacket(ctx context.Context, conn *net.UDPConn, p packet) {
	defer bufferPool.Put(p.bufPtr)

	if s.Handler == nil {
		return
	}

	payload := (*p.bufPtr)[:p.n]
	peerIP := p.peer.IP.String()
	resp := s.Handler.Handle(ctx, "udp", peerIP, payload)
	if len(resp) == 0 {
		return
	}

	resp = truncateUDPResponse(resp, clientMaxUDPSize(payload))
	_, _ = conn.WriteToUDP(resp, p.peer)
}

// clientMaxUDPSize inspects the request's EDNS0 OPT record (if any) for the
// client's advertised UDP payload size, defaulting to 512 per RFC 1035 when
// absent or unparsable.
func clientMaxUDPSize(reqWire []byte) int {
	req := new(dns.Msg)
	if err := req.Unpack(reqWire); err != nil {
		return dns.MinMsgSize
	}
	if opt := req.IsEdns0(); opt != nil {
		if sz := int(opt.UDPSize()); sz > dns.MinMsgSize {
			return sz
		}
	}
	return dns.MinMsgSize
}

// truncateUDPResponse sets TC and strips the response down to header+
// question when it exceeds maxSize, relying on miekg/dns's own truncation
// rather than hand-rolled wire parsing.
func truncateUDPResponse(respWire []byte, maxSize int) []byte {
	if len(respWire) <= maxSize {
		return respWire
	}
	resp := new(dns.Msg)
	if err := resp.Unpack(respWire); err != nil {
		return respWire
	}
	resp.Truncate(maxSize)
	out, err := resp.Pack()
	if err != nil {
		return respWire
	}
	return out
}

// Stop gracefully shuts down the UDP server.
func (s *UDPServer) Stop(timeout time.Duration) error {
	for _, c := range s.conns {
		_ = c.Close()
	}

	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("udp server: timeout waiting for goroutines to exit")
	}
}

// listenReusePort creates a UDP socket with SO_REUSEPORT enabled so the
// kernel distributes incoming packets across one socket per CPU core.
func listenReusePort(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", udpAddr.String())
	if err != nil {
		return nil, err
	}

	return pc.(*net.UDPConn), nil
}
