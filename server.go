package rtmp

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/config"
	"github.com/streamcore/rtmp/handshake"
	"go.uber.org/zap"
)

// Server represents the RTMP server, where a client/app can stream media to. The server listens for incoming connections.
type Server struct {
	Config      *config.Config
	Logger      *zap.Logger
	Broadcaster *Broadcaster
	// Classes, when set, admits its classes from clients alongside the configured allow list.
	Classes *amf.Registry
	// Calls answers client calls outside the stream protocol, by command name.
	Calls map[string]CallFunc
}

// NewServer returns a server relaying streams through an in-memory context.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Config:      cfg,
		Logger:      logger,
		Broadcaster: NewBroadcaster(NewInMemoryContext(), logger),
	}
}

// ListenAndServe listens on the configured address, and on the RTMPS address when TLS is configured, until
// ctx is done or a listener fails. It returns once every connection has ended.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listeners, err := s.listen()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, len(listeners))
	for _, ln := range listeners {
		go func(ln net.Listener) {
			errc <- s.Serve(ctx, ln)
		}(ln)
	}
	var first error
	for range listeners {
		if err := <-errc; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	return first
}

func (s *Server) listen() ([]net.Listener, error) {
	addr := s.Config.Server.Addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "[server] listen on %s", addr)
	}
	s.Logger.Info("[server] listening", zap.String("addr", ln.Addr().String()))
	tlsCfg := s.Config.Server.TLS
	if !tlsCfg.Enabled() {
		return []net.Listener{ln}, nil
	}

	cert, err := tls.LoadX509KeyPair(tlsCfg.Cert, tlsCfg.Key)
	if err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "[server] load TLS key pair")
	}
	tln, err := tls.Listen("tcp", tlsCfg.Addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		ln.Close()
		return nil, errors.Wrapf(err, "[server] listen on %s", tlsCfg.Addr)
	}
	s.Logger.Info("[server] listening for RTMPS", zap.String("addr", tln.Addr().String()))
	return []net.Listener{ln, tln}, nil
}

// Serve accepts connections on ln until ctx is done. Cancelling ctx closes the listener and every
// connection accepted from it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	// connections accepted from ln only
	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.Logger.Warn("[server] error accepting incoming connection", zap.Error(err))
				continue
			}
			wg.Wait()
			return errors.Wrap(err, "[server] accept")
		}

		s.Logger.Info("[server] accepted incoming connection", zap.String("remote", conn.RemoteAddr().String()))
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	r, _ := NewReader(bufio.NewReaderSize(nc, config.BufioSize))
	w, _ := NewWriter(bufio.NewWriterSize(nc, config.BufioSize))
	cfg := s.Config

	session := NewSession(cfg, s.Broadcaster, s.Logger, WithClasses(s.Classes), WithCalls(s.Calls))
	hs := handshake.New(handshake.RoleServer, handshake.AllowEncryption(cfg.RTMP.AllowEncrypted))
	c := NewConn(w, hs,
		WithLogger(s.Logger.With(zap.String("remote", nc.RemoteAddr().String()))),
		WithHandler(session),
		WithCloser(nc),
		WithMaxMessageLength(cfg.RTMP.MaxMessageLength),
	)
	session.bind(c)
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	c.Logger().Info("[server] starting session")
	if err := c.Start(); err != nil {
		c.Logger().Error("[server] session failed to start", zap.Error(err))
		return
	}
	if err := readLoop(r, c); err != nil {
		c.Logger().Error("[server] session ended with an error", zap.Error(err), zap.Uint64("received", r.ReadBytes()),
			zap.Uint64("sent", w.WrittenBytes()))
		return
	}
	c.Logger().Info("[server] session ended", zap.Uint64("received", r.ReadBytes()), zap.Uint64("sent", w.WrittenBytes()))
}

// readLoop feeds c with everything read from r until the transport or the connection ends. It returns
// the error that failed the connection, if any.
func readLoop(r io.Reader, c *Conn) error {
	defer c.Close()
	buf := make([]byte, config.BufioSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := c.Feed(buf[:n]); ferr != nil {
				return c.Err()
			}
		}
		if err != nil {
			if err != io.EOF && c.accepting() {
				c.logger.Debug("[conn] read failed", zap.Error(err))
			}
			return c.Err()
		}
	}
}
