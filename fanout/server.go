// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package fanout implements the gRPC fan-out server of mode Kafka2Grpc
// (§4.I): a Geyser-shaped Subscribe RPC broadcasting every update
// received on an intake channel to every currently-registered
// subscriber, dropping any subscriber whose bounded channel is full
// rather than stalling the broadcaster.
package fanout

import (
	"context"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"github.com/solanabridge/geyser-kafka-bridge/concurrent"
)

// Config configures a Server, mapping to the kafka2grpc section of the
// bridge's JSON config (§6).
type Config struct {
	Addr            string
	ChannelCapacity int
}

// Server implements pb.GeyserServer's Subscribe method and owns the
// broadcaster goroutine.
type Server struct {
	pb.UnimplementedGeyserServer

	cfg  Config
	log  *slog.Logger
	subs *concurrent.Cache[uuid.UUID, chan *pb.SubscribeUpdate]

	grpcSrv *grpc.Server
}

// New builds a Server. Subscribe will not accept connections until
// Run is called.
func New(cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 1024
	}
	return &Server{
		cfg:  cfg,
		log:  log,
		subs: concurrent.NewCache[uuid.UUID, chan *pb.SubscribeUpdate](),
	}
}

// Run boots the gRPC server and the broadcaster goroutine, returning
// the intake channel the caller feeds with every update read from
// Kafka. It returns as soon as the listener is bound; the server keeps
// running in the background and is stopped gracefully once ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) (chan<- *pb.SubscribeUpdate, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, err
	}

	srv := grpc.NewServer()
	pb.RegisterGeyserServer(srv, s)
	s.grpcSrv = srv

	intake := make(chan *pb.SubscribeUpdate, s.cfg.ChannelCapacity)

	go s.broadcast(ctx, intake)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	go func() {
		if err := srv.Serve(ln); err != nil {
			s.log.ErrorContext(ctx, "fanout grpc server stopped", slog.Any("error", err))
		}
	}()

	return intake, nil
}

// broadcast fans out every update received on intake to all
// registered subscriber channels via a non-blocking send, dropping
// (closing and deregistering) any subscriber whose channel is full.
func (s *Server) broadcast(ctx context.Context, intake <-chan *pb.SubscribeUpdate) {
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case update, ok := <-intake:
			if !ok {
				s.closeAll()
				return
			}
			s.fanOut(update)
		}
	}
}

func (s *Server) fanOut(update *pb.SubscribeUpdate) {
	var dropped []uuid.UUID
	s.subs.Range(func(id uuid.UUID, ch chan *pb.SubscribeUpdate) {
		select {
		case ch <- update:
		default:
			dropped = append(dropped, id)
		}
	})

	for _, id := range dropped {
		s.deregister(id)
	}
}

func (s *Server) closeAll() {
	s.subs.Range(func(id uuid.UUID, ch chan *pb.SubscribeUpdate) {
		close(ch)
	})
}

func (s *Server) deregister(id uuid.UUID) {
	ch, ok := s.subs.Get(id)
	if !ok {
		return
	}
	s.subs.Delete(id)
	close(ch)
	s.log.Warn("fanout subscriber disconnected for lagging behind", slog.String("subscriber", id.String()))
}

// Subscribe implements pb.GeyserServer: each call registers a new
// bounded channel and streams from it until the subscriber's channel
// is closed (by deregister on lag) or the client disconnects.
func (s *Server) Subscribe(stream pb.Geyser_SubscribeServer) error {
	id := uuid.New()
	ch := make(chan *pb.SubscribeUpdate, s.cfg.ChannelCapacity)
	s.subs.Set(id, ch)
	defer s.subs.Delete(id)

	ctx := stream.Context()

	// Drain and discard client-sent SubscribeRequest messages; the
	// fan-out server serves one broadcast feed to every subscriber and
	// does not support per-subscriber filters.
	go func() {
		for {
			if _, err := stream.Recv(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(update); err != nil {
				return err
			}
		}
	}
}

// Stop gracefully stops the gRPC server, if running.
func (s *Server) Stop() {
	if s.grpcSrv != nil {
		s.grpcSrv.GracefulStop()
	}
}
