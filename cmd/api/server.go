package main

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/chat"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/favorites"
)

// Server implements the pet market service and holds the components the
// handlers delegate to.
type Server struct {
	listings  *data.ListingsStore
	favorites *favorites.Reconciler
	resolver  *chat.Resolver
	chat      *chat.Controller
	hub       *ConnectionHub
	log       *zap.Logger
}

// newServer returns a ready-to-use Server.
func newServer(listings *data.ListingsStore, favs *favorites.Reconciler, resolver *chat.Resolver, controller *chat.Controller, hub *ConnectionHub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		listings:  listings,
		favorites: favs,
		resolver:  resolver,
		chat:      controller,
		hub:       hub,
		log:       log,
	}
}

// registerService registers the PetMarketService on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	s.RegisterService(&serviceDesc, srv)
}
