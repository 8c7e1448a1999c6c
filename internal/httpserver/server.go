package httpserver

import "github.com/gorilla/mux"

// Server owns the router the notification and directory handlers register
// on. cmd/api wraps s.Mux with the logging and metrics middleware before
// serving it.
type Server struct {
	Mux *mux.Router
}

func New() *Server {
	return &Server{Mux: mux.NewRouter()}
}
