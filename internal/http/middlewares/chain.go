// Package middlewares holds the http.Handler decorators every route goes
// through: request id, logging, recover, headers, metrics, rate limits and
// session checks.
package middlewares

import "net/http"

// Middleware es un decorador de http.Handler; la firma es la de chi.Router.Use.
type Middleware = func(http.Handler) http.Handler

// Chain aplica middlewares de izquierda a derecha: Chain(h, A, B) ejecuta A -> B -> h.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// ChainFunc es Chain para un http.HandlerFunc.
func ChainFunc(hf http.HandlerFunc, mws ...Middleware) http.Handler {
	return Chain(hf, mws...)
}
