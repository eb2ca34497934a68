package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/omni/htlc-bridge/coordinator"
	"github.com/omni/htlc-bridge/presenter/http/render"
)

type ctxKey int

const (
	transferIDCtxKey ctxKey = iota
	resolverCtxKey
)

// GetTransferIDMiddleware parses the {transferID} path parameter.
func GetTransferIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transferID, err := coordinator.ParseTransferID(chi.URLParam(r, "transferID"))
		if err != nil {
			render.Error(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), transferIDCtxKey, transferID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func TransferID(ctx context.Context) common.Hash {
	if id, ok := ctx.Value(transferIDCtxKey).(common.Hash); ok {
		return id
	}
	return common.Hash{}
}

// GetResolverMiddleware parses the {address} path parameter.
func GetResolverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := chi.URLParam(r, "address")
		if !common.IsHexAddress(address) {
			render.Error(w, r, fmt.Errorf("resolver address %q: %w", address, render.ErrBadRequest))
			return
		}

		ctx := context.WithValue(r.Context(), resolverCtxKey, common.HexToAddress(address))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func Resolver(ctx context.Context) common.Address {
	if addr, ok := ctx.Value(resolverCtxKey).(common.Address); ok {
		return addr
	}
	return common.Address{}
}
