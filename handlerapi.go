package chaindexer

import "github.com/chaindexer/chaindexer/internal/handlerapi"

// HandlerContext, PureHandler and SideEffectHandler are the handler-facing
// types from spec.md §6. They live in internal/handlerapi so the runner in
// internal/handler can construct and pass them without importing this
// package; these aliases keep them part of the public chaindexer API.
type (
	HandlerContext    = handlerapi.Context
	PureHandler       = handlerapi.PureHandler
	SideEffectHandler = handlerapi.SideEffectHandler
)
