package middleware

import (
	"context"
	"net/http"

	"cleanops/pkg/access"
	"cleanops/pkg/errutil"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	HeaderUserID     = "X-User-ID"
	HeaderUserRole   = "X-User-Role"
	HeaderBusinessID = "X-Business-ID"
)

// actorFrom builds an Actor from the identity headers set by the gateway in
// front of this service.
func actorFrom(get func(string) string) (access.Actor, error) {
	id := get(HeaderUserID)
	business := get(HeaderBusinessID)
	if id == "" || business == "" {
		return access.Actor{}, errutil.Unauthorized("missing identity headers", nil)
	}

	role, ok := access.ParseRole(get(HeaderUserRole))
	if !ok {
		return access.Actor{}, errutil.Forbidden("unknown role", nil)
	}

	return access.Actor{ID: id, Role: role, BusinessID: business}, nil
}

// Actor attaches the caller to the request context or aborts with 401/403.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorFrom(c.GetHeader)
		if err != nil {
			be := err.(errutil.BaseError)
			c.AbortWithStatusJSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		c.Request = c.Request.WithContext(access.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// MustActor reads the actor placed by Actor. Routes behind Actor always have one.
func MustActor(c *gin.Context) access.Actor {
	actor, ok := access.ActorFrom(c.Request.Context())
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
	}
	return actor
}

// ActorInterceptor is the gRPC counterpart of Actor. Calls without identity
// metadata pass through untouched so health probes keep working.
func ActorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}

		get := func(key string) string {
			if v := md.Get(key); len(v) > 0 {
				return v[0]
			}
			return ""
		}

		actor, err := actorFrom(get)
		if err != nil {
			return handler(ctx, req)
		}

		return handler(access.WithActor(ctx, actor), req)
	}
}
