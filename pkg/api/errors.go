package api

import (
	"errors"
	"net/http"
	"os"

	"google.golang.org/grpc/codes"

	"github.com/therealutkarshpriyadarshi/ann/pkg/ann"
	"github.com/therealutkarshpriyadarshi/ann/pkg/hnsw"
	"github.com/therealutkarshpriyadarshi/ann/pkg/tenant"
)

var (
	// ErrInvalidRequest is returned for malformed request bodies
	ErrInvalidRequest = errors.New("api: invalid request")
	// ErrPathOutsideDataDir is returned when a save or load path escapes the data directory
	ErrPathOutsideDataDir = errors.New("api: path outside data directory")
	// ErrPermissionDenied is returned when the caller may not touch a namespace
	ErrPermissionDenied = errors.New("api: permission denied")
)

// Code classifies err into a gRPC status code. Both API layers use it so the
// same failure gets the same answer over HTTP and gRPC.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrPermissionDenied):
		return codes.PermissionDenied
	case errors.Is(err, tenant.ErrNamespaceNotFound), errors.Is(err, os.ErrNotExist):
		return codes.NotFound
	case errors.Is(err, tenant.ErrNamespaceExists), errors.Is(err, ann.ErrAlreadyInitialized),
		errors.Is(err, hnsw.ErrLabelExists):
		return codes.AlreadyExists
	case errors.Is(err, tenant.ErrQuotaExceeded), errors.Is(err, tenant.ErrTooManyNamespaces),
		errors.Is(err, tenant.ErrRateLimited), errors.Is(err, hnsw.ErrCapacityExceeded):
		return codes.ResourceExhausted
	case errors.Is(err, ann.ErrNotInitialized), errors.Is(err, hnsw.ErrClosed):
		return codes.FailedPrecondition
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrPathOutsideDataDir),
		errors.Is(err, tenant.ErrInvalidNamespace), errors.Is(err, ann.ErrLabelCountMismatch),
		errors.Is(err, ann.ErrDimensionMismatch), errors.Is(err, ann.ErrUnknownMetric),
		errors.Is(err, ann.ErrInvalidK), errors.Is(err, ann.ErrInvalidConfig),
		errors.Is(err, hnsw.ErrDimensionMismatch), errors.Is(err, hnsw.ErrBadSnapshot):
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

// HTTPStatus maps a status code to the HTTP status returned by the REST API
func HTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.FailedPrecondition:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
