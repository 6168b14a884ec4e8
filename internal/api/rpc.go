package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/buger/jsonparser"
	"github.com/devserver-emu/devserver/internal/apiproxy"
	"github.com/labstack/echo/v4"
)

// Envelope headers every RPC request must carry.
const (
	ServiceEndpointHeader = "X-Google-RPC-Service-Endpoint"
	ServiceMethodHeader   = "X-Google-RPC-Service-Method"
	ServiceDeadlineHeader = "X-Google-RPC-Service-Deadline"

	expectedEndpoint    = "app-engine-apis"
	expectedMethod      = "/VMRemoteAPI.CallRemoteAPI"
	expectedContentType = "application/octet-stream"
)

// RPC-level error codes carried in the response envelope.
const (
	rpcUnknown            = 0
	rpcCallNotFound       = 1
	rpcParseError         = 2
	rpcRequestTooLarge    = 5
	rpcCapabilityDisabled = 6
	rpcResponseTooLarge   = 9
	rpcCancelled          = 10
	rpcDeadlineExceeded   = 12
)

// maxEnvelopeSize bounds the request envelope. The payload travels
// base64-encoded, so the envelope holds 4/3 of the payload the dispatch
// proxy accepts, plus slack for the other fields. Payloads just over the
// proxy limit still fit, so the proxy's own size check produces the error.
var maxEnvelopeSize = int64(base64.StdEncoding.EncodedLen(apiproxy.MaxRequestSize)) + 4096

type rpcError struct {
	Code   int    `json:"code"`
	Detail string `json:"detail"`
}

type rpcResponse struct {
	Payload          string    `json:"payload,omitempty"`
	RPCError         *rpcError `json:"rpcError,omitempty"`
	ApplicationError *rpcError `json:"applicationError,omitempty"`
}

// HandleRPC serves one API call addressed to the local dispatch proxy. The
// request body is a JSON envelope {service, method, payload(base64)}.
func (s *Server) HandleRPC(c echo.Context) error {
	r := c.Request()
	if r.Header.Get(ServiceEndpointHeader) != expectedEndpoint {
		return c.String(http.StatusBadRequest, "unexpected service endpoint")
	}
	if r.Header.Get(ServiceMethodHeader) != expectedMethod {
		return c.String(http.StatusBadRequest, "unexpected service method")
	}
	if r.Header.Get(echo.HeaderContentType) != expectedContentType {
		return c.String(http.StatusBadRequest, "unexpected content type")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeSize+1))
	if err != nil {
		return c.String(http.StatusBadRequest, "cannot read request body")
	}
	if int64(len(body)) > maxEnvelopeSize {
		return envelopeError(c, &rpcError{Code: rpcRequestTooLarge, Detail: "request envelope too large"})
	}

	service, errSvc := jsonparser.GetString(body, "service")
	method, errMethod := jsonparser.GetString(body, "method")
	if errSvc != nil || errMethod != nil || service == "" || method == "" {
		return envelopeError(c, &rpcError{Code: rpcParseError, Detail: "malformed request envelope"})
	}
	payload := []byte{}
	if encoded, err := jsonparser.GetString(body, "payload"); err == nil {
		payload, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return envelopeError(c, &rpcError{Code: rpcParseError, Detail: "malformed payload encoding"})
		}
	}

	env := s.newEnvironment()
	if h := r.Header.Get(ServiceDeadlineHeader); h != "" {
		if seconds, err := strconv.ParseFloat(h, 64); err == nil && seconds > 0 {
			env.Deadline = seconds
		}
	}

	result, callErr := s.proxy.MakeSyncCall(env, service, method, payload)
	if callErr != nil {
		log.Printf("rpc %s.%s failed: %v", service, method, callErr)
		return envelopeCallError(c, callErr)
	}
	return c.JSON(http.StatusOK, rpcResponse{
		Payload: base64.StdEncoding.EncodeToString(result),
	})
}

func envelopeError(c echo.Context, e *rpcError) error {
	return c.JSON(http.StatusOK, rpcResponse{RPCError: e})
}

// envelopeCallError maps dispatch errors onto the wire taxonomy. Application
// errors travel in their own envelope field; everything else is an RPC error.
func envelopeCallError(c echo.Context, err error) error {
	switch e := err.(type) {
	case *apiproxy.ApplicationError:
		return c.JSON(http.StatusOK, rpcResponse{
			ApplicationError: &rpcError{Code: e.Code, Detail: e.Detail},
		})
	case *apiproxy.CallNotFoundError:
		return envelopeError(c, &rpcError{Code: rpcCallNotFound, Detail: e.Error()})
	case *apiproxy.RequestTooLargeError:
		return envelopeError(c, &rpcError{Code: rpcRequestTooLarge, Detail: e.Error()})
	case *apiproxy.ResponseTooLargeError:
		return envelopeError(c, &rpcError{Code: rpcResponseTooLarge, Detail: e.Error()})
	case *apiproxy.DeadlineExceededError:
		return envelopeError(c, &rpcError{Code: rpcDeadlineExceeded, Detail: e.Error()})
	case *apiproxy.CancelledError:
		return envelopeError(c, &rpcError{Code: rpcCancelled, Detail: e.Error()})
	case *apiproxy.CapabilityDisabledError:
		return envelopeError(c, &rpcError{Code: rpcCapabilityDisabled, Detail: e.Error()})
	default:
		return envelopeError(c, &rpcError{Code: rpcUnknown, Detail: err.Error()})
	}
}

// decodeEnvelope is the client-side counterpart used by the CLI and tests.
func decodeEnvelope(body []byte) (payload []byte, appErr *rpcError, rpcErr *rpcError, err error) {
	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, nil, err
	}
	if resp.RPCError != nil {
		return nil, nil, resp.RPCError, nil
	}
	if resp.ApplicationError != nil {
		return nil, resp.ApplicationError, nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(resp.Payload)
	if err != nil {
		return nil, nil, nil, err
	}
	return decoded, nil, nil, nil
}
