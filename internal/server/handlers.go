package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tabdoc/internal/config"
	"github.com/hyperjump/tabdoc/internal/metrics"
	"github.com/hyperjump/tabdoc/internal/query"
	"github.com/hyperjump/tabdoc/internal/xmlrpc"
)

// method is one XML-RPC method; it returns a value or a *xmlrpc.Fault.
type method func(params []any) (any, error)

func (s *Server) methods() map[string]method {
	return map[string]method{
		"count_records":    s.countRecords,
		"get_record_by_id": s.getRecordByID,
		"execute_xpath":    s.executeXPath,
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	op := "unknown"
	outcome := metrics.OutcomeOK
	defer func() {
		s.metrics.ObserveRequest(Protocol, op, outcome, time.Since(start))
	}()

	limit := s.config.MaxMessageBytes
	if limit <= 0 {
		limit = config.DefaultMaxMessageBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	call, err := xmlrpc.DecodeCall(r.Body)
	if err != nil {
		outcome = metrics.OutcomeInvalid
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request too large")
			return
		}
		s.logger.Debug("malformed XML-RPC call", zap.Error(err))
		s.respondFault(w, &xmlrpc.Fault{Code: xmlrpc.CodeParseError, Message: err.Error()})
		return
	}

	fn, ok := s.methods()[call.Method]
	if !ok {
		outcome = metrics.OutcomeInvalid
		s.respondFault(w, &xmlrpc.Fault{Code: xmlrpc.CodeMethodNotFound, Message: "method not found: " + call.Method})
		return
	}
	op = call.Method

	result, err := fn(call.Params)
	if err != nil {
		outcome = metrics.OutcomeInvalid
		var fault *xmlrpc.Fault
		if !errors.As(err, &fault) {
			outcome = metrics.OutcomeError
			fault = &xmlrpc.Fault{Code: xmlrpc.CodeInternalError, Message: err.Error()}
		}
		s.respondFault(w, fault)
		return
	}

	var buf bytes.Buffer
	if err := xmlrpc.EncodeResponse(&buf, result); err != nil {
		outcome = metrics.OutcomeError
		s.logger.Error("encode XML-RPC response", zap.String("method", call.Method), zap.Error(err))
		s.respondFault(w, &xmlrpc.Fault{Code: xmlrpc.CodeInternalError, Message: err.Error()})
		return
	}
	s.writeXML(w, buf.Bytes())
}

func (s *Server) countRecords(params []any) (any, error) {
	if err := arity("count_records", params, 0); err != nil {
		return nil, err
	}
	return s.svc.Count(), nil
}

func (s *Server) getRecordByID(params []any) (any, error) {
	if err := arity("get_record_by_id", params, 1); err != nil {
		return nil, err
	}
	id, err := intParam(params[0])
	if err != nil {
		return nil, invalidParams("get_record_by_id: %v", err)
	}
	return s.svc.GetByID(id), nil
}

// executeXPath returns an array for node-set results and a single string for
// scalar and failed ones.
func (s *Server) executeXPath(params []any) (any, error) {
	if err := arity("execute_xpath", params, 1); err != nil {
		return nil, err
	}
	q, ok := params[0].(string)
	if !ok {
		return nil, invalidParams("execute_xpath: query must be a string, got %T", params[0])
	}
	res := s.svc.Execute(q)
	if res.Kind == query.Nodes {
		out := res.Values
		if out == nil {
			out = []string{}
		}
		return out, nil
	}
	return strings.Join(res.Values, ""), nil
}

func arity(name string, params []any, want int) error {
	if len(params) != want {
		return invalidParams("%s takes %d argument(s), got %d", name, want, len(params))
	}
	return nil
}

func invalidParams(format string, args ...any) *xmlrpc.Fault {
	return &xmlrpc.Fault{Code: xmlrpc.CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// intParam accepts an integer, an integral double or a numeric string.
func intParam(v any) (int, error) {
	switch x := v.(type) {
	case int64:
		if x > math.MaxInt32 || x < math.MinInt32 {
			return 0, fmt.Errorf("id %d out of range", x)
		}
		return int(x), nil
	case float64:
		if x != math.Trunc(x) || math.Abs(x) > math.MaxInt32 {
			return 0, fmt.Errorf("id %v is not an integer", x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("id %q is not an integer", x)
		}
		return n, nil
	}
	return 0, fmt.Errorf("id must be an integer, got %T", v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.svc.Store().Loaded() {
		status = "waiting"
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.svc.Uploads(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list uploads failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"uploads": entries})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, nil
}

func (s *Server) respondFault(w http.ResponseWriter, f *xmlrpc.Fault) {
	var buf bytes.Buffer
	if err := xmlrpc.EncodeFault(&buf, f); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeXML(w, buf.Bytes())
}

func (s *Server) writeXML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
