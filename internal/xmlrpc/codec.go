// Package xmlrpc encodes and decodes XML-RPC methodCall and methodResponse
// documents. Values map to Go as: int/i4/i8 → int64, boolean → bool,
// double → float64, string (or untyped) → string, array → []any,
// struct → map[string]any, nil → nil, base64 → []byte, dateTime.iso8601 → string.
package xmlrpc

import (
	"bufio"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// Standard fault codes.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Fault is an XML-RPC fault response.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("xmlrpc fault %d: %s", f.Code, f.Message)
}

// Call is a decoded methodCall.
type Call struct {
	Method string
	Params []any
}

type wireCall struct {
	XMLName    xml.Name    `xml:"methodCall"`
	MethodName string      `xml:"methodName"`
	Params     []wireParam `xml:"params>param"`
}

type wireParam struct {
	Value wireValue `xml:"value"`
}

type wireResponse struct {
	XMLName xml.Name    `xml:"methodResponse"`
	Params  []wireParam `xml:"params>param"`
	Fault   *wireParam  `xml:"fault"`
}

type wireValue struct {
	Int      *string     `xml:"int"`
	I4       *string     `xml:"i4"`
	I8       *string     `xml:"i8"`
	Boolean  *string     `xml:"boolean"`
	Double   *string     `xml:"double"`
	String   *string     `xml:"string"`
	Base64   *string     `xml:"base64"`
	DateTime *string     `xml:"dateTime.iso8601"`
	Nil      *struct{}   `xml:"nil"`
	Array    *wireArray  `xml:"array"`
	Struct   *wireStruct `xml:"struct"`
	Text     string      `xml:",chardata"`
}

type wireArray struct {
	Values []wireValue `xml:"data>value"`
}

type wireStruct struct {
	Members []wireMember `xml:"member"`
}

type wireMember struct {
	Name  string    `xml:"name"`
	Value wireValue `xml:"value"`
}

// DecodeCall parses a methodCall document.
func DecodeCall(r io.Reader) (*Call, error) {
	var wc wireCall
	if err := xml.NewDecoder(r).Decode(&wc); err != nil {
		return nil, fmt.Errorf("parse methodCall: %w", err)
	}
	name := strings.TrimSpace(wc.MethodName)
	if name == "" {
		return nil, errors.New("parse methodCall: missing methodName")
	}
	call := &Call{Method: name, Params: make([]any, 0, len(wc.Params))}
	for i, p := range wc.Params {
		v, err := p.Value.decode()
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i+1, err)
		}
		call.Params = append(call.Params, v)
	}
	return call, nil
}

// DecodeResponse parses a methodResponse document. A fault is returned as *Fault.
func DecodeResponse(r io.Reader) (any, error) {
	var wr wireResponse
	if err := xml.NewDecoder(r).Decode(&wr); err != nil {
		return nil, fmt.Errorf("parse methodResponse: %w", err)
	}
	if wr.Fault != nil {
		v, err := wr.Fault.Value.decode()
		if err != nil {
			return nil, fmt.Errorf("parse fault: %w", err)
		}
		m, _ := v.(map[string]any)
		f := &Fault{}
		if code, ok := m["faultCode"].(int64); ok {
			f.Code = int(code)
		}
		f.Message, _ = m["faultString"].(string)
		return nil, f
	}
	if len(wr.Params) != 1 {
		return nil, fmt.Errorf("parse methodResponse: expected 1 param, got %d", len(wr.Params))
	}
	return wr.Params[0].Value.decode()
}

func (v *wireValue) decode() (any, error) {
	switch {
	case v.Int != nil:
		return parseInt(*v.Int)
	case v.I4 != nil:
		return parseInt(*v.I4)
	case v.I8 != nil:
		return parseInt(*v.I8)
	case v.Boolean != nil:
		switch strings.TrimSpace(*v.Boolean) {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", *v.Boolean)
	case v.Double != nil:
		f, err := strconv.ParseFloat(strings.TrimSpace(*v.Double), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid double %q", *v.Double)
		}
		return f, nil
	case v.String != nil:
		return *v.String, nil
	case v.Base64 != nil:
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(*v.Base64))
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
		return b, nil
	case v.DateTime != nil:
		return strings.TrimSpace(*v.DateTime), nil
	case v.Nil != nil:
		return nil, nil
	case v.Array != nil:
		out := make([]any, 0, len(v.Array.Values))
		for i := range v.Array.Values {
			item, err := v.Array.Values[i].decode()
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case v.Struct != nil:
		out := make(map[string]any, len(v.Struct.Members))
		for i := range v.Struct.Members {
			m := &v.Struct.Members[i]
			item, err := m.Value.decode()
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", m.Name, err)
			}
			out[m.Name] = item
		}
		return out, nil
	}
	return v.Text, nil
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid int %q", s)
	}
	return n, nil
}

// EncodeCall writes a methodCall document.
func EncodeCall(w io.Writer, method string, params ...any) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(`<?xml version="1.0"?>` + "\n<methodCall><methodName>")
	xml.EscapeText(bw, []byte(method))
	bw.WriteString("</methodName><params>")
	for _, p := range params {
		bw.WriteString("<param>")
		if err := encodeValue(bw, p); err != nil {
			return err
		}
		bw.WriteString("</param>")
	}
	bw.WriteString("</params></methodCall>\n")
	return bw.Flush()
}

// EncodeResponse writes a successful methodResponse carrying v.
func EncodeResponse(w io.Writer, v any) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(`<?xml version="1.0"?>` + "\n<methodResponse><params><param>")
	if err := encodeValue(bw, v); err != nil {
		return err
	}
	bw.WriteString("</param></params></methodResponse>\n")
	return bw.Flush()
}

// EncodeFault writes a fault methodResponse.
func EncodeFault(w io.Writer, f *Fault) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(`<?xml version="1.0"?>` + "\n<methodResponse><fault>")
	if err := encodeValue(bw, map[string]any{"faultCode": f.Code, "faultString": f.Message}); err != nil {
		return err
	}
	bw.WriteString("</fault></methodResponse>\n")
	return bw.Flush()
}

func encodeValue(w *bufio.Writer, v any) error {
	w.WriteString("<value>")
	switch x := v.(type) {
	case nil:
		w.WriteString("<nil/>")
	case string:
		w.WriteString("<string>")
		if err := xml.EscapeText(w, []byte(x)); err != nil {
			return err
		}
		w.WriteString("</string>")
	case int:
		writeInt(w, int64(x))
	case int32:
		writeInt(w, int64(x))
	case int64:
		writeInt(w, x)
	case bool:
		if x {
			w.WriteString("<boolean>1</boolean>")
		} else {
			w.WriteString("<boolean>0</boolean>")
		}
	case float64:
		w.WriteString("<double>" + strconv.FormatFloat(x, 'f', -1, 64) + "</double>")
	case []byte:
		w.WriteString("<base64>" + base64.StdEncoding.EncodeToString(x) + "</base64>")
	case []string:
		w.WriteString("<array><data>")
		for _, s := range x {
			if err := encodeValue(w, s); err != nil {
				return err
			}
		}
		w.WriteString("</data></array>")
	case []any:
		w.WriteString("<array><data>")
		for _, item := range x {
			if err := encodeValue(w, item); err != nil {
				return err
			}
		}
		w.WriteString("</data></array>")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		w.WriteString("<struct>")
		for _, k := range keys {
			w.WriteString("<member><name>")
			xml.EscapeText(w, []byte(k))
			w.WriteString("</name>")
			if err := encodeValue(w, x[k]); err != nil {
				return err
			}
			w.WriteString("</member>")
		}
		w.WriteString("</struct>")
	default:
		return fmt.Errorf("xmlrpc: cannot encode %T", v)
	}
	w.WriteString("</value>")
	return nil
}

func writeInt(w *bufio.Writer, n int64) {
	if n >= -1<<31 && n < 1<<31 {
		w.WriteString("<int>" + strconv.FormatInt(n, 10) + "</int>")
		return
	}
	w.WriteString("<i8>" + strconv.FormatInt(n, 10) + "</i8>")
}
