package httpapi

import (
	"errors"
	"io"
	"net/http"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxRequestBody caps request bodies for both protobuf and JSON payloads.
// A user record is a short hex id and a name.
const maxRequestBody = 4096

var errBodyTooLarge = errors.New("request body too large")

// isProtobuf reports whether the request carries a protobuf payload.
// Provisioning tools send a google.protobuf.Struct as
// "application/x-protobuf".
func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "application/x-protobuf" ||
		ct == "application/protobuf"
}

// readProto reads the request body and unmarshals it into msg.
func readProto(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return err
	}
	if len(body) > maxRequestBody {
		return errBodyTooLarge
	}
	return proto.Unmarshal(body, msg)
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// structString returns the string field key of s, or "" when it is
// missing or not a string.
func structString(s *structpb.Struct, key string) string {
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// protoResult builds the Struct reply for a management request.
func protoResult(ok bool, fields map[string]any) *structpb.Struct {
	m := map[string]any{"ok": ok}
	for k, v := range fields {
		m[k] = v
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		// Only reachable with a non-JSON value in fields.
		return &structpb.Struct{Fields: map[string]*structpb.Value{"ok": structpb.NewBoolValue(false)}}
	}
	return s
}
