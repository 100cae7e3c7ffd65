package manifest

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	typeFile      = "file"
	typeFolder    = "folder"
	typeWorkspace = "workspace"
	typeUser      = "user"
)

type envelope struct {
	Type string              `json:"type"`
	Data jsoniter.RawMessage `json:"data"`
}

// MarshalRemote serializes a remote manifest into a typed envelope
func MarshalRemote(r Remote) ([]byte, error) {
	var kind string
	switch r.(type) {
	case *RemoteFile:
		kind = typeFile
	case *RemoteFolder:
		kind = typeFolder
	case *RemoteWorkspace:
		kind = typeWorkspace
	case *RemoteUser:
		kind = typeUser
	default:
		return nil, fmt.Errorf("unexpected remote manifest type %T", r)
	}
	return marshalEnvelope(kind, r)
}

// UnmarshalRemote deserializes a remote manifest from its typed envelope
func UnmarshalRemote(b []byte) (Remote, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %v", err)
	}

	var r Remote
	switch env.Type {
	case typeFile:
		r = &RemoteFile{}
	case typeFolder:
		r = &RemoteFolder{}
	case typeWorkspace:
		r = &RemoteWorkspace{}
	case typeUser:
		r = &RemoteUser{}
	default:
		return nil, fmt.Errorf("unknown remote manifest type %q", env.Type)
	}
	if err := json.Unmarshal(env.Data, r); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %v", err)
	}
	return r, nil
}

// MarshalLocal serializes a local manifest into a typed envelope
func MarshalLocal(l Local) ([]byte, error) {
	var kind string
	switch l.(type) {
	case *LocalFile:
		kind = typeFile
	case *LocalFolder:
		kind = typeFolder
	case *LocalWorkspace:
		kind = typeWorkspace
	case *LocalUser:
		kind = typeUser
	default:
		return nil, fmt.Errorf("unexpected local manifest type %T", l)
	}
	return marshalEnvelope(kind, l)
}

// UnmarshalLocal deserializes a local manifest from its typed envelope
func UnmarshalLocal(b []byte) (Local, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %v", err)
	}

	var l Local
	switch env.Type {
	case typeFile:
		l = &LocalFile{}
	case typeFolder:
		l = &LocalFolder{}
	case typeWorkspace:
		l = &LocalWorkspace{}
	case typeUser:
		l = &LocalUser{}
	default:
		return nil, fmt.Errorf("unknown local manifest type %q", env.Type)
	}
	if err := json.Unmarshal(env.Data, l); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %v", err)
	}
	return l, nil
}

func marshalEnvelope(kind string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: kind, Data: data})
}
