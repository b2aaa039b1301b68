package msg

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestMarshalCarriesDiscriminator(t *testing.T) {
	data, err := Marshal(&Heartbeat{WorkerID: "worker1"})
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	var kind Type
	if err := json.Unmarshal(fields["type"], &kind); err != nil {
		t.Fatal(err)
	}
	if kind != TypeHeartbeat {
		t.Errorf("unexpected type field. got=%q, want=%q", kind, TypeHeartbeat)
	}
}

func TestUnmarshalDispatchesOnType(t *testing.T) {
	data, err := Marshal(&ExecuteTask{
		TaskID: "task1",
		Work:   Task{Handler: "sum", Args: json.RawMessage(`[1,2,3]`)},
	})
	if err != nil {
		t.Fatal(err)
	}
	m, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := m.(*ExecuteTask)
	if !ok {
		t.Fatalf("unexpected message type. got=%T, want=*ExecuteTask", m)
	}
	if got.TaskID != "task1" || got.Work.Handler != "sum" {
		t.Errorf("unexpected message. got=%+v", got)
	}
	if string(got.Work.Args) != `[1,2,3]` {
		t.Errorf("unexpected args. got=%s, want=[1,2,3]", got.Work.Args)
	}
}

func TestUnmarshalUnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"launch_missiles"}`))
	var unknown *UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("unexpected error. got=%v, want=*UnknownTypeError", err)
	}
	if unknown.Type != "launch_missiles" {
		t.Errorf("unexpected type in error. got=%q, want=%q", unknown.Type, "launch_missiles")
	}
}

func TestBytesEncodesAsTaggedBase64(t *testing.T) {
	raw := []byte{0x00, 0x01, 0xfe, 0xff}
	data, err := json.Marshal(Bytes(raw))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), binaryTag) {
		t.Errorf("encoded bytes missing binary tag: %s", data)
	}

	var decoded Bytes
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Errorf("unexpected bytes. got=%x, want=%x", decoded, raw)
	}
}

func TestBytesRejectsUntaggedObject(t *testing.T) {
	var decoded Bytes
	if err := json.Unmarshal([]byte(`{"other":"x"}`), &decoded); err == nil {
		t.Error("expected error for object without binary tag")
	}
}

func TestAuthResponseRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0xab}, 32)
	data, err := Marshal(&AuthResponse{
		Success:       true,
		Message:       "authentication successful",
		EncryptionKey: Bytes(key),
	})
	if err != nil {
		t.Fatal(err)
	}
	m, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := m.(*AuthResponse)
	if !ok {
		t.Fatalf("unexpected message type. got=%T, want=*AuthResponse", m)
	}
	if !got.Success || !bytes.Equal(got.EncryptionKey, key) {
		t.Errorf("unexpected message. got=%+v", got)
	}
}
