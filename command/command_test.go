package command

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, cmd Command) Command {
	t.Helper()
	encoded := cmd.Encode(nil)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return decoded
}

func TestNoopRoundTrip(t *testing.T) {
	got := roundTrip(t, Noop{})
	if _, ok := got.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", got)
	}
}

func TestAuthenticateRoundTrip(t *testing.T) {
	want := Authenticate{Token: []byte("a-token")}
	got, ok := roundTrip(t, want).(Authenticate)
	if !ok {
		t.Fatalf("expected Authenticate, got different type")
	}
	if !bytes.Equal(got.Token, want.Token) {
		t.Fatalf("token mismatch: got %q want %q", got.Token, want.Token)
	}
}

func TestAuthenticateEmptyToken(t *testing.T) {
	got, ok := roundTrip(t, Authenticate{Token: nil}).(Authenticate)
	if !ok {
		t.Fatalf("expected Authenticate, got different type")
	}
	if len(got.Token) != 0 {
		t.Fatalf("expected empty token, got %q", got.Token)
	}
}

func TestGetPortRoundTrip(t *testing.T) {
	want := GetPort{Hostname: "n1", Port: 2222}
	got, ok := roundTrip(t, want).(GetPort)
	if !ok {
		t.Fatalf("expected GetPort, got different type")
	}
	if got != want {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
}

func TestSharePortRoundTrip(t *testing.T) {
	want := SharePort{Port: 2222, ID: 0xDEADBEEFCAFE}
	got, ok := roundTrip(t, want).(SharePort)
	if !ok {
		t.Fatalf("expected SharePort, got different type")
	}
	if got != want {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
}

func TestAddClientRoundTrip(t *testing.T) {
	want := AddClient{Username: "bob", Token: []byte("tok"), Permission: Admin(3)}
	got, ok := roundTrip(t, want).(AddClient)
	if !ok {
		t.Fatalf("expected AddClient, got different type")
	}
	if got.Username != want.Username || !bytes.Equal(got.Token, want.Token) || got.Permission != want.Permission {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
}

func TestRemoveClientRoundTrip(t *testing.T) {
	want := RemoveClient{Username: "bob"}
	got, ok := roundTrip(t, want).(RemoveClient)
	if !ok {
		t.Fatalf("expected RemoveClient, got different type")
	}
	if got != want {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
}

func TestListNodesRoundTrip(t *testing.T) {
	want := ListNodes{After: "n1", Limit: 50}
	got, ok := roundTrip(t, want).(ListNodes)
	if !ok {
		t.Fatalf("expected ListNodes, got different type")
	}
	if got != want {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
}

func TestAddNodeRoundTrip(t *testing.T) {
	want := AddNode{Hostname: "n1"}
	got, ok := roundTrip(t, want).(AddNode)
	if !ok {
		t.Fatalf("expected AddNode, got different type")
	}
	if got != want {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
}

func TestRemoveNodeRoundTrip(t *testing.T) {
	want := RemoveNode{Hostname: "n1"}
	got, ok := roundTrip(t, want).(RemoveNode)
	if !ok {
		t.Fatalf("expected RemoveNode, got different type")
	}
	if got != want {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
}

func TestNodeListRoundTrip(t *testing.T) {
	want := NodeList{Hostnames: []string{"n1", "n2", "n3"}}
	got, ok := roundTrip(t, want).(NodeList)
	if !ok {
		t.Fatalf("expected NodeList, got different type")
	}
	if len(got.Hostnames) != len(want.Hostnames) {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
	for i := range want.Hostnames {
		if got.Hostnames[i] != want.Hostnames[i] {
			t.Fatalf("mismatch: got %+v want %+v", got, want)
		}
	}
}

func TestNodeListRoundTripEmpty(t *testing.T) {
	got, ok := roundTrip(t, NodeList{}).(NodeList)
	if !ok {
		t.Fatalf("expected NodeList, got different type")
	}
	if len(got.Hostnames) != 0 {
		t.Fatalf("expected no hostnames, got %+v", got.Hostnames)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error decoding empty payload")
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	if _, err := Decode([]byte{0xFF}); err == nil {
		t.Fatal("expected error decoding unknown tag")
	}
}

func TestMinPermission(t *testing.T) {
	cases := []struct {
		cmd  Command
		want Permission
	}{
		{Noop{}, Any},
		{Authenticate{}, Any},
		{GetPort{}, Standard},
		{SharePort{}, Node},
		{ListClients{}, Admin(0)},
		{RemoveClient{}, Admin(0)},
		{AddClient{Permission: Standard}, Admin(0)},
		{AddClient{Permission: Admin(3)}, Admin(4)},
		{ListNodes{}, Standard},
		{AddNode{}, Admin(0)},
		{RemoveNode{}, Admin(0)},
		{NodeList{}, Any},
	}
	for _, c := range cases {
		if got := MinPermission(c.cmd); got != c.want {
			t.Errorf("MinPermission(%T) = %v, want %v", c.cmd, got, c.want)
		}
	}
}
