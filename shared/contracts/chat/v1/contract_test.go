package v1

import (
	"encoding/json"
	"testing"
)

func TestDecode_Classifies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		kind Kind
	}{
		{"auth ok", `{"event":"auth","status":"ok"}`, KindAuth},
		{"read", `{"event":"read","readerId":2,"partnerId":1,"messageIds":[4,5]}`, KindRead},
		{"message", `{"id":9,"fromUserId":2,"toUserId":1,"type":"text","content":"hi","status":"sent","createdAt":"2024-05-01T10:00:00"}`, KindMessage},
	}
	for _, tc := range cases {
		kind, _, _, err := Decode([]byte(tc.in))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if kind != tc.kind {
			t.Fatalf("%s: kind got=%d want=%d", tc.name, kind, tc.kind)
		}
	}
}

func TestDecode_Message(t *testing.T) {
	t.Parallel()

	in := `{"id":9,"fromUserId":2,"toUserId":1,"type":"image","mediaUrl":"/u/a.png","extra":{"w":10},"status":"sent"}`
	_, _, m, err := Decode([]byte(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.ID != 9 || m.FromUserID != 2 || m.ToUserID != 1 || !m.IsMedia() || m.IsRead() {
		t.Fatalf("message got=%+v", m)
	}
	if string(m.Extra) != `{"w":10}` {
		t.Fatalf("extra got=%s", m.Extra)
	}
}

func TestDecode_ReadIDs(t *testing.T) {
	t.Parallel()

	_, f, _, err := Decode([]byte(`{"event":"read","readerId":2,"partnerId":1,"messageIds":[4,5]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.ReaderID != 2 || f.PartnerID != 1 || len(f.MessageIDs) != 2 || f.MessageIDs[1] != 5 {
		t.Fatalf("frame got=%+v", f)
	}
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{`{`, `[]`, `{"type":"text"}`, `{"id":-1}`, `{"id":"7"}`} {
		if _, _, _, err := Decode([]byte(in)); err == nil {
			t.Fatalf("in=%s: expected error", in)
		}
	}
}

func TestClientFrame_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		f  ClientFrame
		ok bool
	}{
		{ClientFrame{}, false},
		{ClientFrame{Type: TypeAuth}, false},
		{ClientFrame{Type: TypeAuth, Token: "t"}, true},
		{ClientFrame{Type: TypeText, Content: " "}, false},
		{ClientFrame{Type: TypeText, Content: "hi"}, true},
		{ClientFrame{Type: TypeImage}, false},
		{ClientFrame{Type: TypeImage, MediaURL: "/u/a.png", Extra: json.RawMessage(`null`)}, true},
	}
	for i, tc := range cases {
		if err := tc.f.Validate(); (err == nil) != tc.ok {
			t.Fatalf("case %d: err=%v ok=%v", i, err, tc.ok)
		}
	}
}
