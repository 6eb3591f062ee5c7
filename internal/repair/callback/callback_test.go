package callback

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	cases := []Action{
		{Kind: "sc_accept", RequestID: 42, Version: 3},
		{Kind: "admin_send_to_sc", RequestID: 7, Version: 1, Extra: "12"},
		{Kind: "contact", RequestID: 9, Version: 0, Extra: "a:b"},
	}
	for _, want := range cases {
		t.Run(want.Kind, func(t *testing.T) {
			data := Encode(want)
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode(%q): %v", data, err)
			}
			if got != want {
				t.Fatalf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, data := range []string{"", "sc_accept", "sc_accept:x:1", "sc_accept:1:y", ":1:1", "sc_accept:-1:0"} {
		if _, err := Decode(data); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Decode(%q) err = %v, want ErrMalformed", data, err)
		}
	}
}

func TestEncodeFitsLimit(t *testing.T) {
	data := Encode(Action{Kind: "client_approve_final_price", RequestID: 1234567890, Version: 99, Extra: strings.Repeat("x", 60)})
	if len(data) > MaxLen {
		t.Fatalf("payload too long: %d", len(data))
	}
}

func TestExtraInt(t *testing.T) {
	a, err := Decode("admin_send_to_sc:5:2:31")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	id, err := a.ExtraInt()
	if err != nil || id != 31 {
		t.Fatalf("ExtraInt = %d, %v", id, err)
	}
}
