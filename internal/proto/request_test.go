package proto

import (
	"errors"
	"testing"
)

func TestParseRequestForms(t *testing.T) {
	legacy := "{ 'method' : 'call' , 'name' : 'Player1' , 'action' : 'raise 10' }\n"
	r, err := ParseRequest(legacy)
	if err != nil {
		t.Fatalf("ParseRequest legacy: %v", err)
	}
	if r != (Request{Method: MethodCall, Name: "Player1", Action: "raise 10"}) {
		t.Fatalf("unexpected request: %+v", r)
	}

	line := Request{Method: MethodStatus, Name: "Player2"}.Line()
	if line != `{"method":"status","name":"Player2","action":""}`+"\n" {
		t.Fatalf("unexpected line: %q", line)
	}
	r, err = ParseRequest(line)
	if err != nil || r.Method != MethodStatus || r.Name != "Player2" {
		t.Fatalf("ParseRequest line: %+v %v", r, err)
	}

	r, err = ParseRequest(`{"method":"addPlayer","name":"O'Brien","action":""}`)
	if err != nil || r.Name != "O'Brien" {
		t.Fatalf("apostrophe in JSON value should survive: %+v %v", r, err)
	}
}

func TestParseRequestErrors(t *testing.T) {
	for _, s := range []string{"", "getState", `{"name":"Player1"}`} {
		if _, err := ParseRequest(s); !errors.Is(err, ErrParse) {
			t.Fatalf("expected ErrParse for %q, got %v", s, err)
		}
	}
}

func TestReplies(t *testing.T) {
	if got := SuccessReply("raise,call,fold"); got != `{"status":"Success","message":"raise,call,fold"}` {
		t.Fatalf("unexpected reply: %s", got)
	}
	r, err := ParseReply(`{"status" : "Success" , "message" : "Flop-State"}` + "\n")
	if err != nil || r.Message != "Flop-State" || r.Status != StatusSuccess {
		t.Fatalf("ParseReply: %+v %v", r, err)
	}
	r, err = ParseReply(`{"status":"Success","message":12}`)
	if err != nil || r.Message != "12" {
		t.Fatalf("ParseReply numeric: %+v %v", r, err)
	}
	if _, err := ParseReply(`{"status":"Success"}`); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse without message, got %v", err)
	}
	if _, err := ParseReply(`garbage`); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse for garbage, got %v", err)
	}
}
