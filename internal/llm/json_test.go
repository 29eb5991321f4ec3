package llm

import (
	"errors"
	"testing"
)

func TestCleanJSONResponse(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"leading prose", `Here is the outline: {"a": 1}`, `{"a": 1}`},
		{"trailing prose", `{"a": 1} Hope this helps!`, `{"a": 1}`},
		{"no json", "just words", "just words"},
	}
	for _, tc := range cases {
		if got := CleanJSONResponse(tc.in); got != tc.want {
			t.Errorf("%s: CleanJSONResponse = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDecodeStrict(t *testing.T) {
	type payload struct {
		Score int    `json:"score" validate:"min=1,max=10"`
		Title string `json:"title" validate:"required"`
	}

	var ok payload
	if err := DecodeStrict("```json\n{\"score\": 7, \"title\": \"The Ledger\"}\n```", &ok); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if ok.Score != 7 {
		t.Errorf("score = %d", ok.Score)
	}

	var bad payload
	err := DecodeStrict(`{"score": 40, "title": "x"}`, &bad)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("out-of-range field should fail validation, got %v", err)
	}

	bad = payload{}
	err = DecodeStrict(`{"score": 5}`, &bad)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("missing required field should fail validation, got %v", err)
	}

	err = DecodeStrict("the model wrote prose instead", &bad)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("prose should fail decoding, got %v", err)
	}

	if err := DecodeStrict("", &bad); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("empty response, got %v", err)
	}
}
