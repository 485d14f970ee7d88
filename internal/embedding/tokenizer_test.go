package embedding

import (
	"reflect"
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("unexpected lengths %d %d %d", len(ids), len(attn), len(types))
	}
	if ids[0] != clsToken {
		t.Errorf("expected CLS %d, got %d", clsToken, ids[0])
	}
	if ids[3] != sepToken {
		t.Errorf("expected SEP at 3, got %d", ids[3])
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Error("attention mask should cover CLS, words and SEP only")
	}
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	ids, _, _ := (&SimpleTokenizer{}).Tokenize("a b c d e f g h i j k", 5)
	if len(ids) != 5 || ids[4] != sepToken {
		t.Errorf("expected truncation with trailing SEP, got %v", ids)
	}
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"  a  b  c  ", []string{"a", "b", "c"}},
		{"", nil},
		{"parseHTTPRequest_v2", []string{"parse", "http", "request", "v2"}},
		{"def check_password(user):", []string{"def", "check", "password", "user"}},
		{"XMLParser", []string{"xml", "parser"}},
	}
	for _, tt := range tests {
		if got := SplitWords(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitWords(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("abc") < 0 {
		t.Error("hash should be non-negative")
	}
	if HashString("abc") == HashString("abd") {
		t.Error("different strings should usually hash differently")
	}
}
