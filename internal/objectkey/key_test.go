package objectkey_test

import (
	"errors"
	"testing"

	"gas/internal/objectkey"
	"gas/internal/services"
)

func TestParse(t *testing.T) {
	tests := []struct {
		key  string
		want objectkey.Key
	}{
		{"gas/U1/J1~sample.vcf", objectkey.Key{Prefix: "gas", UserID: "U1", JobID: "J1", FileName: "sample.vcf"}},
		{"gas/inputs/U1/J1~sample.vcf", objectkey.Key{Prefix: "gas/inputs", UserID: "U1", JobID: "J1", FileName: "sample.vcf"}},
		{"gas/U1/J1~a~b.vcf.annot", objectkey.Key{Prefix: "gas", UserID: "U1", JobID: "J1", FileName: "a~b.vcf.annot"}},
	}
	for _, tt := range tests {
		got, err := objectkey.Parse(tt.key)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", tt.key, err)
		}
		if got != tt.want {
			t.Fatalf("Parse(%q) = %+v, want %+v", tt.key, got, tt.want)
		}
		if got.String() != tt.key {
			t.Fatalf("round trip %q -> %q", tt.key, got.String())
		}
	}
}

func TestParseMalformed(t *testing.T) {
	for _, key := range []string{
		"",
		"J1~sample.vcf",
		"U1/J1~sample.vcf",
		"gas/U1/J1sample.vcf",
		"gas/U1/~sample.vcf",
		"gas/U1/J1~",
		"gas//J1~sample.vcf",
		"/U1/J1~sample.vcf",
	} {
		_, err := objectkey.Parse(key)
		if err == nil {
			t.Fatalf("expected error for %q", key)
		}
		var malformed *objectkey.MalformedKeyError
		if !errors.As(err, &malformed) {
			t.Fatalf("expected MalformedKeyError for %q, got %T", key, err)
		}
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected %q to classify as validation error", key)
		}
	}
}

func TestDerivedKeys(t *testing.T) {
	input, err := objectkey.Parse("uploads/U1/J1~sample.vcf")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := input.Result("gas").String(); got != "gas/U1/J1~sample.vcf.annot" {
		t.Fatalf("unexpected result key %q", got)
	}
	if got := input.Log("gas/").String(); got != "gas/U1/J1~sample.vcf.count.log" {
		t.Fatalf("unexpected log key %q", got)
	}
	if input.BaseName() != "J1~sample.vcf" {
		t.Fatalf("unexpected base name %q", input.BaseName())
	}
}
